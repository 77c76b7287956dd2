// Package ddbtest runs tests against DynamoDB Local.
//
// LYRA_DYNAMODB_LOCAL_ENDPOINT points the tests at a running instance, such as
// one started with docker compose. Otherwise a container is started with
// testcontainers and shared by every test of the package. Tests are skipped in
// short mode and when no container runtime is reachable.
package ddbtest

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jacentio/lyra/store"
)

const (
	// EndpointEnv overrides the container with an existing DynamoDB Local.
	EndpointEnv = "LYRA_DYNAMODB_LOCAL_ENDPOINT"

	image = "amazon/dynamodb-local:2.5.2"
	port  = "8000/tcp"
)

var (
	once     sync.Once
	endpoint string
	startErr error
)

// Client returns a client for DynamoDB Local, skipping t when none is available.
func Client(t *testing.T) *dynamodb.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping DynamoDB Local test in short mode")
	}
	url := os.Getenv(EndpointEnv)
	if url == "" {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		once.Do(func() { endpoint, startErr = start(context.Background()) })
		require.NoError(t, startErr, "start DynamoDB Local")
		url = endpoint
	}
	return dynamodb.New(dynamodb.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(url),
		Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
	})
}

// start launches the shared container. It is reaped by the testcontainers
// sidecar when the test binary exits.
func start(ctx context.Context) (string, error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        image,
			Cmd:          []string{"-jar", "DynamoDBLocal.jar", "-inMemory", "-sharedDb"},
			ExposedPorts: []string{port},
			WaitingFor:   wait.ForListeningPort(port),
		},
		Started: true,
	})
	if err != nil {
		return "", err
	}
	return container.PortEndpoint(ctx, port, "http")
}

// Table creates a catalog table with a unique name and deletes it when t ends.
func Table(t *testing.T, client store.Client) string {
	t.Helper()
	name := "lyra-test-" + uuid.NewString()[:8]
	_, err := client.CreateTable(context.Background(), store.CreateTableInput(name))
	require.NoError(t, err)
	t.Cleanup(func() {
		if c, ok := client.(*dynamodb.Client); ok {
			_, _ = c.DeleteTable(context.Background(), &dynamodb.DeleteTableInput{TableName: aws.String(name)})
		}
	})
	return name
}
