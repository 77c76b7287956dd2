// Package config loads process configuration for the lyra binaries from the
// environment and an optional .env file.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/jacentio/lyra/migrate"
	"github.com/jacentio/lyra/store"
)

// Config is the process configuration shared by the lyra binaries.
type Config struct {
	Env      string `validate:"required,oneof=dev uat prod"`
	LogLevel string `validate:"required,oneof=debug info warn error"`

	TableName string   `validate:"required"`
	Tenants   []string `validate:"dive,required,excludesall=#"`

	SeedCatalog  bool
	WaitTimeout  time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`

	PageSize    int `validate:"gte=1,ltefield=MaxPageSize"`
	MaxPageSize int `validate:"gte=1,lte=1000"`

	AWSRegion        string
	AWSProfile       string
	DynamoDBEndpoint string `validate:"omitempty,url"`
}

var validate = validator.New()

// Load reads the configuration. A missing .env file is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	storeDefaults := store.DefaultConfig()
	migrateDefaults := migrate.DefaultConfig()

	var errs []error
	seed, err := getEnvBool("LYRA_SEED_CATALOG", false)
	errs = append(errs, err)
	waitTimeout, err := getEnvDuration("LYRA_WAIT_TIMEOUT", migrateDefaults.WaitTimeout)
	errs = append(errs, err)
	pollInterval, err := getEnvDuration("LYRA_POLL_INTERVAL", migrateDefaults.PollInterval)
	errs = append(errs, err)
	pageSize, err := getEnvInt("LYRA_PAGE_SIZE", storeDefaults.DefaultPageSize)
	errs = append(errs, err)
	maxPageSize, err := getEnvInt("LYRA_MAX_PAGE_SIZE", storeDefaults.MaxPageSize)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:              getEnv("LYRA_ENV", "prod"),
		LogLevel:         strings.ToLower(getEnv("LYRA_LOG_LEVEL", "info")),
		TableName:        getEnv("LYRA_TABLE_NAME", storeDefaults.TableName),
		Tenants:          getEnvList("LYRA_TENANTS"),
		SeedCatalog:      seed,
		WaitTimeout:      waitTimeout,
		PollInterval:     pollInterval,
		PageSize:         pageSize,
		MaxPageSize:      maxPageSize,
		AWSRegion:        os.Getenv("AWS_REGION"),
		AWSProfile:       os.Getenv("AWS_PROFILE"),
		DynamoDBEndpoint: os.Getenv("DYNAMODB_ENDPOINT"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StoreConfig returns the store settings.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		TableName:       c.TableName,
		DefaultPageSize: c.PageSize,
		MaxPageSize:     c.MaxPageSize,
	}
}

// MigrateConfig returns the migrator settings.
func (c *Config) MigrateConfig() migrate.Config {
	cfg := migrate.DefaultConfig()
	cfg.TableName = c.TableName
	cfg.Tenants = c.Tenants
	cfg.SeedCatalog = c.SeedCatalog
	cfg.WaitTimeout = c.WaitTimeout
	cfg.PollInterval = c.PollInterval
	return cfg
}

// NewDynamoDBClient builds a DynamoDB client from the default AWS credential
// chain. DynamoDBEndpoint points the client at a local DynamoDB.
func NewDynamoDBClient(ctx context.Context, c *Config) (*dynamodb.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if c.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(c.AWSRegion))
	}
	if c.AWSProfile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.AWSProfile))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(c.DynamoDBEndpoint)
		}
	}), nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
