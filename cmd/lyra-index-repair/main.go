// Command lyra-index-repair is the Lambda that repairs index key drift from
// the catalog table's stream.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"github.com/jacentio/lyra/internal/config"
	"github.com/jacentio/lyra/internal/logger"
	"github.com/jacentio/lyra/store"
	"github.com/jacentio/lyra/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New("lyra-index-repair", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	client, err := config.NewDynamoDBClient(context.Background(), cfg)
	if err != nil {
		log.Fatal("failed to create dynamodb client", zap.Error(err))
	}
	handler := stream.NewHandler(store.New(client, cfg.StoreConfig(), log), log)

	log.Info("starting index repair handler", zap.String("table", cfg.TableName))
	lambda.Start(handler.HandleIndexRepair)
}
