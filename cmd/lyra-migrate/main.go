// Command lyra-migrate provisions the catalog table and migrates existing rows.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/jacentio/lyra/internal/config"
	"github.com/jacentio/lyra/internal/logger"
	"github.com/jacentio/lyra/migrate"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return 2
	}
	log, err := logger.New("lyra-migrate", cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return 2
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := config.NewDynamoDBClient(ctx, cfg)
	if err != nil {
		log.Error("failed to create dynamodb client", zap.Error(err))
		return 1
	}
	migrator, err := migrate.New(client, cfg.MigrateConfig(), log)
	if err != nil {
		log.Error("failed to create migrator", zap.Error(err))
		return 1
	}

	report, err := migrator.Run(ctx)
	for _, step := range report.Steps {
		log.Info("step summary",
			zap.String("step", step.Name),
			zap.Int("scanned", step.Scanned),
			zap.Int("updated", step.Updated),
			zap.Int("skipped", step.Skipped),
			zap.Int("failed", step.Failed),
			zap.Duration("duration", step.Duration),
		)
	}
	if err != nil {
		log.Error("migration aborted", zap.String("run_id", report.RunID), zap.Error(err))
		return 1
	}
	if failed := report.Failed(); failed > 0 {
		log.Error("migration finished with failed rows", zap.String("run_id", report.RunID), zap.Int("failed_rows", failed))
		return 1
	}
	return 0
}
