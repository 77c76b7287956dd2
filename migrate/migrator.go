// Package migrate provisions the catalog table and brings existing rows up to
// the current schema.
//
// A run executes an ordered list of steps. Table steps create the table,
// indexes and billing mode; backfill steps scan for rows still in a legacy
// shape and rewrite them one at a time. Every step skips work that is already
// done, so running the migrator again leaves the table unchanged.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jacentio/lyra/store"
)

// Step is one named unit of a migration run.
type Step struct {
	Name string
	Run  func(ctx context.Context, m *Migrator, result *StepResult) error
}

// StepResult counts the rows a step looked at and what it did with them.
type StepResult struct {
	Name     string
	Scanned  int
	Updated  int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// Report summarises a migration run.
type Report struct {
	RunID string
	Steps []StepResult
}

// Failed returns the number of rows that could not be migrated across all steps.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Failed
	}
	return n
}

// StepError is returned when a step cannot continue, e.g. a scan failed or a
// wait timed out. Row-level failures are counted instead.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Migrator provisions and migrates the catalog table.
type Migrator struct {
	client store.Client
	store  *store.Store
	config Config
	logger *zap.Logger
}

// New creates a Migrator. A nil logger discards all output.
func New(client store.Client, config Config, logger *zap.Logger) (*Migrator, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("migrate config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	storeConfig := store.DefaultConfig()
	storeConfig.TableName = config.TableName
	return &Migrator{
		client: client,
		store:  store.New(client, storeConfig, logger),
		config: config,
		logger: logger.With(zap.String("table", config.TableName)),
	}, nil
}

// Config returns the effective configuration.
func (m *Migrator) Config() Config {
	return m.config
}

// Run executes Steps in order.
func (m *Migrator) Run(ctx context.Context) (Report, error) {
	return m.RunSteps(ctx, Steps())
}

// RunSteps executes steps in order and stops at the first step error.
// The report includes the step that failed.
func (m *Migrator) RunSteps(ctx context.Context, steps []Step) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	logger := m.logger.With(zap.String("run_id", report.RunID))
	logger.Info("migration started", zap.Int("steps", len(steps)))

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return report, &StepError{Step: step.Name, Err: err}
		}

		logger.Info("migration step started", zap.String("step", step.Name))
		result := StepResult{Name: step.Name}
		started := time.Now()
		err := step.Run(ctx, m, &result)
		result.Duration = time.Since(started)
		report.Steps = append(report.Steps, result)

		if err != nil {
			logger.Error("migration step failed",
				zap.String("step", step.Name),
				zap.Duration("duration", result.Duration),
				zap.Error(err))
			return report, &StepError{Step: step.Name, Err: err}
		}
		logger.Info("migration step finished",
			zap.String("step", step.Name),
			zap.Int("scanned", result.Scanned),
			zap.Int("updated", result.Updated),
			zap.Int("skipped", result.Skipped),
			zap.Int("failed", result.Failed),
			zap.Duration("duration", result.Duration))
	}

	logger.Info("migration finished", zap.Int("failed_rows", report.Failed()))
	return report, nil
}

// rewriteFunc derives the update for one scanned row. ok is false when the
// row needs no change.
type rewriteFunc func(raw map[string]types.AttributeValue) (update expression.UpdateBuilder, ok bool, err error)

// backfill scans for rows matching filter and applies rewrite to each of them.
// A failed scan aborts the step; a failed row is logged and counted.
func (m *Migrator) backfill(ctx context.Context, result *StepResult, filter expression.ConditionBuilder, rewrite rewriteFunc) error {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return fmt.Errorf("build filter: %w", err)
	}
	paginator := dynamodb.NewScanPaginator(m.client, &dynamodb.ScanInput{
		TableName:                 aws.String(m.config.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ConsistentRead:            aws.Bool(true),
		Limit:                     aws.Int32(int32(m.config.ScanPageSize)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		for _, raw := range page.Items {
			result.Scanned++
			m.rewriteRow(ctx, result, raw, rewrite)
		}
	}
	return nil
}

func (m *Migrator) rewriteRow(ctx context.Context, result *StepResult, raw map[string]types.AttributeValue, rewrite rewriteFunc) {
	update, ok, err := rewrite(raw)
	if err != nil {
		result.Failed++
		m.logger.Error("failed to migrate row", append(rowFields(raw), zap.String("step", result.Name), zap.Error(err))...)
		return
	}
	if !ok {
		result.Skipped++
		m.logger.Debug("row needs no migration", append(rowFields(raw), zap.String("step", result.Name))...)
		return
	}

	expr, err := expression.NewBuilder().
		WithCondition(expression.AttributeExists(expression.NameNoDotSplit(store.AttrPartitionKey))).
		WithUpdate(update).
		Build()
	if err != nil {
		result.Failed++
		m.logger.Error("failed to build row update", append(rowFields(raw), zap.String("step", result.Name), zap.Error(err))...)
		return
	}
	_, err = m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(m.config.TableName),
		Key:                       store.KeyOf(raw),
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	var condErr *types.ConditionalCheckFailedException
	switch {
	case errors.As(err, &condErr):
		result.Skipped++
		m.logger.Debug("row removed before migration", append(rowFields(raw), zap.String("step", result.Name))...)
	case err != nil:
		result.Failed++
		m.logger.Error("failed to update row", append(rowFields(raw), zap.String("step", result.Name), zap.Error(err))...)
	default:
		result.Updated++
	}
}

func rowFields(raw map[string]types.AttributeValue) []zap.Field {
	return []zap.Field{
		zap.String("partition_key", stringAttr(raw, store.AttrPartitionKey)),
		zap.String("sort_key", stringAttr(raw, store.AttrSortKey)),
	}
}

func stringAttr(raw map[string]types.AttributeValue, name string) string {
	if v, ok := raw[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// describe returns the current table description.
func (m *Migrator) describe(ctx context.Context) (*types.TableDescription, error) {
	out, err := m.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(m.config.TableName)})
	if err != nil {
		return nil, err
	}
	return out.Table, nil
}

// waitFor polls the table description until ready reports true or
// WaitTimeout elapses.
func (m *Migrator) waitFor(ctx context.Context, what string, ready func(*types.TableDescription) bool) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.WaitTimeout)
	defer cancel()
	for {
		desc, err := m.describe(ctx)
		if err != nil {
			return fmt.Errorf("wait for %s: %w", what, err)
		}
		if ready(desc) {
			return nil
		}
		m.logger.Debug("waiting", zap.String("for", what))
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for %s: %w", what, ctx.Err())
		case <-time.After(m.config.PollInterval):
		}
	}
}

// waitForTableActive waits with the SDK waiter until the table is ACTIVE.
func (m *Migrator) waitForTableActive(ctx context.Context) error {
	waiter := dynamodb.NewTableExistsWaiter(m.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = m.config.PollInterval
		if o.MaxDelay < o.MinDelay {
			o.MaxDelay = o.MinDelay
		}
	})
	input := &dynamodb.DescribeTableInput{TableName: aws.String(m.config.TableName)}
	if err := waiter.Wait(ctx, input, m.config.WaitTimeout); err != nil {
		return fmt.Errorf("wait for table: %w", err)
	}
	return nil
}

func findIndex(desc *types.TableDescription, name string) *types.GlobalSecondaryIndexDescription {
	for i := range desc.GlobalSecondaryIndexes {
		if aws.ToString(desc.GlobalSecondaryIndexes[i].IndexName) == name {
			return &desc.GlobalSecondaryIndexes[i]
		}
	}
	return nil
}

// indexesSettled reports whether no index is being created or deleted.
func indexesSettled(desc *types.TableDescription) bool {
	for _, idx := range desc.GlobalSecondaryIndexes {
		if idx.IndexStatus != types.IndexStatusActive {
			return false
		}
	}
	return true
}
