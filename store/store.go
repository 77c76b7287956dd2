package store

import (
	"context"
	"errors"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

const conditionalCheckFailed = "ConditionalCheckFailed"

// Store provides the product catalog operations over a single DynamoDB table.
type Store struct {
	client Client
	config Config
	logger *zap.Logger
}

// New creates a new Store instance. A nil logger discards all output.
func New(client Client, config Config, logger *zap.Logger) *Store {
	config.validate()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		config: config,
		logger: logger.With(zap.String("table", config.TableName)),
	}
}

// Config returns the effective configuration.
func (s *Store) Config() Config {
	return s.config
}

// Client returns the underlying DynamoDB client.
func (s *Store) Client() Client {
	return s.client
}

// queryAll follows every page of a query.
func (s *Store) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewQueryPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logAPIError("query", err)
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// scanAll follows every page of a filtered table scan.
func (s *Store) scanAll(ctx context.Context, filter expression.ConditionBuilder) ([]map[string]types.AttributeValue, error) {
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, err
	}
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.config.TableName),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logAPIError("scan", err)
			return nil, err
		}
		items = append(items, page.Items...)
	}
	return items, nil
}

// queryIndex follows every page of an index query.
func (s *Store) queryIndex(ctx context.Context, index string, keyCond expression.KeyConditionBuilder, forward bool) ([]map[string]types.AttributeValue, error) {
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, err
	}
	return s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		IndexName:                 aws.String(index),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(forward),
	})
}

// isConditionFailure reports whether err is a failed condition, raised
// either directly or as a transaction cancellation reason.
func isConditionFailure(err error) bool {
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == conditionalCheckFailed {
				return true
			}
		}
	}
	return false
}

// mapConditionError translates a failed condition into target and returns
// every other error unchanged.
func (s *Store) mapConditionError(op string, err error, target error) error {
	if err == nil {
		return nil
	}
	if isConditionFailure(err) {
		return target
	}
	s.logAPIError(op, err)
	return err
}

func (s *Store) logAPIError(op string, err error) {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		s.logger.Warn("dynamodb call failed",
			zap.String("op", op),
			zap.String("code", apiErr.ErrorCode()),
			zap.Error(err))
		return
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("dynamodb call failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *Store) logUnmapped(raw map[string]types.AttributeValue, err error) {
	s.logger.Warn("skipping unmapped record",
		zap.String("partition_key", getString(raw, AttrPartitionKey)),
		zap.String("sort_key", getString(raw, AttrSortKey)),
		zap.String("category", getString(raw, AttrProductCategory)),
		zap.Error(err))
}

// rawValue passes an already encoded attribute through the expression builder.
type rawValue struct {
	av types.AttributeValue
}

func (v rawValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return v.av, nil
}

// AttrValue wraps an encoded attribute for use as an expression operand.
func AttrValue(av types.AttributeValue) expression.ValueBuilder {
	return expression.Value(rawValue{av: av})
}

// SetAll adds a SET action per attribute to update, in name order so that
// retried requests render identical expressions.
func SetAll(update expression.UpdateBuilder, attrs map[string]types.AttributeValue) expression.UpdateBuilder {
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		update = update.Set(expression.NameNoDotSplit(name), AttrValue(attrs[name]))
	}
	return update
}

func clientRequestToken(token string) *string {
	if token == "" {
		return nil
	}
	return aws.String(token)
}
