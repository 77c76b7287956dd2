// Package stream provides DynamoDB Streams handlers for the catalog table.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/lyra/store"
)

// Handler processes DynamoDB stream events for index key repair.
type Handler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleIndexRepair rewrites derived index attributes that drifted from the
// fields of inserted or modified rows.
// Every record is attempted; the first failure is returned so the batch is retried.
func (h *Handler) HandleIndexRepair(ctx context.Context, event events.DynamoDBEvent) error {
	var first error
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("event_id", record.EventID),
				zap.String("event_name", record.EventName),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// processRecord repairs the row behind a single stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	switch events.DynamoDBOperationType(record.EventName) {
	case events.DynamoDBOperationTypeInsert, events.DynamoDBOperationTypeModify:
	case events.DynamoDBOperationTypeRemove:
		key := ConvertStreamKey(record.Change.Keys)
		h.logger.Debug("ignoring removed record",
			zap.String("event_id", record.EventID),
			zap.String("partition_key", keyString(key, store.AttrPartitionKey)),
			zap.String("sort_key", keyString(key, store.AttrSortKey)),
		)
		return nil
	default:
		return nil
	}
	if len(record.Change.NewImage) == 0 {
		return nil
	}

	image, err := ConvertImage(record.Change.NewImage)
	if err != nil {
		return fmt.Errorf("convert image: %w", err)
	}

	repaired, err := h.store.RepairIndexKeys(ctx, image)
	switch {
	case errors.Is(err, store.ErrUnmapped):
		h.logger.Debug("skipping unmapped record",
			zap.String("event_id", record.EventID),
			zap.Error(err),
		)
		return nil
	case errors.Is(err, store.ErrNotFound):
		// Deleted after the event; the REMOVE record follows.
		return nil
	case err != nil:
		return fmt.Errorf("repair index keys: %w", err)
	}

	if len(repaired) > 0 {
		h.logger.Info("repaired index drift",
			zap.String("event_id", record.EventID),
			zap.Strings("attributes", repaired),
		)
	}
	return nil
}

// ConvertImage converts a stream image to attribute values accepted by the
// DynamoDB client.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		av, err := convertValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func convertValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, len(list))
		for i, item := range list {
			av, err := convertValue(item)
			if err != nil {
				return nil, err
			}
			out[i] = av
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m, err := ConvertImage(v.Map())
		if err != nil {
			return nil, err
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	}
	return nil, fmt.Errorf("unsupported stream data type %d", v.DataType())
}

// ConvertStreamKey converts the key of a stream record to a primary key map.
// Attributes of non-key types are dropped.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(streamKey))
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}

func keyString(key map[string]types.AttributeValue, name string) string {
	if v, ok := key[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}
