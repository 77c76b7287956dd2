package stream_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jacentio/lyra/internal/ddbfake"
	"github.com/jacentio/lyra/internal/keys"
	"github.com/jacentio/lyra/store"
	"github.com/jacentio/lyra/stream"
)

const (
	testTable  = "lyra-stream-test"
	testTenant = "acme"
)

func newTestHandler(t *testing.T, logger *zap.Logger) (*stream.Handler, *store.Store, *ddbfake.Client) {
	t.Helper()
	fake := ddbfake.New()
	_, err := fake.CreateTable(context.Background(), store.CreateTableInput(testTable))
	require.NoError(t, err)

	cfg := store.DefaultConfig()
	cfg.TableName = testTable
	s := store.New(fake, cfg, logger)
	return stream.NewHandler(s, logger), s, fake
}

// streamImage renders a stored row the way DynamoDB Streams delivers it.
func streamImage(t *testing.T, raw map[string]types.AttributeValue) map[string]events.DynamoDBAttributeValue {
	t.Helper()
	out := make(map[string]events.DynamoDBAttributeValue, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case *types.AttributeValueMemberS:
			out[k] = events.NewStringAttribute(v.Value)
		case *types.AttributeValueMemberN:
			out[k] = events.NewNumberAttribute(v.Value)
		case *types.AttributeValueMemberBOOL:
			out[k] = events.NewBooleanAttribute(v.Value)
		default:
			t.Fatalf("unexpected attribute type %T for %s", v, k)
		}
	}
	return out
}

func record(t *testing.T, name events.DynamoDBOperationType, raw map[string]types.AttributeValue) events.DynamoDBEventRecord {
	t.Helper()
	return events.DynamoDBEventRecord{
		EventID:   "event-" + string(name),
		EventName: string(name),
		Change: events.DynamoDBStreamRecord{
			Keys:     streamImage(t, store.KeyOf(raw)),
			NewImage: streamImage(t, raw),
		},
	}
}

func productKey(productID string, category store.Category) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		store.AttrPartitionKey: &types.AttributeValueMemberS{Value: keys.ProductPK(testTenant, productID)},
		store.AttrSortKey:      &types.AttributeValueMemberS{Value: string(category)},
	}
}

// driftedCrypto stores a crypto whose status index key disagrees with its status.
func driftedCrypto(t *testing.T, s *store.Store, fake *ddbfake.Client, productID string) map[string]types.AttributeValue {
	t.Helper()
	require.NoError(t, s.AddProduct(context.Background(), testTenant, store.Crypto{
		ProductInfo: store.ProductInfo{ProductID: productID},
	}, ""))
	raw := fake.Item(testTable, productKey(productID, store.CategoryCrypto))
	require.NotNil(t, raw)
	raw[store.AttrProductStatusPartitionKey] = &types.AttributeValueMemberS{Value: keys.TenantStatus(testTenant, int(store.StatusDisabled))}
	require.NoError(t, fake.Put(testTable, raw))
	return raw
}

// --- Handler Tests ---

func TestNewHandler(t *testing.T) {
	h := stream.NewHandler(nil, nil)
	assert.NotNil(t, h)
}

func TestHandleIndexRepair_RepairsDrift(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h, s, fake := newTestHandler(t, zap.New(core))
	ctx := context.Background()
	raw := driftedCrypto(t, s, fake, "crypto.coin.BTC")

	page, err := s.ListEnabledProductsPaginated(ctx, testTenant, 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Items, "the drifted row is missing from the enabled index")

	err = h.HandleIndexRepair(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{record(t, events.DynamoDBOperationTypeModify, raw)},
	})
	require.NoError(t, err)

	repaired := fake.Item(testTable, productKey("crypto.coin.BTC", store.CategoryCrypto))
	assert.Equal(t, &types.AttributeValueMemberS{Value: keys.TenantStatus(testTenant, int(store.StatusEnabled))},
		repaired[store.AttrProductStatusPartitionKey])

	page, err = s.ListEnabledProductsPaginated(ctx, testTenant, 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	entries := logs.FilterMessage("repaired index drift").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "event-MODIFY", entries[0].ContextMap()["event_id"])
}

func TestHandleIndexRepair_InsertIsRepairedToo(t *testing.T) {
	h, s, fake := newTestHandler(t, zaptest.NewLogger(t))
	raw := driftedCrypto(t, s, fake, "crypto.coin.ETH")

	err := h.HandleIndexRepair(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{record(t, events.DynamoDBOperationTypeInsert, raw)},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Calls("UpdateItem"))
}

func TestHandleIndexRepair_IgnoresRemoveAndConsistentRows(t *testing.T) {
	h, s, fake := newTestHandler(t, zaptest.NewLogger(t))
	ctx := context.Background()
	drifted := driftedCrypto(t, s, fake, "crypto.coin.BTC")

	require.NoError(t, s.AddInstrument(ctx, testTenant, store.Instrument{ID: "currency.fiat.EUR", Name: "Euro", NumberOfDecimalPlaces: 2}, ""))
	consistent := fake.Item(testTable, map[string]types.AttributeValue{
		store.AttrPartitionKey: &types.AttributeValueMemberS{Value: keys.InstrumentPK(testTenant, "currency.fiat.EUR")},
		store.AttrSortKey:      &types.AttributeValueMemberS{Value: keys.InstrumentSortKey},
	})
	require.NotNil(t, consistent)

	remove := record(t, events.DynamoDBOperationTypeRemove, drifted)
	remove.Change.OldImage, remove.Change.NewImage = remove.Change.NewImage, nil

	err := h.HandleIndexRepair(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			remove,
			record(t, events.DynamoDBOperationTypeModify, consistent),
		},
	})
	require.NoError(t, err)
	assert.Zero(t, fake.Calls("UpdateItem"))
}

func TestHandleIndexRepair_LogsKeysOfRemovedRecords(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h, s, fake := newTestHandler(t, zap.New(core))
	drifted := driftedCrypto(t, s, fake, "crypto.coin.BTC")

	remove := record(t, events.DynamoDBOperationTypeRemove, drifted)
	remove.Change.OldImage, remove.Change.NewImage = remove.Change.NewImage, nil

	require.NoError(t, h.HandleIndexRepair(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{remove},
	}))
	assert.Zero(t, fake.Calls("UpdateItem"))

	entries := logs.FilterMessage("ignoring removed record").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, keys.ProductPK(testTenant, "crypto.coin.BTC"), fields["partition_key"])
	assert.Equal(t, string(store.CategoryCrypto), fields["sort_key"])
}

func TestHandleIndexRepair_SkipsUnmappedRecords(t *testing.T) {
	h, _, fake := newTestHandler(t, zaptest.NewLogger(t))

	unmapped := map[string]types.AttributeValue{
		store.AttrPartitionKey: &types.AttributeValueMemberS{Value: keys.ProductPK(testTenant, "widget.thing.X")},
		store.AttrSortKey:      &types.AttributeValueMemberS{Value: "WIDGET"},
	}
	err := h.HandleIndexRepair(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{record(t, events.DynamoDBOperationTypeInsert, unmapped)},
	})
	require.NoError(t, err)
	assert.Zero(t, fake.Calls("UpdateItem"))
}

func TestHandleIndexRepair_DeletedRowIsSkipped(t *testing.T) {
	h, s, fake := newTestHandler(t, zaptest.NewLogger(t))
	ctx := context.Background()
	raw := driftedCrypto(t, s, fake, "crypto.coin.BTC")
	require.NoError(t, s.RemoveProduct(ctx, testTenant, "crypto.coin.BTC", store.CategoryCrypto))

	err := h.HandleIndexRepair(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{record(t, events.DynamoDBOperationTypeModify, raw)},
	})
	require.NoError(t, err)
	assert.Nil(t, fake.Item(testTable, productKey("crypto.coin.BTC", store.CategoryCrypto)))
}

func TestHandleIndexRepair_ReturnsFirstErrorAndContinues(t *testing.T) {
	h, s, fake := newTestHandler(t, zaptest.NewLogger(t))
	ctx := context.Background()
	failing := driftedCrypto(t, s, fake, "crypto.coin.BTC")
	other := driftedCrypto(t, s, fake, "crypto.coin.ETH")

	boom := errors.New("throttled")
	failingPK := keys.ProductPK(testTenant, "crypto.coin.BTC")
	fake.Intercept = func(op string, input any) error {
		if in, ok := input.(*dynamodb.UpdateItemInput); ok && op == "UpdateItem" {
			if pk, ok := in.Key[store.AttrPartitionKey].(*types.AttributeValueMemberS); ok && pk.Value == failingPK {
				return boom
			}
		}
		return nil
	}

	err := h.HandleIndexRepair(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{
			record(t, events.DynamoDBOperationTypeModify, failing),
			record(t, events.DynamoDBOperationTypeModify, other),
		},
	})
	assert.ErrorIs(t, err, boom)

	repaired := fake.Item(testTable, productKey("crypto.coin.ETH", store.CategoryCrypto))
	drift, err := store.IndexDrift(repaired)
	require.NoError(t, err)
	assert.Empty(t, drift)
}

// --- Conversion Tests ---

func TestConvertImage(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"name":    events.NewStringAttribute("BTC"),
		"count":   events.NewNumberAttribute("42"),
		"blob":    events.NewBinaryAttribute([]byte{1, 2}),
		"flag":    events.NewBooleanAttribute(true),
		"nothing": events.NewNullAttribute(),
		"tags":    events.NewStringSetAttribute([]string{"a", "b"}),
		"sizes":   events.NewNumberSetAttribute([]string{"1", "2"}),
		"blobs":   events.NewBinarySetAttribute([][]byte{{3}}),
		"list": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewStringAttribute("x"),
			events.NewNumberAttribute("7"),
		}),
		"nested": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"inner": events.NewBooleanAttribute(false),
		}),
	}

	got, err := stream.ConvertImage(image)
	require.NoError(t, err)
	assert.Equal(t, map[string]types.AttributeValue{
		"name":    &types.AttributeValueMemberS{Value: "BTC"},
		"count":   &types.AttributeValueMemberN{Value: "42"},
		"blob":    &types.AttributeValueMemberB{Value: []byte{1, 2}},
		"flag":    &types.AttributeValueMemberBOOL{Value: true},
		"nothing": &types.AttributeValueMemberNULL{Value: true},
		"tags":    &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"sizes":   &types.AttributeValueMemberNS{Value: []string{"1", "2"}},
		"blobs":   &types.AttributeValueMemberBS{Value: [][]byte{{3}}},
		"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{
			&types.AttributeValueMemberS{Value: "x"},
			&types.AttributeValueMemberN{Value: "7"},
		}},
		"nested": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"inner": &types.AttributeValueMemberBOOL{Value: false},
		}},
	}, got)
}

func TestConvertImage_Empty(t *testing.T) {
	got, err := stream.ConvertImage(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestConvertStreamKey(t *testing.T) {
	streamKey := map[string]events.DynamoDBAttributeValue{
		"partition_key": events.NewStringAttribute("TENANT#acme#PRODUCT#CRYPTO.COIN.BTC"),
		"sort_key":      events.NewStringAttribute("CRYPTO"),
		"version":       events.NewNumberAttribute("42"),
		"ignored":       events.NewBooleanAttribute(true),
	}

	key := stream.ConvertStreamKey(streamKey)
	assert.Equal(t, map[string]types.AttributeValue{
		"partition_key": &types.AttributeValueMemberS{Value: "TENANT#acme#PRODUCT#CRYPTO.COIN.BTC"},
		"sort_key":      &types.AttributeValueMemberS{Value: "CRYPTO"},
		"version":       &types.AttributeValueMemberN{Value: "42"},
	}, key)
}
