package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/jacentio/lyra/internal/keys"
	"github.com/jacentio/lyra/store"
)

// Legacy indexes and attributes removed by the migration.
const (
	LegacyIndexEntityType         = "entity_type"
	LegacyIndexProductsByCategory = "products_by_category"

	LegacyAttrEntityType                  = "entity_type"
	LegacyAttrEntitySubtype               = "entity_subtype"
	LegacyAttrProductCategoryPartitionKey = "product.category_partition_key"
	LegacyAttrProductCategorySortKey      = "product.category_sort_key"
	LegacyAttrCopyrightIsMinted           = "copyright_token.is_minted"
	LegacyAttrProductDecimalPlaces        = "product.number_of_decimal_places"
)

// Steps returns the default migration steps in run order.
func Steps() []Step {
	return []Step{
		{Name: "ensure-table", Run: ensureTable},
		{Name: "on-demand-billing", Run: onDemandBilling},
		{Name: "backfill-trading-volume", Run: backfillTradingVolume},
		{Name: "ensure-indexes", Run: ensureIndexes},
		{Name: "drop-legacy-indexes", Run: dropLegacyIndexes},
		{Name: "seed-catalog", Run: seedCatalog},
		{Name: "migrate-contributors", Run: migrateContributors},
		{Name: "migrate-minted-flag", Run: migrateMintedFlag},
		{Name: "backfill-instrument-id", Run: backfillInstrumentID},
		{Name: "backfill-product-category", Run: backfillProductCategory},
		{Name: "backfill-product-index", Run: backfillIndex(store.IndexProducts, productRows(), "")},
		{Name: "backfill-instrument-index", Run: backfillIndex(store.IndexInstruments, instrumentRows(), "")},
		{Name: "backfill-instrument-status-index", Run: backfillIndex(store.IndexInstrumentStatus, instrumentRows(), store.AttrInstrumentStatus)},
		{Name: "backfill-product-status-index", Run: backfillIndex(store.IndexProductStatus, productRows(), store.AttrProductStatus)},
		{Name: "backfill-instrument-decimals", Run: backfillInstrumentDecimals},
		{Name: "repair-copyright-index-keys", Run: repairCopyrightIndexKeys},
	}
}

// productRows matches product rows of every tenant. The sort key check keeps
// out instrument rows of a tenant whose name is itself a product segment.
func productRows() expression.ConditionBuilder {
	return expression.Contains(expression.NameNoDotSplit(store.AttrPartitionKey), "#PRODUCT#").
		And(expression.NameNoDotSplit(store.AttrSortKey).NotEqual(expression.Value(keys.InstrumentSortKey)))
}

func instrumentRows() expression.ConditionBuilder {
	return expression.NameNoDotSplit(store.AttrSortKey).Equal(expression.Value(keys.InstrumentSortKey))
}

func copyrightTokenRows() expression.ConditionBuilder {
	return productRows().And(expression.NameNoDotSplit(store.AttrSortKey).Equal(expression.Value(string(store.CategoryCopyrightToken))))
}

func ensureTable(ctx context.Context, m *Migrator, result *StepResult) error {
	desc, err := m.describe(ctx)
	var notFound *types.ResourceNotFoundException
	switch {
	case errors.As(err, &notFound):
		m.logger.Info("creating table")
		if _, err := m.client.CreateTable(ctx, store.CreateTableInput(m.config.TableName)); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
		result.Updated++
	case err != nil:
		return fmt.Errorf("describe table: %w", err)
	case desc.TableStatus == types.TableStatusActive:
		result.Skipped++
		return nil
	}
	return m.waitForTableActive(ctx)
}

func onDemandBilling(ctx context.Context, m *Migrator, result *StepResult) error {
	desc, err := m.describe(ctx)
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	if desc.BillingModeSummary != nil && desc.BillingModeSummary.BillingMode == types.BillingModePayPerRequest {
		result.Skipped++
		return nil
	}
	m.logger.Info("switching table to on-demand billing")
	_, err = m.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
		TableName:   aws.String(m.config.TableName),
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		return fmt.Errorf("update billing mode: %w", err)
	}
	result.Updated++
	return m.waitForTableActive(ctx)
}

// backfillTradingVolume gives copyright tokens a trading volume and its sort
// key. A stored volume is kept and only its sort key is derived.
func backfillTradingVolume(ctx context.Context, m *Migrator, result *StepResult) error {
	filter := copyrightTokenRows().And(expression.Or(
		expression.AttributeNotExists(expression.NameNoDotSplit(store.AttrCopyrightTradingVolume)),
		expression.AttributeNotExists(expression.NameNoDotSplit(store.AttrCopyrightTradingVolumeSortKey)),
	))
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		attrs := make(map[string]types.AttributeValue, 2)
		volume := decimal.Zero
		if n, ok := raw[store.AttrCopyrightTradingVolume].(*types.AttributeValueMemberN); ok {
			v, err := decimal.NewFromString(n.Value)
			if err != nil {
				return expression.UpdateBuilder{}, false, fmt.Errorf("parse %s: %w", store.AttrCopyrightTradingVolume, err)
			}
			volume = v
		} else {
			attrs[store.AttrCopyrightTradingVolume] = &types.AttributeValueMemberN{Value: "0"}
		}
		attrs[store.AttrCopyrightTradingVolumeSortKey] = &types.AttributeValueMemberS{Value: keys.TradingVolumeSK(volume)}
		return store.SetAll(expression.UpdateBuilder{}, attrs), true, nil
	})
}

func ensureIndexes(ctx context.Context, m *Migrator, result *StepResult) error {
	desc, err := m.describe(ctx)
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	for _, idx := range store.Indexes() {
		result.Scanned++
		if existing := findIndex(desc, idx.Name); existing != nil {
			if existing.IndexStatus == types.IndexStatusActive {
				result.Skipped++
				continue
			}
		} else {
			if err := m.waitFor(ctx, "index changes to settle", indexesSettled); err != nil {
				return err
			}
			m.logger.Info("creating index", zap.String("index", idx.Name))
			_, err := m.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
				TableName:            aws.String(m.config.TableName),
				AttributeDefinitions: idx.AttributeDefinitions(),
				GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
					{Create: idx.CreateAction()},
				},
			})
			if err != nil {
				return fmt.Errorf("create index %s: %w", idx.Name, err)
			}
			result.Updated++
		}
		name := idx.Name
		err := m.waitFor(ctx, "index "+name, func(desc *types.TableDescription) bool {
			gsi := findIndex(desc, name)
			return gsi != nil && gsi.IndexStatus == types.IndexStatusActive
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func dropLegacyIndexes(ctx context.Context, m *Migrator, result *StepResult) error {
	desc, err := m.describe(ctx)
	if err != nil {
		return fmt.Errorf("describe table: %w", err)
	}
	for _, name := range []string{LegacyIndexEntityType, LegacyIndexProductsByCategory} {
		existing := findIndex(desc, name)
		if existing == nil {
			continue
		}
		if existing.IndexStatus != types.IndexStatusDeleting {
			if err := m.waitFor(ctx, "index changes to settle", indexesSettled); err != nil {
				return err
			}
			m.logger.Info("deleting legacy index", zap.String("index", name))
			_, err := m.client.UpdateTable(ctx, &dynamodb.UpdateTableInput{
				TableName: aws.String(m.config.TableName),
				GlobalSecondaryIndexUpdates: []types.GlobalSecondaryIndexUpdate{
					{Delete: &types.DeleteGlobalSecondaryIndexAction{IndexName: aws.String(name)}},
				},
			})
			if err != nil {
				return fmt.Errorf("delete index %s: %w", name, err)
			}
		}
		err := m.waitFor(ctx, "removal of index "+name, func(desc *types.TableDescription) bool {
			return findIndex(desc, name) == nil
		})
		if err != nil {
			return err
		}
	}

	legacy := []string{
		LegacyAttrEntityType,
		LegacyAttrEntitySubtype,
		LegacyAttrProductCategoryPartitionKey,
		LegacyAttrProductCategorySortKey,
	}
	filter := expression.AttributeExists(expression.NameNoDotSplit(legacy[0]))
	for _, name := range legacy[1:] {
		filter = filter.Or(expression.AttributeExists(expression.NameNoDotSplit(name)))
	}
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		return removeAll(raw, legacy...)
	})
}

// removeAll removes every present attribute of names.
func removeAll(raw map[string]types.AttributeValue, names ...string) (expression.UpdateBuilder, bool, error) {
	var update expression.UpdateBuilder
	found := false
	for _, name := range names {
		if _, ok := raw[name]; ok {
			update = update.Remove(expression.NameNoDotSplit(name))
			found = true
		}
	}
	return update, found, nil
}

// legacySongDetails carries the single-name credits that preceded contributor lists.
type legacySongDetails struct {
	store.SongDetails
	Owner               string `json:"owner"`
	Songwriter          string `json:"songwriter"`
	Composer            string `json:"composer"`
	Lyricist            string `json:"lyricist"`
	Producer            string `json:"producer"`
	Engineer            string `json:"engineer"`
	FeaturedArtist      string `json:"featuredArtist"`
	NonFeaturedMusician string `json:"nonFeaturedMusician"`
	NonFeaturedVocalist string `json:"nonFeaturedVocalist"`
}

// contributors folds the single-name credits into contributor lists.
// Legacy credits carry no profile, so the name is kept as the email.
func (d legacySongDetails) contributors() store.Contributors {
	credit := func(name string) []store.Contributor {
		if strings.TrimSpace(name) == "" {
			return nil
		}
		return []store.Contributor{{Email: name, Percentage: decimal.Zero}}
	}
	return store.Contributors{
		Owners:               credit(d.Owner),
		Songwriters:          credit(d.Songwriter),
		Producers:            credit(d.Producer),
		Engineers:            credit(d.Engineer),
		Composers:            credit(d.Composer),
		Lyricists:            credit(d.Lyricist),
		FeaturedArtists:      credit(d.FeaturedArtist),
		NonFeaturedMusicians: credit(d.NonFeaturedMusician),
		NonFeaturedVocalists: credit(d.NonFeaturedVocalist),
	}
}

func migrateContributors(ctx context.Context, m *Migrator, result *StepResult) error {
	songDetails := expression.NameNoDotSplit(store.AttrCopyrightSongDetails)
	filter := copyrightTokenRows().
		And(expression.AttributeExists(songDetails)).
		And(expression.Not(expression.Contains(songDetails, `"contributors"`))).
		And(expression.Not(expression.Contains(songDetails, `"Contributors"`)))
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		var legacy legacySongDetails
		if err := json.Unmarshal([]byte(stringAttr(raw, store.AttrCopyrightSongDetails)), &legacy); err != nil {
			return expression.UpdateBuilder{}, false, fmt.Errorf("decode song details: %w", err)
		}
		details := legacy.SongDetails
		details.Contributors = legacy.contributors()
		b, err := json.Marshal(details)
		if err != nil {
			return expression.UpdateBuilder{}, false, fmt.Errorf("encode song details: %w", err)
		}
		return expression.Set(songDetails, expression.Value(string(b))), true, nil
	})
}

func migrateMintedFlag(ctx context.Context, m *Migrator, result *StepResult) error {
	legacy := expression.NameNoDotSplit(LegacyAttrCopyrightIsMinted)
	return m.backfill(ctx, result, expression.AttributeExists(legacy), func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		var minted bool
		switch v := raw[LegacyAttrCopyrightIsMinted].(type) {
		case *types.AttributeValueMemberBOOL:
			minted = v.Value
		case *types.AttributeValueMemberS:
			b, err := strconv.ParseBool(v.Value)
			if err != nil {
				return expression.UpdateBuilder{}, false, fmt.Errorf("parse %s: %w", LegacyAttrCopyrightIsMinted, err)
			}
			minted = b
		default:
			return expression.UpdateBuilder{}, false, fmt.Errorf("unexpected %s type %T", LegacyAttrCopyrightIsMinted, v)
		}
		return expression.Set(expression.NameNoDotSplit(store.AttrProductIsMinted), expression.Value(minted)).Remove(legacy), true, nil
	})
}

func backfillInstrumentID(ctx context.Context, m *Migrator, result *StepResult) error {
	filter := productRows().
		And(expression.AttributeExists(expression.NameNoDotSplit(store.AttrProductID))).
		And(expression.AttributeNotExists(expression.NameNoDotSplit(store.AttrProductInstrumentID)))
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		productID := stringAttr(raw, store.AttrProductID)
		if productID == "" {
			return expression.UpdateBuilder{}, false, nil
		}
		return expression.Set(expression.NameNoDotSplit(store.AttrProductInstrumentID), expression.Value(productID)), true, nil
	})
}

func backfillProductCategory(ctx context.Context, m *Migrator, result *StepResult) error {
	filter := productRows().And(expression.AttributeNotExists(expression.NameNoDotSplit(store.AttrProductCategory)))
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		category, ok := store.ParseCategory(stringAttr(raw, store.AttrSortKey))
		if !ok {
			return expression.UpdateBuilder{}, false, nil
		}
		return expression.Set(expression.NameNoDotSplit(store.AttrProductCategory), expression.Value(string(category))), true, nil
	})
}

// backfillIndex writes the key attributes of index onto rows that lack them.
// When statusAttr is set, a missing status is written as enabled alongside.
func backfillIndex(index string, rows expression.ConditionBuilder, statusAttr string) func(context.Context, *Migrator, *StepResult) error {
	return func(ctx context.Context, m *Migrator, result *StepResult) error {
		def, ok := store.LookupIndex(index)
		if !ok {
			return fmt.Errorf("unknown index %s", index)
		}
		filter := rows.And(expression.Or(
			expression.AttributeNotExists(expression.NameNoDotSplit(def.PartitionKey)),
			expression.AttributeNotExists(expression.NameNoDotSplit(def.SortKey)),
		))
		return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
			expected, err := store.ExpectedKeyAttributes(raw)
			if errors.Is(err, store.ErrUnmapped) {
				return expression.UpdateBuilder{}, false, nil
			}
			if err != nil {
				return expression.UpdateBuilder{}, false, err
			}
			attrs := map[string]types.AttributeValue{
				def.PartitionKey: expected[def.PartitionKey],
				def.SortKey:      expected[def.SortKey],
			}
			if _, present := raw[statusAttr]; statusAttr != "" && !present {
				attrs[statusAttr] = &types.AttributeValueMemberN{Value: strconv.Itoa(int(store.StatusEnabled))}
			}
			return store.SetAll(expression.UpdateBuilder{}, attrs), true, nil
		})
	}
}

// repairCopyrightIndexKeys rewrites the derived index keys of copyright tokens
// that disagree with their fields, such as unpadded trading volume sort keys.
func repairCopyrightIndexKeys(ctx context.Context, m *Migrator, result *StepResult) error {
	return m.backfill(ctx, result, copyrightTokenRows(), func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		drift, err := store.IndexDrift(raw)
		switch {
		case errors.Is(err, store.ErrUnmapped):
			return expression.UpdateBuilder{}, false, nil
		case err != nil:
			return expression.UpdateBuilder{}, false, err
		case len(drift) == 0:
			return expression.UpdateBuilder{}, false, nil
		}
		return store.SetAll(expression.UpdateBuilder{}, drift), true, nil
	})
}

func backfillInstrumentDecimals(ctx context.Context, m *Migrator, result *StepResult) error {
	legacyDecimals, err := m.legacyDecimalPlaces(ctx)
	if err != nil {
		return err
	}

	filter := instrumentRows().And(expression.AttributeNotExists(expression.NameNoDotSplit(store.AttrInstrumentDecimalPlaces)))
	err = m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		id := stringAttr(raw, store.AttrInstrumentID)
		if id == "" {
			return expression.UpdateBuilder{}, false, fmt.Errorf("%w: instrument row has no %s", store.ErrUnmapped, store.AttrInstrumentID)
		}
		decimals, ok := legacyDecimals[stringAttr(raw, store.AttrPartitionKey)]
		if !ok {
			decimals = DefaultDecimalPlaces(id)
		}
		return expression.Set(expression.NameNoDotSplit(store.AttrInstrumentDecimalPlaces), expression.Value(decimals)), true, nil
	})
	if err != nil {
		return err
	}

	filter = productRows().And(expression.AttributeExists(expression.NameNoDotSplit(LegacyAttrProductDecimalPlaces)))
	return m.backfill(ctx, result, filter, func(raw map[string]types.AttributeValue) (expression.UpdateBuilder, bool, error) {
		return removeAll(raw, LegacyAttrProductDecimalPlaces)
	})
}

// legacyDecimalPlaces collects the decimal places still stored on product
// rows, keyed by the partition key of the instrument they belong to.
func (m *Migrator) legacyDecimalPlaces(ctx context.Context) (map[string]int, error) {
	filter := productRows().And(expression.AttributeExists(expression.NameNoDotSplit(LegacyAttrProductDecimalPlaces)))
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	out := make(map[string]int)
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
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, raw := range page.Items {
			tenant, err := keys.TenantFromPartitionKey(stringAttr(raw, store.AttrPartitionKey))
			if err != nil {
				continue
			}
			instrumentID := stringAttr(raw, store.AttrProductInstrumentID)
			if instrumentID == "" {
				instrumentID = stringAttr(raw, store.AttrProductID)
			}
			n, ok := raw[LegacyAttrProductDecimalPlaces].(*types.AttributeValueMemberN)
			if !ok {
				continue
			}
			decimals, err := strconv.Atoi(n.Value)
			if err != nil {
				continue
			}
			out[keys.InstrumentPK(tenant, instrumentID)] = decimals
		}
	}
	return out, nil
}

// DefaultDecimalPlaces returns the decimal places assumed for an instrument
// whose row predates the attribute.
func DefaultDecimalPlaces(instrumentID string) int {
	id, err := keys.ParseInstrumentID(instrumentID)
	if err != nil {
		return 6
	}
	switch {
	case id.Subtype == "fiat" || id.Subtype == "simple":
		return 2
	case id.Symbol == "USDT" || id.Symbol == "USDC":
		return 2
	case id.Symbol == "DGD" || id.Symbol == "CTC":
		return 4
	default:
		return 6
	}
}
