package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lyra/internal/keys"
)

// GetInstrument returns the instrument with the given ID.
// A missing instrument is reported with found=false and no error.
func (s *Store) GetInstrument(ctx context.Context, tenant, instrumentID string) (Instrument, bool, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Instrument{}, false, err
	}
	id, err := keys.ParseInstrumentID(instrumentID)
	if err != nil {
		return Instrument{}, false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.TableName),
		Key:       primaryKey(keys.InstrumentPK(tenant, id.String()), keys.InstrumentSortKey),
	})
	if err != nil {
		s.logAPIError("get_item", err)
		return Instrument{}, false, err
	}
	if out.Item == nil {
		return Instrument{}, false, nil
	}
	inst, err := DecodeInstrument(out.Item)
	if err != nil {
		return Instrument{}, false, err
	}
	return inst, true, nil
}

// GetProduct returns the product with the given ID, whatever its variant.
// A missing product is reported with found=false and no error.
// When the ID is stored under more than one category, the first match in
// sort-key order wins, i.e. the category that sorts first.
func (s *Store) GetProduct(ctx context.Context, tenant, productID string) (Product, bool, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, false, err
	}
	id, err := keys.ParseProductID(productID)
	if err != nil {
		return nil, false, err
	}
	keyCond := expression.Key(AttrPartitionKey).Equal(expression.Value(keys.ProductPK(tenant, id.String())))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, false, err
	}
	items, err := s.queryAll(ctx, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return nil, false, err
	}
	if len(items) == 0 {
		return nil, false, nil
	}
	p, err := DecodeProduct(items[0])
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// GetProductAs returns the product with the given ID as variant T.
// A stored product of another variant yields ErrUnexpectedVariant.
func GetProductAs[T Product](ctx context.Context, s *Store, tenant, productID string) (T, bool, error) {
	var zero T
	p, found, err := s.GetProduct(ctx, tenant, productID)
	if err != nil || !found {
		return zero, found, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, false, fmt.Errorf("%w: %s is %s, not %s", ErrUnexpectedVariant, productID, p.Category(), zero.Category())
	}
	return v, true, nil
}

// ListAllProducts scans the table for every product of the tenant.
// Cost grows with the size of the whole table.
func (s *Store) ListAllProducts(ctx context.Context, tenant string) ([]Product, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.scanAll(ctx, expression.NameNoDotSplit(AttrPartitionKey).BeginsWith(keys.ProductPrefix(tenant)))
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, DecodeProduct), nil
}

// ListAllInstruments scans the table for every instrument of the tenant.
// Cost grows with the size of the whole table.
func (s *Store) ListAllInstruments(ctx context.Context, tenant string) ([]Instrument, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	rows, err := s.scanAll(ctx, expression.NameNoDotSplit(AttrPartitionKey).BeginsWith(keys.InstrumentPrefix(tenant)))
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, DecodeInstrument), nil
}

// ListProductsOf scans the table for every product of variant T.
func ListProductsOf[T Product](ctx context.Context, s *Store, tenant string) ([]T, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	var zero T
	filter := expression.NameNoDotSplit(AttrPartitionKey).BeginsWith(keys.ProductPrefix(tenant)).
		And(expression.NameNoDotSplit(AttrProductCategory).Equal(expression.Value(string(zero.Category()))))
	rows, err := s.scanAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, decodeAs[T]), nil
}

// ListProductsByType returns every product of a category in product ID order.
func (s *Store) ListProductsByType(ctx context.Context, tenant string, category Category) ([]Product, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	cat, ok := ParseCategory(string(category))
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, category)
	}
	keyCond := expression.Key(AttrProductsPartitionKey).Equal(expression.Value(keys.Tenant(tenant))).
		And(expression.Key(AttrProductsSortKey).BeginsWith(keys.CategoryPrefix(string(cat))))
	rows, err := s.queryIndex(ctx, IndexProducts, keyCond, true)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, DecodeProduct), nil
}

// ListProductsPaginated pages through the products of the tenant in category
// then product ID order. An empty category lists every category.
func (s *Store) ListProductsPaginated(ctx context.Context, tenant string, category Category, pageSize int, token string) (Page[Product], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Page[Product]{}, err
	}
	keyCond := expression.Key(AttrProductsPartitionKey).Equal(expression.Value(keys.Tenant(tenant)))
	if category != "" {
		cat, ok := ParseCategory(string(category))
		if !ok {
			return Page[Product]{}, fmt.Errorf("%w: unknown category %q", ErrInvalidEntity, category)
		}
		keyCond = keyCond.And(expression.Key(AttrProductsSortKey).BeginsWith(keys.CategoryPrefix(string(cat))))
	}
	return paginate(ctx, s, IndexProducts, keyCond, false, pageSize, token, DecodeProduct)
}

// ListEnabledProductsPaginated pages through the enabled products of the tenant.
func (s *Store) ListEnabledProductsPaginated(ctx context.Context, tenant string, pageSize int, token string) (Page[Product], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Page[Product]{}, err
	}
	keyCond := expression.Key(AttrProductStatusPartitionKey).Equal(expression.Value(keys.TenantStatus(tenant, int(StatusEnabled))))
	return paginate(ctx, s, IndexProductStatus, keyCond, false, pageSize, token, DecodeProduct)
}

// ListInstrumentsPaginated pages through the instruments of the tenant in ID order.
func (s *Store) ListInstrumentsPaginated(ctx context.Context, tenant string, pageSize int, token string) (Page[Instrument], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Page[Instrument]{}, err
	}
	keyCond := expression.Key(AttrInstrumentsPartitionKey).Equal(expression.Value(keys.Tenant(tenant)))
	return paginate(ctx, s, IndexInstruments, keyCond, false, pageSize, token, DecodeInstrument)
}

// ListEnabledInstrumentsPaginated pages through the enabled instruments of the tenant.
func (s *Store) ListEnabledInstrumentsPaginated(ctx context.Context, tenant string, pageSize int, token string) (Page[Instrument], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Page[Instrument]{}, err
	}
	keyCond := expression.Key(AttrInstrumentStatusPartitionKey).Equal(expression.Value(keys.TenantStatus(tenant, int(StatusEnabled))))
	return paginate(ctx, s, IndexInstrumentStatus, keyCond, false, pageSize, token, DecodeInstrument)
}

// CopyrightTokensByCreator returns the copyright tokens of a creator.
func (s *Store) CopyrightTokensByCreator(ctx context.Context, tenant, creatorID string) ([]CopyrightToken, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	keyCond := expression.Key(AttrCopyrightCreatorPartitionKey).Equal(expression.Value(keys.CreatorPK(tenant, creatorID)))
	rows, err := s.queryIndex(ctx, IndexCopyrightTokensByCreatorID, keyCond, true)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, decodeAs[CopyrightToken]), nil
}

// CopyrightTokensByExternalMusicID returns the copyright tokens minted for a song.
func (s *Store) CopyrightTokensByExternalMusicID(ctx context.Context, tenant, externalMusicID string) ([]CopyrightToken, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	keyCond := expression.Key(AttrCopyrightExternalMusicPartitionKey).Equal(expression.Value(keys.ExternalMusicPK(tenant, externalMusicID)))
	rows, err := s.queryIndex(ctx, IndexCopyrightTokensByExternalMusicID, keyCond, true)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, decodeAs[CopyrightToken]), nil
}

// CopyrightTokensByExternalMusicIDs returns the copyright tokens of several songs,
// grouped in the order the IDs were given. Repeated IDs are queried once.
func (s *Store) CopyrightTokensByExternalMusicIDs(ctx context.Context, tenant string, externalMusicIDs []string) ([]CopyrightToken, error) {
	seen := make(map[string]struct{}, len(externalMusicIDs))
	var all []CopyrightToken
	for _, id := range externalMusicIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		tokens, err := s.CopyrightTokensByExternalMusicID(ctx, tenant, id)
		if err != nil {
			return nil, fmt.Errorf("external music id %s: %w", id, err)
		}
		all = append(all, tokens...)
	}
	return all, nil
}

// CopyrightTokensAvailableForSecondaryMarket returns every token open for trading.
func (s *Store) CopyrightTokensAvailableForSecondaryMarket(ctx context.Context, tenant string) ([]CopyrightToken, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	keyCond := expression.Key(AttrCopyrightMarketPartitionKey).Equal(expression.Value(keys.SecondaryMarketPK(tenant, true)))
	rows, err := s.queryIndex(ctx, IndexCopyrightTokensBySecondaryMarket, keyCond, true)
	if err != nil {
		return nil, err
	}
	return decodeAll(s, rows, decodeAs[CopyrightToken]), nil
}

// CopyrightTokensRankedByTradingVolume returns the tradable tokens from the
// highest trading volume down. A limit below 1 returns all of them.
func (s *Store) CopyrightTokensRankedByTradingVolume(ctx context.Context, tenant string, limit int) ([]CopyrightToken, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	keyCond := expression.Key(AttrCopyrightMarketPartitionKey).Equal(expression.Value(keys.SecondaryMarketPK(tenant, true))).
		And(expression.Key(AttrCopyrightTradingVolumeSortKey).BeginsWith(keys.TradingVolumePrefix))
	rows, err := s.queryIndex(ctx, IndexCopyrightTokensByTradingVolume, keyCond, false)
	if err != nil {
		return nil, err
	}
	tokens := decodeAll(s, rows, decodeAs[CopyrightToken])
	if limit > 0 && len(tokens) > limit {
		tokens = tokens[:limit]
	}
	return tokens, nil
}

// CopyrightTokensRankedByTradingVolumePaginated pages through the tradable
// tokens from the highest trading volume down.
func (s *Store) CopyrightTokensRankedByTradingVolumePaginated(ctx context.Context, tenant string, pageSize int, token string) (Page[CopyrightToken], error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Page[CopyrightToken]{}, err
	}
	keyCond := expression.Key(AttrCopyrightMarketPartitionKey).Equal(expression.Value(keys.SecondaryMarketPK(tenant, true))).
		And(expression.Key(AttrCopyrightTradingVolumeSortKey).BeginsWith(keys.TradingVolumePrefix))
	return paginate(ctx, s, IndexCopyrightTokensByTradingVolume, keyCond, true, pageSize, token, decodeAs[CopyrightToken])
}

func paginate[T any](ctx context.Context, s *Store, index string, keyCond expression.KeyConditionBuilder, descending bool, pageSize int, token string, decode func(map[string]types.AttributeValue) (T, error)) (Page[T], error) {
	def, ok := LookupIndex(index)
	if !ok {
		return Page[T]{}, fmt.Errorf("unknown index %q", index)
	}
	raw, err := s.readPage(ctx, pageQuery{index: def, keyCond: keyCond, descending: descending}, pageSize, token)
	if err != nil {
		return Page[T]{}, err
	}
	return mapPage(s, raw, decode), nil
}

// decodeAll maps rows, skipping and logging the ones that cannot be mapped.
func decodeAll[T any](s *Store, rows []map[string]types.AttributeValue, decode func(map[string]types.AttributeValue) (T, error)) []T {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := decode(row)
		if err != nil {
			s.logUnmapped(row, err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// decodeAs decodes a product row and requires it to be variant T.
func decodeAs[T Product](raw map[string]types.AttributeValue) (T, error) {
	var zero T
	p, err := DecodeProduct(raw)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %s, not %s", ErrUnexpectedVariant, p.Info().ProductID, p.Category(), zero.Category())
	}
	return v, nil
}

// IsUnmapped reports whether err stems from a record that matches no entity.
func IsUnmapped(err error) bool {
	return errors.Is(err, ErrUnmapped) || errors.Is(err, ErrUnexpectedVariant)
}
