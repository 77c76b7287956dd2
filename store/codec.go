package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/jacentio/lyra/internal/keys"
)

func strAttr(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func numAttr(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }
func intAttr(v int) types.AttributeValue    { return &types.AttributeValueMemberN{Value: strconv.Itoa(v)} }
func boolAttr(v bool) types.AttributeValue  { return &types.AttributeValueMemberBOOL{Value: v} }

func decimalAttr(v decimal.Decimal) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: v.String()}
}

// encodeInstrument builds the full row of an instrument, index keys included.
// inst must already be normalised.
func encodeInstrument(tenant string, inst Instrument) map[string]types.AttributeValue {
	item := primaryKey(keys.InstrumentPK(tenant, inst.ID), keys.InstrumentSortKey)
	item[AttrInstrumentID] = strAttr(inst.ID)
	item[AttrInstrumentName] = strAttr(inst.Name)
	item[AttrInstrumentDecimalPlaces] = intAttr(inst.NumberOfDecimalPlaces)
	item[AttrInstrumentStatus] = intAttr(int(inst.Status.Normalize()))
	maps.Copy(item, instrumentKeyAttributes(tenant, inst))
	return item
}

// instrumentKeyAttributes derives the index key attributes of an instrument.
func instrumentKeyAttributes(tenant string, inst Instrument) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrInstrumentsPartitionKey:      strAttr(keys.Tenant(tenant)),
		AttrInstrumentsSortKey:           strAttr(keys.InstrumentIndexSK(inst.ID)),
		AttrInstrumentStatusPartitionKey: strAttr(keys.TenantStatus(tenant, int(inst.Status.Normalize()))),
		AttrInstrumentStatusSortKey:      strAttr(keys.InstrumentIndexSK(inst.ID)),
	}
}

// encodeProduct builds the full row of a product, index keys included.
// p must already be normalised.
func encodeProduct(tenant string, p Product) (map[string]types.AttributeValue, error) {
	info := p.Info()
	category := p.Category()

	item := primaryKey(keys.ProductPK(tenant, info.ProductID), keys.ProductSK(string(category)))
	item[AttrProductCategory] = strAttr(string(category))
	item[AttrProductID] = strAttr(info.ProductID)
	item[AttrProductInstrumentID] = strAttr(info.InstrumentID)
	item[AttrProductColor] = strAttr(info.Color)
	item[AttrProductIsMinted] = boolAttr(info.IsMinted)
	item[AttrProductStatus] = intAttr(int(info.Status.Normalize()))

	switch v := p.(type) {
	case Crypto:
		item[AttrCryptoExternalAssetID] = strAttr(v.ExternalAssetID)
	case Fiat, Simple:
	case ShareToken:
		item[AttrShareTokenName] = strAttr(v.Name)
		item[AttrShareTokenTicker] = strAttr(v.Ticker)
		item[AttrShareTokenDocumentURL] = strAttr(v.DocumentURL)
		item[AttrShareTokenIsDeployed] = boolAttr(v.IsDeployed)
		item[AttrShareTokenIsFrozen] = boolAttr(v.IsFrozen)
		item[AttrShareTokenBlockchainErrorMessage] = strAttr(v.BlockchainErrorMessage)
		item[AttrShareTokenTotalSupply] = decimalAttr(v.TotalSupply)
		item[AttrShareTokenExternalAssetID] = strAttr(v.ExternalAssetID)
		item[AttrShareTokenDecimalPlaces] = intAttr(v.NumberOfDecimalPlaces)
	case CopyrightToken:
		item[AttrCopyrightExternalMusicID] = strAttr(v.ExternalMusicID)
		item[AttrCopyrightCreatorID] = strAttr(v.CreatorID)
		item[AttrCopyrightIcon] = strAttr(v.Icon)
		item[AttrCopyrightSubType] = strAttr(string(v.SubType))
		item[AttrCopyrightOwnership] = strAttr(v.Ownership)
		item[AttrCopyrightAmount] = decimalAttr(v.Amount)
		item[AttrCopyrightAlreadyAuctionedAmount] = decimalAttr(v.AlreadyAuctionedAmount)
		item[AttrCopyrightAvailable] = boolAttr(v.AvailableForSecondaryMarket)
		item[AttrCopyrightTradingVolume] = decimalAttr(v.TradingVolume)
		if v.SongDetails != nil {
			details, err := encodeSongDetails(v.SongDetails)
			if err != nil {
				return nil, err
			}
			item[AttrCopyrightSongDetails] = details
		}
	default:
		return nil, fmt.Errorf("%w: unsupported product type %T", ErrInvalidEntity, p)
	}

	maps.Copy(item, productKeyAttributes(tenant, p))
	return item, nil
}

// productKeyAttributes derives the index key attributes of a product.
func productKeyAttributes(tenant string, p Product) map[string]types.AttributeValue {
	info := p.Info()
	category := string(p.Category())
	attrs := map[string]types.AttributeValue{
		AttrProductsPartitionKey:      strAttr(keys.Tenant(tenant)),
		AttrProductsSortKey:           strAttr(keys.ProductIndexSK(category, info.ProductID)),
		AttrProductStatusPartitionKey: strAttr(keys.TenantStatus(tenant, int(info.Status.Normalize()))),
		AttrProductStatusSortKey:      strAttr(keys.ProductIndexSK(category, info.ProductID)),
	}
	if ct, ok := p.(CopyrightToken); ok {
		attrs[AttrCopyrightCreatorPartitionKey] = strAttr(keys.CreatorPK(tenant, ct.CreatorID))
		attrs[AttrCopyrightCreatorSortKey] = strAttr(keys.CreatorSK(ct.CreatorID, info.ProductID))
		attrs[AttrCopyrightExternalMusicPartitionKey] = strAttr(keys.ExternalMusicPK(tenant, ct.ExternalMusicID))
		attrs[AttrCopyrightExternalMusicSortKey] = strAttr(keys.ExternalMusicSK(ct.ExternalMusicID, string(ct.SubType)))
		maps.Copy(attrs, marketKeyAttributes(tenant, info.ProductID, ct.AvailableForSecondaryMarket))
		attrs[AttrCopyrightTradingVolumeSortKey] = strAttr(keys.TradingVolumeSK(ct.TradingVolume))
	}
	return attrs
}

func marketKeyAttributes(tenant, productID string, available bool) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		AttrCopyrightMarketPartitionKey: strAttr(keys.SecondaryMarketPK(tenant, available)),
		AttrCopyrightMarketSortKey:      strAttr(keys.SecondaryMarketSK(productID)),
	}
}

func encodeSongDetails(d *SongDetails) (types.AttributeValue, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("marshal song details: %w", err)
	}
	return strAttr(string(b)), nil
}

// IsInstrumentRecord reports whether a raw row holds an instrument.
func IsInstrumentRecord(raw map[string]types.AttributeValue) bool {
	return getString(raw, AttrSortKey) == keys.InstrumentSortKey
}

// DecodeInstrument maps a raw row to an Instrument.
// Unparseable numeric fields fall back to zero decimals and StatusEnabled.
func DecodeInstrument(raw map[string]types.AttributeValue) (Instrument, error) {
	id := getString(raw, AttrInstrumentID)
	if id == "" {
		return Instrument{}, fmt.Errorf("%w: %s has no %s", ErrUnmapped, getString(raw, AttrPartitionKey), AttrInstrumentID)
	}
	return Instrument{
		ID:                    id,
		Name:                  getString(raw, AttrInstrumentName),
		NumberOfDecimalPlaces: getInt(raw, AttrInstrumentDecimalPlaces, 0),
		Status:                Status(getInt(raw, AttrInstrumentStatus, int(StatusEnabled))).Normalize(),
	}, nil
}

// DecodeProduct maps a raw row to its product variant.
// A missing or unknown category, or a missing product ID, yields ErrUnmapped.
func DecodeProduct(raw map[string]types.AttributeValue) (Product, error) {
	pk := getString(raw, AttrPartitionKey)
	rawCategory := getString(raw, AttrProductCategory)
	if rawCategory == "" {
		return nil, fmt.Errorf("%w: %s has no %s", ErrUnmapped, pk, AttrProductCategory)
	}
	category, ok := ParseCategory(rawCategory)
	if !ok {
		return nil, fmt.Errorf("%w: %s has unknown category %q", ErrUnmapped, pk, rawCategory)
	}
	productID := getString(raw, AttrProductID)
	if productID == "" {
		return nil, fmt.Errorf("%w: %s has no %s", ErrUnmapped, pk, AttrProductID)
	}

	info := ProductInfo{
		ProductID:    productID,
		InstrumentID: getString(raw, AttrProductInstrumentID),
		Color:        getString(raw, AttrProductColor),
		IsMinted:     getBool(raw, AttrProductIsMinted),
		Status:       Status(getInt(raw, AttrProductStatus, int(StatusEnabled))).Normalize(),
	}
	if info.InstrumentID == "" {
		info.InstrumentID = productID
	}

	switch category {
	case CategoryCrypto:
		return Crypto{
			ProductInfo:     info,
			ExternalAssetID: getString(raw, AttrCryptoExternalAssetID),
		}, nil
	case CategoryFiat:
		return Fiat{ProductInfo: info}, nil
	case CategorySimple:
		return Simple{ProductInfo: info}, nil
	case CategoryShareToken:
		return ShareToken{
			ProductInfo:            info,
			Name:                   getString(raw, AttrShareTokenName),
			Ticker:                 getString(raw, AttrShareTokenTicker),
			DocumentURL:            getString(raw, AttrShareTokenDocumentURL),
			IsDeployed:             getBool(raw, AttrShareTokenIsDeployed),
			IsFrozen:               getBool(raw, AttrShareTokenIsFrozen),
			BlockchainErrorMessage: getString(raw, AttrShareTokenBlockchainErrorMessage),
			TotalSupply:            getDecimal(raw, AttrShareTokenTotalSupply),
			ExternalAssetID:        getString(raw, AttrShareTokenExternalAssetID),
			NumberOfDecimalPlaces:  getInt(raw, AttrShareTokenDecimalPlaces, 0),
		}, nil
	case CategoryCopyrightToken:
		return CopyrightToken{
			ProductInfo:                 info,
			ExternalMusicID:             getString(raw, AttrCopyrightExternalMusicID),
			CreatorID:                   getString(raw, AttrCopyrightCreatorID),
			Icon:                        getString(raw, AttrCopyrightIcon),
			SubType:                     CopyrightSubType(getString(raw, AttrCopyrightSubType)),
			Ownership:                   getString(raw, AttrCopyrightOwnership),
			Amount:                      getDecimal(raw, AttrCopyrightAmount),
			AlreadyAuctionedAmount:      getDecimal(raw, AttrCopyrightAlreadyAuctionedAmount),
			TradingVolume:               getDecimal(raw, AttrCopyrightTradingVolume),
			AvailableForSecondaryMarket: getBool(raw, AttrCopyrightAvailable),
			SongDetails:                 decodeSongDetails(raw),
		}, nil
	}
	return nil, fmt.Errorf("%w: %s has unknown category %q", ErrUnmapped, pk, rawCategory)
}

// decodeSongDetails returns nil when the attribute is missing or not valid JSON.
func decodeSongDetails(raw map[string]types.AttributeValue) *SongDetails {
	s := getString(raw, AttrCopyrightSongDetails)
	if s == "" {
		return nil
	}
	var d SongDetails
	if err := json.Unmarshal([]byte(s), &d); err != nil {
		return nil
	}
	return &d
}

// ExpectedKeyAttributes recomputes every derived index key attribute of a raw row.
func ExpectedKeyAttributes(raw map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	tenant, err := keys.TenantFromPartitionKey(getString(raw, AttrPartitionKey))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnmapped, err)
	}
	if IsInstrumentRecord(raw) {
		inst, err := DecodeInstrument(raw)
		if err != nil {
			return nil, err
		}
		return instrumentKeyAttributes(tenant, inst), nil
	}
	p, err := DecodeProduct(raw)
	if err != nil {
		return nil, err
	}
	return productKeyAttributes(tenant, p), nil
}

// IndexDrift returns the derived key attributes whose stored value is missing or stale.
// An empty result means the row is consistent with its fields.
func IndexDrift(raw map[string]types.AttributeValue) (map[string]types.AttributeValue, error) {
	expected, err := ExpectedKeyAttributes(raw)
	if err != nil {
		return nil, err
	}
	drift := make(map[string]types.AttributeValue)
	for name, want := range expected {
		if getString(raw, name) != want.(*types.AttributeValueMemberS).Value {
			drift[name] = want
		}
	}
	return drift, nil
}

func getString(raw map[string]types.AttributeValue, name string) string {
	if v, ok := raw[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

// getInt reads an N attribute, or an S attribute holding a number, falling back to def.
func getInt(raw map[string]types.AttributeValue, name string, def int) int {
	var s string
	switch v := raw[name].(type) {
	case *types.AttributeValueMemberN:
		s = v.Value
	case *types.AttributeValueMemberS:
		s = v.Value
	default:
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// getBool reads a BOOL attribute, or an S attribute such as "True".
func getBool(raw map[string]types.AttributeValue, name string) bool {
	switch v := raw[name].(type) {
	case *types.AttributeValueMemberBOOL:
		return v.Value
	case *types.AttributeValueMemberS:
		b, _ := strconv.ParseBool(v.Value)
		return b
	}
	return false
}

// getDecimal reads an N or S attribute, falling back to zero.
func getDecimal(raw map[string]types.AttributeValue, name string) decimal.Decimal {
	var s string
	switch v := raw[name].(type) {
	case *types.AttributeValueMemberN:
		s = v.Value
	case *types.AttributeValueMemberS:
		s = v.Value
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
