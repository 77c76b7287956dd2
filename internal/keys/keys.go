// Package keys derives every partition, sort and index key string stored in
// the catalog table. Nothing here performs I/O.
package keys

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrMalformedID is returned when a product or instrument ID is not a valid dotted identifier.
	ErrMalformedID = errors.New("malformed identifier")

	// ErrMalformedTenant is returned when a tenant cannot be embedded in a key.
	ErrMalformedTenant = errors.New("malformed tenant")
)

const (
	tenantPrefix = "TENANT#"

	// InstrumentSortKey is the primary sort key of every instrument row.
	InstrumentSortKey = "INSTRUMENT"

	// TradingVolumePrefix starts every trading volume sort key.
	TradingVolumePrefix = "SECONDARY_MARKET_AVAILABILITY#TRADING_VOLUME#"

	productSegment    = "PRODUCT"
	instrumentSegment = "INSTRUMENT"

	// tradingVolumeIntDigits and tradingVolumeFracDigits fix the width of the
	// encoded trading volume so that lexicographic order equals numeric order.
	tradingVolumeIntDigits  = 20
	tradingVolumeFracDigits = 8
)

// ID is a parsed dotted identifier. Subtype is empty for two-part instrument IDs.
type ID struct {
	Type    string
	Subtype string
	Symbol  string
}

// String returns the normalised dotted form.
func (id ID) String() string {
	if id.Subtype == "" {
		return id.Type + "." + id.Symbol
	}
	return id.Type + "." + id.Subtype + "." + id.Symbol
}

// ParseProductID parses a type.subtype.symbol product ID.
// Type and subtype are lower-cased, the symbol is upper-cased.
func ParseProductID(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: product ID %q must have 3 parts", ErrMalformedID, s)
	}
	return parseParts(s, parts)
}

// ParseInstrumentID parses a type.subtype.symbol or type.symbol instrument ID.
func ParseInstrumentID(s string) (ID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return ID{}, fmt.Errorf("%w: instrument ID %q must have 2 or 3 parts", ErrMalformedID, s)
	}
	return parseParts(s, parts)
}

func parseParts(raw string, parts []string) (ID, error) {
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
		if parts[i] == "" {
			return ID{}, fmt.Errorf("%w: %q has a blank part", ErrMalformedID, raw)
		}
	}
	id := ID{
		Type:   strings.ToLower(parts[0]),
		Symbol: strings.ToUpper(parts[len(parts)-1]),
	}
	if len(parts) == 3 {
		id.Subtype = strings.ToLower(parts[1])
	}
	return id, nil
}

// ValidateTenant rejects tenants that are blank or contain the key separator.
func ValidateTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return fmt.Errorf("%w: tenant is empty", ErrMalformedTenant)
	}
	if strings.Contains(tenant, "#") {
		return fmt.Errorf("%w: tenant %q contains '#'", ErrMalformedTenant, tenant)
	}
	return nil
}

// TenantFromPartitionKey recovers the tenant from any key built by this package.
func TenantFromPartitionKey(pk string) (string, error) {
	rest, ok := strings.CutPrefix(pk, tenantPrefix)
	if !ok {
		return "", fmt.Errorf("%w: key %q has no tenant prefix", ErrMalformedTenant, pk)
	}
	tenant, _, _ := strings.Cut(rest, "#")
	if tenant == "" {
		return "", fmt.Errorf("%w: key %q has an empty tenant", ErrMalformedTenant, pk)
	}
	return tenant, nil
}

// Tenant is the partition key shared by the products and instruments indexes.
func Tenant(tenant string) string {
	return tenantPrefix + tenant
}

// TenantStatus is the partition key of the status indexes.
func TenantStatus(tenant string, status int) string {
	return fmt.Sprintf("%s%s#%d", tenantPrefix, tenant, status)
}

// ProductPrefix is the partition key prefix shared by all product rows of a tenant.
func ProductPrefix(tenant string) string {
	return fmt.Sprintf("%s%s#%s#", tenantPrefix, tenant, productSegment)
}

// InstrumentPrefix is the partition key prefix shared by all instrument rows of a tenant.
func InstrumentPrefix(tenant string) string {
	return fmt.Sprintf("%s%s#%s#", tenantPrefix, tenant, instrumentSegment)
}

// ProductPK is the primary partition key of a product row.
func ProductPK(tenant, productID string) string {
	return ProductPrefix(tenant) + strings.ToUpper(strings.TrimSpace(productID))
}

// ProductSK is the primary sort key of a product row.
func ProductSK(category string) string {
	return strings.ToUpper(category)
}

// ProductIndexSK is the sort key of a product in the products and product_status indexes.
func ProductIndexSK(category, productID string) string {
	return strings.ToUpper(category) + "#" + productID
}

// CategoryPrefix narrows a product index query to one category.
func CategoryPrefix(category string) string {
	return strings.ToUpper(category) + "#"
}

// InstrumentPK is the primary partition key of an instrument row.
func InstrumentPK(tenant, instrumentID string) string {
	return InstrumentPrefix(tenant) + strings.ToUpper(strings.TrimSpace(instrumentID))
}

// InstrumentIndexSK is the sort key of an instrument in the instruments and instrument_status indexes.
func InstrumentIndexSK(instrumentID string) string {
	return instrumentSegment + "#" + instrumentID
}

// CreatorPK is the partition key of the copyright_tokens_by_creator_id index.
func CreatorPK(tenant, creatorID string) string {
	return fmt.Sprintf("%s%s#CREATOR_ID#%s", tenantPrefix, tenant, creatorID)
}

// CreatorSK is the sort key of the copyright_tokens_by_creator_id index.
func CreatorSK(creatorID, productID string) string {
	return fmt.Sprintf("CREATOR_ID#%s#PRODUCT_ID#%s", creatorID, productID)
}

// ExternalMusicPK is the partition key of the copyright_tokens_by_external_music_id index.
func ExternalMusicPK(tenant, externalMusicID string) string {
	return fmt.Sprintf("%s%s#EXTERNAL_MUSIC_ID#%s", tenantPrefix, tenant, externalMusicID)
}

// ExternalMusicSK is the sort key of the copyright_tokens_by_external_music_id index.
func ExternalMusicSK(externalMusicID, subType string) string {
	return fmt.Sprintf("EXTERNAL_MUSIC_ID#%s#SUB_TYPE#%s", externalMusicID, strings.ToUpper(subType))
}

// SecondaryMarketPK is the partition key shared by the secondary market and trading volume indexes.
func SecondaryMarketPK(tenant string, available bool) string {
	flag := "FALSE"
	if available {
		flag = "TRUE"
	}
	return fmt.Sprintf("%s%s#SECONDARY_MARKET_AVAILABILITY#IS_AVAILABLE#%s", tenantPrefix, tenant, flag)
}

// SecondaryMarketSK is the sort key of the copyright_tokens_by_secondary_market_availability index.
func SecondaryMarketSK(productID string) string {
	return "SECONDARY_MARKET_AVAILABILITY#PRODUCT#" + productID
}

// TradingVolumeSK is the sort key of the copyright_tokens_by_trading_volume index.
func TradingVolumeSK(volume decimal.Decimal) string {
	return TradingVolumePrefix + EncodeVolume(volume)
}

// MaxTradingVolume is the largest volume the trading volume sort key can order.
var MaxTradingVolume = decimal.RequireFromString("99999999999999999999.99999999")

// EncodeVolume renders a volume as a fixed-width string.
// Negative volumes clamp to zero and volumes above MaxTradingVolume clamp to it;
// fractions beyond 8 digits are truncated.
func EncodeVolume(volume decimal.Decimal) string {
	switch {
	case volume.IsNegative():
		volume = decimal.Zero
	case volume.GreaterThan(MaxTradingVolume):
		volume = MaxTradingVolume
	}
	fixed := volume.Truncate(tradingVolumeFracDigits).StringFixed(tradingVolumeFracDigits)
	intPart, fracPart, _ := strings.Cut(fixed, ".")
	if pad := tradingVolumeIntDigits - len(intPart); pad > 0 {
		intPart = strings.Repeat("0", pad) + intPart
	}
	return intPart + "." + fracPart
}
