package store

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jacentio/lyra/internal/keys"
)

// Status is the lifecycle state of a product or instrument.
// The zero value means unset and is treated as StatusEnabled.
type Status int

const (
	StatusUnset    Status = 0
	StatusEnabled  Status = 1
	StatusDisabled Status = 2
)

// Normalize maps every code other than StatusDisabled to StatusEnabled.
func (s Status) Normalize() Status {
	if s == StatusDisabled {
		return StatusDisabled
	}
	return StatusEnabled
}

// Valid reports whether s may be written.
func (s Status) Valid() bool {
	return s == StatusUnset || s == StatusEnabled || s == StatusDisabled
}

func (s Status) String() string {
	switch s {
	case StatusUnset:
		return "unset"
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Category discriminates the product variants. Values are stored as-is.
type Category string

const (
	CategoryCrypto         Category = "CRYPTO"
	CategoryFiat           Category = "FIAT"
	CategorySimple         Category = "SIMPLE"
	CategoryShareToken     Category = "SHARETOKEN"
	CategoryCopyrightToken Category = "COPYRIGHTTOKEN"
)

// Categories lists every product category.
func Categories() []Category {
	return []Category{CategoryCrypto, CategoryFiat, CategorySimple, CategoryShareToken, CategoryCopyrightToken}
}

// ParseCategory resolves a category case-insensitively.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Categories() {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Instrument is a tradable asset definition. Products reference instruments by ID.
type Instrument struct {
	ID                    string `validate:"required"`
	Name                  string `validate:"required"`
	NumberOfDecimalPlaces int    `validate:"gte=0,lte=18"`
	Status                Status
}

// ParsedID returns the type, subtype and symbol components of the instrument ID.
func (i Instrument) ParsedID() (keys.ID, error) {
	return keys.ParseInstrumentID(i.ID)
}

// ProductInfo holds the fields shared by every product variant.
type ProductInfo struct {
	ProductID    string `validate:"required"`
	InstrumentID string
	Color        string `validate:"omitempty,hexcolor"`
	IsMinted     bool
	Status       Status
}

// Info returns the common product fields.
func (p ProductInfo) Info() ProductInfo { return p }

// ParsedID returns the type, subtype and symbol components of the product ID.
func (p ProductInfo) ParsedID() (keys.ID, error) {
	return keys.ParseProductID(p.ProductID)
}

// Product is one of Crypto, Fiat, Simple, ShareToken or CopyrightToken.
type Product interface {
	Category() Category
	Info() ProductInfo
	isProduct()
}

// Crypto is a crypto currency product.
type Crypto struct {
	ProductInfo
	ExternalAssetID string
}

// Fiat is a fiat currency product.
type Fiat struct {
	ProductInfo
}

// Simple is a simple currency product.
type Simple struct {
	ProductInfo
}

// ShareToken is a tokenised share.
type ShareToken struct {
	ProductInfo
	Name                   string
	Ticker                 string
	DocumentURL            string `validate:"omitempty,url"`
	IsDeployed             bool
	IsFrozen               bool
	BlockchainErrorMessage string
	TotalSupply            decimal.Decimal
	NumberOfDecimalPlaces  int `validate:"gte=0,lte=18"`
	ExternalAssetID        string
}

// CopyrightSubType is the tier of a copyright token.
type CopyrightSubType string

const (
	SubTypeGolden  CopyrightSubType = "Golden"
	SubTypeDiamond CopyrightSubType = "Diamond"
)

// CopyrightToken is a tokenised share of a song's rights.
type CopyrightToken struct {
	ProductInfo
	ExternalMusicID             string
	CreatorID                   string
	Icon                        string
	SubType                     CopyrightSubType `validate:"omitempty,oneof=Golden Diamond"`
	Ownership                   string
	Amount                      decimal.Decimal
	AlreadyAuctionedAmount      decimal.Decimal
	TradingVolume               decimal.Decimal
	AvailableForSecondaryMarket bool
	SongDetails                 *SongDetails `validate:"omitempty"`
}

// SongDetails describes the song behind a copyright token. It is stored as JSON.
type SongDetails struct {
	Name              string          `json:"name"`
	ArtistName        string          `json:"artistName"`
	AlbumName         string          `json:"albumName"`
	Description       string          `json:"description"`
	Genre             string          `json:"genre"`
	MiningByStreaming decimal.Decimal `json:"miningByStreaming"`
	MiningByCuration  decimal.Decimal `json:"miningByCuration"`
	Contributors      Contributors    `json:"contributors"`
}

// Contributors groups the people credited on a song by role.
type Contributors struct {
	Owners               []Contributor `json:"owners"`
	Songwriters          []Contributor `json:"songwriters"`
	Producers            []Contributor `json:"producers"`
	Engineers            []Contributor `json:"engineers"`
	Composers            []Contributor `json:"composers"`
	Lyricists            []Contributor `json:"lyricists"`
	FeaturedArtists      []Contributor `json:"featuredArtists"`
	NonFeaturedMusicians []Contributor `json:"nonFeaturedMusicians"`
	NonFeaturedVocalists []Contributor `json:"nonFeaturedVocalists"`
}

// Contributor is a single credited person.
type Contributor struct {
	ProfileID         string          `json:"profileId"`
	TrackingAccountID string          `json:"trackingAccountId"`
	Email             string          `json:"email"`
	Percentage        decimal.Decimal `json:"percentage"`
}

func (Crypto) Category() Category         { return CategoryCrypto }
func (Fiat) Category() Category           { return CategoryFiat }
func (Simple) Category() Category         { return CategorySimple }
func (ShareToken) Category() Category     { return CategoryShareToken }
func (CopyrightToken) Category() Category { return CategoryCopyrightToken }

func (Crypto) isProduct()         {}
func (Fiat) isProduct()           {}
func (Simple) isProduct()         {}
func (ShareToken) isProduct()     {}
func (CopyrightToken) isProduct() {}
