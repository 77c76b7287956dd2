package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/jacentio/lyra/internal/keys"
)

// ProductPatch is a partial update of one product variant.
// Nil fields are left untouched.
type ProductPatch interface {
	Category() Category
	// Writes returns the attribute values of the supplied fields only.
	Writes() (map[string]types.AttributeValue, error)
}

// CryptoPatch updates a Crypto product.
type CryptoPatch struct {
	Color           *string `validate:"omitempty,hexcolor"`
	InstrumentID    *string
	IsMinted        *bool
	ExternalAssetID *string
}

// FiatPatch updates a Fiat product.
type FiatPatch struct {
	Color        *string `validate:"omitempty,hexcolor"`
	InstrumentID *string
	IsMinted     *bool
}

// SimplePatch updates a Simple product.
type SimplePatch struct {
	Color        *string `validate:"omitempty,hexcolor"`
	InstrumentID *string
	IsMinted     *bool
}

// ShareTokenPatch updates a ShareToken product.
type ShareTokenPatch struct {
	Color                  *string `validate:"omitempty,hexcolor"`
	InstrumentID           *string
	IsMinted               *bool
	Name                   *string
	Ticker                 *string
	DocumentURL            *string `validate:"omitempty,url"`
	IsDeployed             *bool
	IsFrozen               *bool
	BlockchainErrorMessage *string
	TotalSupply            *decimal.Decimal
	NumberOfDecimalPlaces  *int `validate:"omitempty,gte=0,lte=18"`
	ExternalAssetID        *string
}

// CopyrightTokenPatch updates a CopyrightToken product.
// Changing availability or trading volume also moves the token within the market indexes.
type CopyrightTokenPatch struct {
	Color                       *string `validate:"omitempty,hexcolor"`
	InstrumentID                *string
	IsMinted                    *bool
	Icon                        *string
	Ownership                   *string
	Amount                      *decimal.Decimal
	AlreadyAuctionedAmount      *decimal.Decimal
	TradingVolume               *decimal.Decimal
	AvailableForSecondaryMarket *bool
	SongDetails                 *SongDetails
}

func (CryptoPatch) Category() Category         { return CategoryCrypto }
func (FiatPatch) Category() Category           { return CategoryFiat }
func (SimplePatch) Category() Category         { return CategorySimple }
func (ShareTokenPatch) Category() Category     { return CategoryShareToken }
func (CopyrightTokenPatch) Category() Category { return CategoryCopyrightToken }

func (p CryptoPatch) Writes() (map[string]types.AttributeValue, error) {
	w, err := commonWrites(p.Color, p.InstrumentID, p.IsMinted)
	if err != nil {
		return nil, err
	}
	w.setStr(AttrCryptoExternalAssetID, p.ExternalAssetID)
	return w, nil
}

func (p FiatPatch) Writes() (map[string]types.AttributeValue, error) {
	return commonWrites(p.Color, p.InstrumentID, p.IsMinted)
}

func (p SimplePatch) Writes() (map[string]types.AttributeValue, error) {
	return commonWrites(p.Color, p.InstrumentID, p.IsMinted)
}

func (p ShareTokenPatch) Writes() (map[string]types.AttributeValue, error) {
	if p.TotalSupply != nil && p.TotalSupply.IsNegative() {
		return nil, fmt.Errorf("%w: negative total supply", ErrInvalidEntity)
	}
	w, err := commonWrites(p.Color, p.InstrumentID, p.IsMinted)
	if err != nil {
		return nil, err
	}
	w.setStr(AttrShareTokenName, p.Name)
	w.setStr(AttrShareTokenTicker, p.Ticker)
	w.setStr(AttrShareTokenDocumentURL, p.DocumentURL)
	w.setBool(AttrShareTokenIsDeployed, p.IsDeployed)
	w.setBool(AttrShareTokenIsFrozen, p.IsFrozen)
	w.setStr(AttrShareTokenBlockchainErrorMessage, p.BlockchainErrorMessage)
	w.setDecimal(AttrShareTokenTotalSupply, p.TotalSupply)
	w.setInt(AttrShareTokenDecimalPlaces, p.NumberOfDecimalPlaces)
	w.setStr(AttrShareTokenExternalAssetID, p.ExternalAssetID)
	return w, nil
}

func (p CopyrightTokenPatch) Writes() (map[string]types.AttributeValue, error) {
	for _, d := range []*decimal.Decimal{p.Amount, p.AlreadyAuctionedAmount, p.TradingVolume} {
		if d != nil && d.IsNegative() {
			return nil, fmt.Errorf("%w: negative copyright token amount", ErrInvalidEntity)
		}
	}
	if p.TradingVolume != nil {
		if err := validateTradingVolume(*p.TradingVolume); err != nil {
			return nil, err
		}
	}
	w, err := commonWrites(p.Color, p.InstrumentID, p.IsMinted)
	if err != nil {
		return nil, err
	}
	w.setStr(AttrCopyrightIcon, p.Icon)
	w.setStr(AttrCopyrightOwnership, p.Ownership)
	w.setDecimal(AttrCopyrightAmount, p.Amount)
	w.setDecimal(AttrCopyrightAlreadyAuctionedAmount, p.AlreadyAuctionedAmount)
	w.setDecimal(AttrCopyrightTradingVolume, p.TradingVolume)
	w.setBool(AttrCopyrightAvailable, p.AvailableForSecondaryMarket)
	if p.SongDetails != nil {
		details, err := encodeSongDetails(p.SongDetails)
		if err != nil {
			return nil, err
		}
		w[AttrCopyrightSongDetails] = details
	}
	return w, nil
}

// InstrumentPatch updates the mutable fields of an instrument.
type InstrumentPatch struct {
	Name                  *string `validate:"omitempty,min=1"`
	NumberOfDecimalPlaces *int    `validate:"omitempty,gte=0,lte=18"`
}

func (p InstrumentPatch) Writes() map[string]types.AttributeValue {
	w := writes{}
	w.setStr(AttrInstrumentName, p.Name)
	w.setInt(AttrInstrumentDecimalPlaces, p.NumberOfDecimalPlaces)
	return w
}

// derefPatch turns pointer patches into values.
func derefPatch(p ProductPatch) ProductPatch {
	switch v := p.(type) {
	case *CryptoPatch:
		if v != nil {
			return *v
		}
	case *FiatPatch:
		if v != nil {
			return *v
		}
	case *SimplePatch:
		if v != nil {
			return *v
		}
	case *ShareTokenPatch:
		if v != nil {
			return *v
		}
	case *CopyrightTokenPatch:
		if v != nil {
			return *v
		}
	default:
		return p
	}
	return nil
}

type writes map[string]types.AttributeValue

// commonWrites collects the fields every product variant shares.
// An instrument ID is stored in its canonical form.
func commonWrites(color, instrumentID *string, isMinted *bool) (writes, error) {
	w := writes{}
	w.setStr(AttrProductColor, color)
	if instrumentID != nil {
		id, err := keys.ParseInstrumentID(*instrumentID)
		if err != nil {
			return nil, err
		}
		w[AttrProductInstrumentID] = strAttr(id.String())
	}
	w.setBool(AttrProductIsMinted, isMinted)
	return w, nil
}

func (w writes) setStr(name string, v *string) {
	if v != nil {
		w[name] = strAttr(*v)
	}
}

func (w writes) setBool(name string, v *bool) {
	if v != nil {
		w[name] = boolAttr(*v)
	}
}

func (w writes) setInt(name string, v *int) {
	if v != nil {
		w[name] = intAttr(*v)
	}
}

func (w writes) setDecimal(name string, v *decimal.Decimal) {
	if v != nil {
		w[name] = decimalAttr(*v)
	}
}
