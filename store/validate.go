package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jacentio/lyra/internal/keys"
)

var validate = validator.New()

// validateStruct runs the struct tag rules and folds failures into ErrInvalidEntity.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidEntity, strings.Join(msgs, "; "))
	}
	return fmt.Errorf("%w: %v", ErrInvalidEntity, err)
}

// normalizeInstrument validates an instrument and returns it with a canonical ID and status.
func normalizeInstrument(tenant string, inst Instrument) (Instrument, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return Instrument{}, err
	}
	if err := validateStruct(inst); err != nil {
		return Instrument{}, err
	}
	id, err := keys.ParseInstrumentID(inst.ID)
	if err != nil {
		return Instrument{}, err
	}
	if !inst.Status.Valid() {
		return Instrument{}, fmt.Errorf("%w: %d", ErrInvalidStatus, inst.Status)
	}
	inst.ID = id.String()
	inst.Status = inst.Status.Normalize()
	return inst, nil
}

// normalizeProduct validates a product and returns it with canonical IDs and status.
func normalizeProduct(tenant string, p Product) (Product, error) {
	if err := keys.ValidateTenant(tenant); err != nil {
		return nil, err
	}
	p = derefProduct(p)
	if p == nil {
		return nil, fmt.Errorf("%w: nil product", ErrInvalidEntity)
	}
	if err := validateStruct(p); err != nil {
		return nil, err
	}

	info := p.Info()
	id, err := keys.ParseProductID(info.ProductID)
	if err != nil {
		return nil, err
	}
	if !info.Status.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStatus, info.Status)
	}
	info.ProductID = id.String()
	if info.InstrumentID == "" {
		info.InstrumentID = info.ProductID
	} else {
		instID, err := keys.ParseInstrumentID(info.InstrumentID)
		if err != nil {
			return nil, err
		}
		info.InstrumentID = instID.String()
	}
	info.Status = info.Status.Normalize()

	switch v := p.(type) {
	case ShareToken:
		if v.TotalSupply.IsNegative() {
			return nil, fmt.Errorf("%w: negative total supply", ErrInvalidEntity)
		}
	case CopyrightToken:
		if v.Amount.IsNegative() || v.AlreadyAuctionedAmount.IsNegative() || v.TradingVolume.IsNegative() {
			return nil, fmt.Errorf("%w: negative copyright token amount", ErrInvalidEntity)
		}
		if err := validateTradingVolume(v.TradingVolume); err != nil {
			return nil, err
		}
	}
	return withInfo(p, info)
}

// validateTradingVolume rejects volumes the trading volume index cannot order.
func validateTradingVolume(volume decimal.Decimal) error {
	if volume.GreaterThan(keys.MaxTradingVolume) {
		return fmt.Errorf("%w: trading volume %s exceeds %s", ErrInvalidEntity, volume, keys.MaxTradingVolume)
	}
	return nil
}

// withInfo returns p with its common fields replaced.
func withInfo(p Product, info ProductInfo) (Product, error) {
	switch v := p.(type) {
	case Crypto:
		v.ProductInfo = info
		return v, nil
	case Fiat:
		v.ProductInfo = info
		return v, nil
	case Simple:
		v.ProductInfo = info
		return v, nil
	case ShareToken:
		v.ProductInfo = info
		return v, nil
	case CopyrightToken:
		v.ProductInfo = info
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unsupported product type %T", ErrInvalidEntity, p)
	}
}

// derefProduct turns pointer variants into values so type switches stay exhaustive.
func derefProduct(p Product) Product {
	switch v := p.(type) {
	case *Crypto:
		if v != nil {
			return *v
		}
	case *Fiat:
		if v != nil {
			return *v
		}
	case *Simple:
		if v != nil {
			return *v
		}
	case *ShareToken:
		if v != nil {
			return *v
		}
	case *CopyrightToken:
		if v != nil {
			return *v
		}
	default:
		return p
	}
	return nil
}
