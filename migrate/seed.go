package migrate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/jacentio/lyra/store"
)

// Catalog is the set of rows seeded into a tenant.
type Catalog struct {
	// Instruments are added on their own, without products.
	Instruments []store.Instrument

	// Cryptos are added as product and instrument pairs.
	Cryptos []CryptoListing
}

// CryptoListing pairs a crypto product with its instrument.
type CryptoListing struct {
	Instrument store.Instrument
	Product    store.Crypto
}

func crypto(id, name, color string, decimals int) CryptoListing {
	return CryptoListing{
		Instrument: store.Instrument{ID: id, Name: name, NumberOfDecimalPlaces: decimals, Status: store.StatusEnabled},
		Product:    store.Crypto{ProductInfo: store.ProductInfo{ProductID: id, Color: color}},
	}
}

func instrument(id, name string, decimals int) store.Instrument {
	return store.Instrument{ID: id, Name: name, NumberOfDecimalPlaces: decimals, Status: store.StatusEnabled}
}

// currencyInstruments are seeded into every tenant.
func currencyInstruments() []store.Instrument {
	return []store.Instrument{
		instrument("currency.fiat.CHF", "Swiss Franc", 2),
		instrument("currency.fiat.EUR", "Euro", 2),
		instrument("currency.fiat.GBP", "Pound Sterling", 2),
		instrument("currency.fiat.USD", "United States Dollar", 2),
		instrument("currency.simple.CHF", "Swiss Franc (Simple)", 2),
		instrument("currency.simple.EUR", "Euro (Simple)", 2),
		instrument("currency.simple.GBP", "Pound Sterling (Simple)", 2),
		instrument("currency.simple.USD", "United States Dollar (Simple)", 2),
	}
}

// DefaultCatalog is seeded into tenants without an override.
func DefaultCatalog() Catalog {
	return Catalog{
		Instruments: currencyInstruments(),
		Cryptos: []CryptoListing{
			crypto("currency.crypto.BTC", "Bitcoin", "#2D3778", 6),
			crypto("currency.crypto.BCH", "Bitcoin Cash", "#4A5490", 6),
			crypto("currency.crypto.ETH", "Ethereum", "#6DAAB0", 6),
			crypto("currency.crypto.LTC", "Litecoin", "#6A4C69", 6),
			crypto("currency.crypto.DOGE", "Dogecoin", "#C3A634", 6),
			crypto("currency.crypto.USDT", "USDT", "#C3A634", 2),
			crypto("currency.crypto.USDC", "USDC", "#C3A635", 2),
			crypto("currency.crypto.BNB", "Binance", "#C3A635", 6),
			crypto("currency.crypto.MATIC", "Polygon", "#3E8726", 6),
		},
	}
}

// TenantCatalogs returns the per-tenant overrides of the default catalog.
func TenantCatalogs() map[string]Catalog {
	return map[string]Catalog{
		"rhino": {
			Instruments: currencyInstruments(),
			Cryptos: []CryptoListing{
				crypto("currency.crypto.DGD", "Alpenbrevet 1.", "#C3A634", 4),
				crypto("currency.crypto.CTC", "Alpenbrevet 3.", "#CD7F32", 4),
			},
		},
		"hippo": {
			Instruments: currencyInstruments(),
			Cryptos: []CryptoListing{
				crypto("currency.crypto.BTC", "Bitcoin", "#2D3778", 6),
				crypto("currency.crypto.BCH", "Bitcoin Cash", "#4A5490", 6),
				crypto("currency.crypto.ETH", "Ethereum", "#6DAAB0", 6),
				crypto("currency.crypto.LTC", "Litecoin", "#6A4C69", 6),
			},
		},
	}
}

// seedCatalog adds the configured catalog to every tenant. Rows that already
// exist are skipped; other failures are logged and counted.
func seedCatalog(ctx context.Context, m *Migrator, result *StepResult) error {
	if !m.config.SeedCatalog {
		m.logger.Info("catalog seeding disabled")
		return nil
	}
	for _, tenant := range m.config.Tenants {
		catalog := m.config.catalogFor(tenant)
		for _, inst := range catalog.Instruments {
			m.recordSeed(result, tenant, inst.ID,
				m.store.AddInstrument(ctx, tenant, inst, ""))
		}
		for _, listing := range catalog.Cryptos {
			m.recordSeed(result, tenant, listing.Product.ProductID,
				m.store.AddProductWithInstrument(ctx, tenant, listing.Product, listing.Instrument, ""))
		}
		m.logger.Info("seeded catalog", zap.String("tenant", tenant))
	}
	return ctx.Err()
}

func (m *Migrator) recordSeed(result *StepResult, tenant, id string, err error) {
	result.Scanned++
	switch {
	case err == nil:
		result.Updated++
		m.logger.Debug("seeded row", zap.String("tenant", tenant), zap.String("id", id))
	case errors.Is(err, store.ErrAlreadyExists):
		result.Skipped++
	default:
		result.Failed++
		m.logger.Error("failed to seed row",
			zap.String("tenant", tenant),
			zap.String("id", id),
			zap.Error(err))
	}
}
