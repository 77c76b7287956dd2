package migrate

import (
	"errors"
	"fmt"
	"time"

	"github.com/jacentio/lyra/internal/keys"
	"github.com/jacentio/lyra/store"
)

// Config holds migrator configuration.
type Config struct {
	// TableName is the catalog table to provision and migrate.
	TableName string

	// Tenants receive the seed catalog.
	Tenants []string

	// SeedCatalog enables the seed-catalog step.
	SeedCatalog bool

	// Catalogs overrides the seeded catalog per tenant. Tenants without an
	// entry receive DefaultCatalog.
	Catalogs map[string]Catalog

	// WaitTimeout bounds every wait for the table or an index to settle.
	WaitTimeout time.Duration

	// PollInterval is the delay between DescribeTable polls.
	PollInterval time.Duration

	// ScanPageSize is the Limit of each backfill scan request.
	ScanPageSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		TableName:    store.DefaultConfig().TableName,
		Catalogs:     TenantCatalogs(),
		WaitTimeout:  10 * time.Minute,
		PollInterval: 5 * time.Second,
		ScanPageSize: 100,
	}
}

// validate fills defaults and rejects tenants that cannot be embedded in keys.
func (c *Config) validate() error {
	defaults := DefaultConfig()
	if c.TableName == "" {
		c.TableName = defaults.TableName
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = defaults.WaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ScanPageSize < 1 {
		c.ScanPageSize = defaults.ScanPageSize
	}
	if c.ScanPageSize > 1000 {
		c.ScanPageSize = 1000
	}

	var errs []error
	for _, tenant := range c.Tenants {
		if err := keys.ValidateTenant(tenant); err != nil {
			errs = append(errs, fmt.Errorf("tenant %q: %w", tenant, err))
		}
	}
	return errors.Join(errs...)
}

// catalogFor returns the catalog seeded into tenant.
func (c Config) catalogFor(tenant string) Catalog {
	if catalog, ok := c.Catalogs[tenant]; ok {
		return catalog
	}
	return DefaultCatalog()
}
