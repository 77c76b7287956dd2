package store

const (
	defaultTableName      = "lyra-products-v2"
	defaultPageSize       = 20
	defaultMaxPageSize    = 100
	maxPageSizeUpperBound = 1000
)

// Config holds configuration for the Store.
type Config struct {
	// TableName is the name of the single catalog table.
	// Default: "lyra-products-v2"
	TableName string

	// DefaultPageSize is used by paginated reads when the caller passes a page size below 1.
	// Default: 20
	DefaultPageSize int

	// MaxPageSize caps the page size of paginated reads.
	// Default: 100
	// Max: 1000
	MaxPageSize int
}

// DefaultConfig returns the defaults used in production.
func DefaultConfig() Config {
	return Config{
		TableName:       defaultTableName,
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     defaultMaxPageSize,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.TableName == "" {
		c.TableName = defaultTableName
	}
	if c.MaxPageSize < 1 {
		c.MaxPageSize = defaultMaxPageSize
	}
	if c.MaxPageSize > maxPageSizeUpperBound {
		c.MaxPageSize = maxPageSizeUpperBound
	}
	if c.DefaultPageSize < 1 {
		c.DefaultPageSize = defaultPageSize
	}
	if c.DefaultPageSize > c.MaxPageSize {
		c.DefaultPageSize = c.MaxPageSize
	}
}

// pageSize resolves the effective page size for a request.
func (c Config) pageSize(requested int) int {
	if requested < 1 {
		return c.DefaultPageSize
	}
	if requested > c.MaxPageSize {
		return c.MaxPageSize
	}
	return requested
}
