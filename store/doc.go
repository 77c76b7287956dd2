// Package store provides the DynamoDB data access layer for the multi-tenant
// product catalog.
//
// Every instrument and product lives in one table. The primary key is derived
// from the tenant and the entity ID; secondary index key attributes are
// derived from entity fields and written alongside them, so the same rows can
// be listed by category, status, creator, music ID, market availability and
// trading volume.
//
// # Key Features
//
//   - Conditional creates that never overwrite an existing row
//   - Atomic product-with-instrument writes and removals
//   - Partial updates that keep derived index attributes in sync
//   - Bidirectional cursor pagination over every index
//   - Repair of index attributes that drifted from their source fields
//
// # Products
//
// A [Product] is one of [Crypto], [Fiat], [Simple], [ShareToken] or
// [CopyrightToken]. Use [GetProductAs] to read a specific variant:
//
//	btc, found, err := store.GetProductAs[store.Crypto](ctx, s, "acme", "crypto.coin.BTC")
//
// # Pagination
//
// Paginated reads return a [Page] whose Next and Previous tokens resume the
// read in either direction. Tokens are only valid for the index that issued
// them.
//
// # Configuration
//
// Use [DefaultConfig] and override the table name per environment:
//
//	cfg := store.DefaultConfig()
//	cfg.TableName = "lyra-products-staging"
//	s := store.New(client, cfg, logger)
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - row doesn't exist or is a different variant
//   - [ErrAlreadyExists] - a row with the same key already exists
//   - [ErrInvalidID] - malformed dotted product or instrument ID
//   - [ErrInvalidTenant] - blank tenant or tenant containing the key separator
//   - [ErrInvalidEntity] - entity failed validation before any write
//   - [ErrInvalidToken] - continuation token could not be decoded
//   - [ErrUnmapped] - stored row cannot be mapped to an entity
//   - [ErrAlreadyMinted] - product is already minted
package store
