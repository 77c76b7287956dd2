package store

import (
	"errors"

	"github.com/jacentio/lyra/internal/keys"
)

var (
	// ErrNotFound is returned when a targeted update addresses a row that doesn't exist.
	// Point lookups report absence through their found result instead.
	ErrNotFound = errors.New("lyra: entity not found")

	// ErrAlreadyExists is returned when attempting to create an entity with an existing ID.
	ErrAlreadyExists = errors.New("lyra: entity already exists")

	// ErrInvalidID is returned for malformed product or instrument identifiers.
	ErrInvalidID = keys.ErrMalformedID

	// ErrInvalidTenant is returned for tenants that cannot be embedded in a key.
	ErrInvalidTenant = keys.ErrMalformedTenant

	// ErrInvalidEntity is returned when an entity fails field validation.
	ErrInvalidEntity = errors.New("lyra: invalid entity")

	// ErrInvalidStatus is returned when writing a status code other than Enabled or Disabled.
	ErrInvalidStatus = errors.New("lyra: invalid status")

	// ErrInvalidToken is returned when a pagination token cannot be decoded
	// or was issued for another index.
	ErrInvalidToken = errors.New("lyra: invalid pagination token")

	// ErrUnmapped is returned when a stored record cannot be interpreted as any known entity.
	ErrUnmapped = errors.New("lyra: record cannot be mapped to an entity")

	// ErrUnexpectedVariant is returned by GetProductAs when the stored variant differs from the requested one.
	ErrUnexpectedVariant = errors.New("lyra: product is of a different variant")

	// ErrAlreadyMinted is returned when marking an already minted product as minted.
	ErrAlreadyMinted = errors.New("lyra: product is already minted")
)
