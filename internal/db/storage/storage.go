// Package storage declares the persistence interface implemented by the
// postgres, JSON-file and in-memory backends.
package storage

import (
	"context"

	"shortly/internal/models"
)

// UserKeeper owns User rows.
type UserKeeper interface {
	// CreateUser persists a new user. Returns models.ErrUsernameTaken
	// when the username is already held.
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)

	FindUserByUsername(ctx context.Context, username string) (*models.User, bool, error)

	FindUserByID(ctx context.Context, id int) (*models.User, bool, error)
}

// URLKeeper owns URLMapping rows.
type URLKeeper interface {
	// InsertMapping persists a new mapping. Returns
	// models.ErrShortCodeTaken on a short-code collision and
	// models.ErrMappingExists on an (owner, long URL) collision.
	InsertMapping(ctx context.Context, ownerID int, longURL, shortCode string) (*models.URLMapping, error)

	// InsertMappings persists a batch of mappings with the same
	// collision semantics as InsertMapping.
	InsertMappings(ctx context.Context, mappings []models.URLMapping) error

	FindMappingByOwnerAndLongURL(ctx context.Context, ownerID int, longURL string) (*models.URLMapping, bool, error)

	FindMappingByShortCode(ctx context.Context, shortCode string) (*models.URLMapping, bool, error)

	ListMappingsByOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error)

	IsShortCodeTaken(ctx context.Context, shortCode string) (bool, error)
}

// StatsKeeper serves the internal stats endpoint.
type StatsKeeper interface {
	GetNumberOfUsers(ctx context.Context) (int64, error)

	GetNumberOfMappings(ctx context.Context) (int64, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Storage is the full contract the application wires against.
type Storage interface {
	UserKeeper
	URLKeeper
	StatsKeeper
	Pinger
	Close() error
}
