// Package mockstorage provides a testify-based mock implementation
// of the storage interface. It is used for unit testing the services
// and HTTP handlers by simulating storage behavior.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"shortly/internal/models"
)

// StorageMock is a testify mock that implements the storage.Storage
// interface. Use it in tests to simulate database behavior,
// including forced conflicts.
type StorageMock struct {
	mock.Mock

	// OnIsShortCodeTaken, if set, is called instead of testify's
	// generic handler; tests use it to script collision sequences.
	OnIsShortCodeTaken func(ctx context.Context, shortCode string) (bool, error)
}

func (m *StorageMock) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	args := m.Called(ctx, username, passwordHash)
	usr, _ := args.Get(0).(*models.User)
	return usr, args.Error(1)
}

func (m *StorageMock) FindUserByUsername(ctx context.Context, username string) (*models.User, bool, error) {
	args := m.Called(ctx, username)
	usr, _ := args.Get(0).(*models.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *StorageMock) FindUserByID(ctx context.Context, id int) (*models.User, bool, error) {
	args := m.Called(ctx, id)
	usr, _ := args.Get(0).(*models.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *StorageMock) InsertMapping(ctx context.Context, ownerID int, longURL, shortCode string) (*models.URLMapping, error) {
	args := m.Called(ctx, ownerID, longURL, shortCode)
	mapping, _ := args.Get(0).(*models.URLMapping)
	return mapping, args.Error(1)
}

func (m *StorageMock) InsertMappings(ctx context.Context, mappings []models.URLMapping) error {
	args := m.Called(ctx, mappings)
	return args.Error(0)
}

func (m *StorageMock) FindMappingByOwnerAndLongURL(ctx context.Context, ownerID int, longURL string) (*models.URLMapping, bool, error) {
	args := m.Called(ctx, ownerID, longURL)
	mapping, _ := args.Get(0).(*models.URLMapping)
	return mapping, args.Bool(1), args.Error(2)
}

func (m *StorageMock) FindMappingByShortCode(ctx context.Context, shortCode string) (*models.URLMapping, bool, error) {
	args := m.Called(ctx, shortCode)
	mapping, _ := args.Get(0).(*models.URLMapping)
	return mapping, args.Bool(1), args.Error(2)
}

func (m *StorageMock) ListMappingsByOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error) {
	args := m.Called(ctx, ownerID)
	mappings, _ := args.Get(0).([]models.URLMapping)
	return mappings, args.Error(1)
}

func (m *StorageMock) IsShortCodeTaken(ctx context.Context, shortCode string) (bool, error) {
	if m.OnIsShortCodeTaken != nil {
		return m.OnIsShortCodeTaken(ctx, shortCode)
	}
	args := m.Called(ctx, shortCode)
	return args.Bool(0), args.Error(1)
}

func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StorageMock) GetNumberOfMappings(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StorageMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StorageMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
