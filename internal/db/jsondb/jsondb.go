// Package jsondb is a file-backed storage implementation. The whole
// dataset lives in memory and is flushed to a JSON file on Close.
package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"

	"shortly/internal/models"
)

// JSONDB keeps all rows in an in-memory cache loaded from fileName.
// A single RWMutex guards the cache, which closes the check-then-act
// windows of code generation and idempotent insertion for this backend.
type JSONDB struct {
	fileName string
	mu       sync.RWMutex
	Cache    CacheStruct
}

// CacheStruct is the serialized shape of the database file.
type CacheStruct struct {
	NextUserID    int
	NextMappingID int

	UsersByID         map[int]*models.User
	UserIDsByUsername map[string]int

	MappingsByShortCode map[string]*models.URLMapping
	ShortsByOwnerAndURL map[string]string
}

// NewCache returns an empty cache with all maps allocated.
func NewCache() CacheStruct {
	return CacheStruct{
		NextUserID:          1,
		NextMappingID:       1,
		UsersByID:           map[int]*models.User{},
		UserIDsByUsername:   map[string]int{},
		MappingsByShortCode: map[string]*models.URLMapping{},
		ShortsByOwnerAndURL: map[string]string{},
	}
}

func ownerAndURLKey(ownerID int, longURL string) string {
	return strconv.Itoa(ownerID) + "\n" + longURL
}

func initDBFile(fileName string) error {
	dbFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(dbFile)
	encoder.SetIndent("", "\t")
	if err := encoder.Encode(NewCache()); err != nil {
		return err
	}
	return dbFile.Close()
}

func parseJSONFile(fileName string, cache *CacheStruct) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(cache)
}

// New loads the database file, creating it first if it does not exist.
func New(fileName string) (*JSONDB, error) {
	db := &JSONDB{
		fileName: fileName,
		Cache:    NewCache(),
	}

	err := parseJSONFile(db.fileName, &db.Cache)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		if err := initDBFile(fileName); err != nil {
			return nil, err
		}
		if err := parseJSONFile(db.fileName, &db.Cache); err != nil {
			return nil, err
		}
	}

	return db, nil
}

// CreateUser persists a new user row in the cache.
func (db *JSONDB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.Cache.UserIDsByUsername[username]; exists {
		return nil, models.ErrUsernameTaken
	}

	usr := &models.User{
		ID:           db.Cache.NextUserID,
		Username:     username,
		PasswordHash: passwordHash,
	}
	db.Cache.NextUserID++
	db.Cache.UsersByID[usr.ID] = usr
	db.Cache.UserIDsByUsername[username] = usr.ID

	return usr, nil
}

func (db *JSONDB) FindUserByUsername(ctx context.Context, username string) (*models.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	id, found := db.Cache.UserIDsByUsername[username]
	if !found {
		return nil, false, nil
	}

	return db.Cache.UsersByID[id], true, nil
}

func (db *JSONDB) FindUserByID(ctx context.Context, id int) (*models.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	usr, found := db.Cache.UsersByID[id]

	return usr, found, nil
}

func (db *JSONDB) insertMappingLocked(ownerID int, longURL, shortCode string) (*models.URLMapping, error) {
	if _, exists := db.Cache.MappingsByShortCode[shortCode]; exists {
		return nil, models.ErrShortCodeTaken
	}
	if _, exists := db.Cache.ShortsByOwnerAndURL[ownerAndURLKey(ownerID, longURL)]; exists {
		return nil, models.ErrMappingExists
	}

	mapping := &models.URLMapping{
		ID:          db.Cache.NextMappingID,
		LongURL:     longURL,
		ShortCode:   shortCode,
		OwnerUserID: ownerID,
	}
	db.Cache.NextMappingID++
	db.Cache.MappingsByShortCode[shortCode] = mapping
	db.Cache.ShortsByOwnerAndURL[ownerAndURLKey(ownerID, longURL)] = shortCode

	return mapping, nil
}

// InsertMapping persists a new URL mapping row in the cache.
func (db *JSONDB) InsertMapping(ctx context.Context, ownerID int, longURL, shortCode string) (*models.URLMapping, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.insertMappingLocked(ownerID, longURL, shortCode)
}

// InsertMappings persists a batch of mappings. The batch is not atomic
// for this backend; a collision aborts the remainder.
func (db *JSONDB) InsertMappings(ctx context.Context, mappings []models.URLMapping) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, m := range mappings {
		if _, err := db.insertMappingLocked(m.OwnerUserID, m.LongURL, m.ShortCode); err != nil {
			return err
		}
	}

	return nil
}

func (db *JSONDB) FindMappingByOwnerAndLongURL(ctx context.Context, ownerID int, longURL string) (*models.URLMapping, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	short, found := db.Cache.ShortsByOwnerAndURL[ownerAndURLKey(ownerID, longURL)]
	if !found {
		return nil, false, nil
	}

	return db.Cache.MappingsByShortCode[short], true, nil
}

func (db *JSONDB) FindMappingByShortCode(ctx context.Context, shortCode string) (*models.URLMapping, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	mapping, found := db.Cache.MappingsByShortCode[shortCode]

	return mapping, found, nil
}

func (db *JSONDB) ListMappingsByOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	result := []models.URLMapping{}
	for _, mapping := range db.Cache.MappingsByShortCode {
		if mapping.OwnerUserID == ownerID {
			result = append(result, *mapping)
		}
	}

	return result, nil
}

func (db *JSONDB) IsShortCodeTaken(ctx context.Context, shortCode string) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	_, taken := db.Cache.MappingsByShortCode[shortCode]

	return taken, nil
}

func (db *JSONDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.UsersByID)), nil
}

func (db *JSONDB) GetNumberOfMappings(ctx context.Context) (int64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return int64(len(db.Cache.MappingsByShortCode)), nil
}

// Ping always succeeds for the file backend.
func (db *JSONDB) Ping(ctx context.Context) error {
	return nil
}

// Close flushes the cache back to the database file.
func (db *JSONDB) Close() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	jsonData, err := json.MarshalIndent(db.Cache, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	file, err := os.OpenFile(db.fileName, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(jsonData); err != nil {
		return fmt.Errorf("error writing to file: %w", err)
	}

	return nil
}
