// Package models defines the domain types shared between the services,
// the storage backends and the HTTP layer, together with the sentinel
// errors that make up the application's error taxonomy.
package models

import "errors"

// User represents a registered account. The password is never kept in
// plaintext; PasswordHash holds a bcrypt hash.
type User struct {
	ID           int    `json:"id"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
}

// URLMapping is one shortened URL owned by a user. ShortCode is globally
// unique; (OwnerUserID, LongURL) is unique as well, which makes repeated
// submissions of the same URL by the same user idempotent.
type URLMapping struct {
	ID          int    `json:"id"`
	LongURL     string `json:"long_url"`
	ShortCode   string `json:"short_code"`
	OwnerUserID int    `json:"owner_user_id"`
}

var (
	// ErrValidation is returned when the input shape is wrong
	// (username length, missing password).
	ErrValidation = errors.New("validation failed")

	// ErrUsernameTaken is returned when a user already holds the username.
	ErrUsernameTaken = errors.New("username already taken")

	// ErrInvalidCredentials is returned on authentication failure. It is
	// deliberately the same for an unknown username and a wrong password.
	ErrInvalidCredentials = errors.New("invalid username or password")

	// ErrNotFound is returned when a short code resolves to nothing.
	ErrNotFound = errors.New("not found")

	// ErrShortCodeTaken signals a unique-constraint violation on the
	// short code during insertion.
	ErrShortCodeTaken = errors.New("short code already taken")

	// ErrMappingExists signals a unique-constraint violation on the
	// (owner, long URL) pair during insertion.
	ErrMappingExists = errors.New("URL already shortened by this user")
)

const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

type ShortenRequest struct {
	URL string `json:"url" validate:"required"`
}

type ShortenResponse struct {
	Result string `json:"result"`
}

type ShortenRequestItem struct {
	CorrelationID string `json:"correlation_id" validate:"required"`
	OriginalURL   string `json:"original_url" validate:"required"`
}

type BatchShortenRequest []ShortenRequestItem

type BatchShortenResponseItem struct {
	CorrelationID string `json:"correlation_id"`
	ShortURL      string `json:"short_url"`
}

type BatchShortenResponse []BatchShortenResponseItem

// UserURL is one row of the authenticated "my URLs" listings.
type UserURL struct {
	ShortURL    string `json:"short_url"`
	OriginalURL string `json:"original_url"`
}

type UserUrls []UserURL

// Stats is the payload of the trusted-subnet internal stats endpoint.
type Stats struct {
	Urls  int64 `json:"urls"`
	Users int64 `json:"users"`
}
