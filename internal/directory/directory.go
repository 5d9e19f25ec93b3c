// Package directory owns the mapping from short codes to long URLs.
// It ties the short-code generator to the storage uniqueness checks and
// implements the idempotent find-or-create policy: resubmitting the same
// long URL by the same user returns the existing code instead of minting
// a new one.
package directory

import (
	"context"
	"errors"
	"strings"

	"shortly/internal/models"
	"shortly/internal/shortcode"
)

type urlKeeper interface {
	InsertMapping(ctx context.Context, ownerID int, longURL, shortCode string) (*models.URLMapping, error)
	InsertMappings(ctx context.Context, mappings []models.URLMapping) error
	FindMappingByOwnerAndLongURL(ctx context.Context, ownerID int, longURL string) (*models.URLMapping, bool, error)
	FindMappingByShortCode(ctx context.Context, shortCode string) (*models.URLMapping, bool, error)
	ListMappingsByOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error)
	IsShortCodeTaken(ctx context.Context, shortCode string) (bool, error)
}

// reservedCodes are path segments served by fixed routes. A random code
// matching one of them would be shadowed by the router, so the generator
// treats them as taken.
var reservedCodes = map[string]bool{
	"signup": true,
	"logout": true,
}

// Directory provides find-or-create, resolution and listing of URL mappings.
type Directory struct {
	db urlKeeper
}

func New(db urlKeeper) *Directory {
	return &Directory{db: db}
}

func (d *Directory) isTaken(ctx context.Context) func(string) (bool, error) {
	return func(code string) (bool, error) {
		if reservedCodes[code] {
			return true, nil
		}
		return d.db.IsShortCodeTaken(ctx, code)
	}
}

// FindOrCreate returns the short code for (ownerID, longURL), creating a
// new mapping with a fresh globally unique code when none exists yet.
// The returned flag reports whether a new mapping was created.
// Lost races against a concurrent insertion surface as unique-constraint
// conflicts from the storage layer and are resolved by retrying the loop.
func (d *Directory) FindOrCreate(ctx context.Context, ownerID int, longURL string) (string, bool, error) {
	longURL = strings.TrimSpace(longURL)

	for {
		existing, found, err := d.db.FindMappingByOwnerAndLongURL(ctx, ownerID, longURL)
		if err != nil {
			return "", false, err
		}
		if found {
			return existing.ShortCode, false, nil
		}

		code, err := shortcode.Generate(d.isTaken(ctx))
		if err != nil {
			return "", false, err
		}

		_, err = d.db.InsertMapping(ctx, ownerID, longURL, code)
		switch {
		case err == nil:
			return code, true, nil
		case errors.Is(err, models.ErrShortCodeTaken):
			// Another request committed the same candidate first.
			continue
		case errors.Is(err, models.ErrMappingExists):
			// Another request inserted this (owner, URL) pair first;
			// the re-read returns its code.
			continue
		default:
			return "", false, err
		}
	}
}

// Resolve returns the long URL behind a short code, or models.ErrNotFound.
// This is the redirect path and requires no authentication.
func (d *Directory) Resolve(ctx context.Context, code string) (string, error) {
	mapping, found, err := d.db.FindMappingByShortCode(ctx, code)
	if err != nil {
		return "", err
	}
	if !found {
		return "", models.ErrNotFound
	}

	return mapping.LongURL, nil
}

// ListForOwner returns all mappings owned by the given user.
func (d *Directory) ListForOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error) {
	return d.db.ListMappingsByOwner(ctx, ownerID)
}

// ShortenBatch shortens a batch of URLs for one owner in a single storage
// round-trip for the new ones. Codes are unique within the batch as well
// as against the stored set; conflicts from concurrent writers restart
// the batch the same way FindOrCreate restarts a single insertion.
func (d *Directory) ShortenBatch(
	ctx context.Context,
	ownerID int,
	request models.BatchShortenRequest,
	shortURLFormatter func(string) string,
) (models.BatchShortenResponse, error) {
	for {
		response := models.BatchShortenResponse{}
		newMappings := []models.URLMapping{}
		codesInBatch := map[string]bool{}
		newCodesByURL := map[string]string{}

		isTaken := func(code string) (bool, error) {
			if codesInBatch[code] {
				return true, nil
			}
			return d.isTaken(ctx)(code)
		}

		for _, item := range request {
			longURL := strings.TrimSpace(item.OriginalURL)

			existing, found, err := d.db.FindMappingByOwnerAndLongURL(ctx, ownerID, longURL)
			if err != nil {
				return nil, err
			}

			var code string
			if found {
				code = existing.ShortCode
			} else if batchCode, seen := newCodesByURL[longURL]; seen {
				code = batchCode
			} else {
				code, err = shortcode.Generate(isTaken)
				if err != nil {
					return nil, err
				}
				codesInBatch[code] = true
				newCodesByURL[longURL] = code
				newMappings = append(newMappings, models.URLMapping{
					LongURL:     longURL,
					ShortCode:   code,
					OwnerUserID: ownerID,
				})
			}

			response = append(response, models.BatchShortenResponseItem{
				CorrelationID: item.CorrelationID,
				ShortURL:      shortURLFormatter(code),
			})
		}

		err := d.db.InsertMappings(ctx, newMappings)
		switch {
		case err == nil:
			return response, nil
		case errors.Is(err, models.ErrShortCodeTaken), errors.Is(err, models.ErrMappingExists):
			continue
		default:
			return nil, err
		}
	}
}
