// Package postgresdb provides the PostgreSQL-based implementation of the
// storage interface. Uniqueness of usernames, short codes and
// (owner, long URL) pairs is enforced by database constraints, so the
// check-then-act windows of the in-memory backends are closed here by
// the schema itself; callers retry on the reported conflict.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/thoas/go-funk"

	"shortly/internal/models"
)

// PostgresDB is a PostgreSQL-backed implementation of the application storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

const uniqueViolationCode = "23505"

// New establishes a connection to the PostgreSQL database, runs schema
// migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
) (*PostgresDB, error) {
	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.Up(result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

func asUniqueViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return pgErr, true
	}
	return nil, false
}

func mapMappingInsertError(err error) error {
	pgErr, ok := asUniqueViolation(err)
	if !ok {
		return err
	}
	if strings.Contains(pgErr.ConstraintName, "short_code") {
		return models.ErrShortCodeTaken
	}
	return models.ErrMappingExists
}

// CreateUser inserts a new user row and returns it with the generated ID.
func (db *PostgresDB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	row := db.database.QueryRowContext(
		ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id`,
		username,
		passwordHash,
	)

	usr := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
	}
	if err := row.Scan(&usr.ID); err != nil {
		if _, ok := asUniqueViolation(err); ok {
			return nil, models.ErrUsernameTaken
		}
		return nil, err
	}

	return usr, nil
}

func (db *PostgresDB) FindUserByUsername(ctx context.Context, username string) (*models.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, username, password_hash FROM users WHERE username = $1`,
		username,
	)

	return scanUser(row)
}

func (db *PostgresDB) FindUserByID(ctx context.Context, id int) (*models.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, username, password_hash FROM users WHERE id = $1`,
		id,
	)

	return scanUser(row)
}

func scanUser(row *sql.Row) (*models.User, bool, error) {
	usr := &models.User{}
	err := row.Scan(&usr.ID, &usr.Username, &usr.PasswordHash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return usr, true, nil
}

// InsertMapping inserts a single URL mapping row.
func (db *PostgresDB) InsertMapping(ctx context.Context, ownerID int, longURL, shortCode string) (*models.URLMapping, error) {
	row := db.database.QueryRowContext(
		ctx,
		`INSERT INTO url_mappings (long_url, short_code, owner_user_id)
			VALUES ($1, $2, $3)
			RETURNING id`,
		longURL,
		shortCode,
		ownerID,
	)

	mapping := &models.URLMapping{
		LongURL:     longURL,
		ShortCode:   shortCode,
		OwnerUserID: ownerID,
	}
	if err := row.Scan(&mapping.ID); err != nil {
		return nil, mapMappingInsertError(err)
	}

	return mapping, nil
}

// InsertMappings inserts a batch of URL mapping rows in a single statement.
func (db *PostgresDB) InsertMappings(ctx context.Context, mappings []models.URLMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	values := make([][]interface{}, len(mappings))
	placeholders := make([]string, len(mappings))
	for i, mapping := range mappings {
		values[i] = []interface{}{mapping.LongURL, mapping.ShortCode, mapping.OwnerUserID}
		placeholders[i] = fmt.Sprintf("($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
	}

	_, err := db.database.ExecContext(
		ctx,
		fmt.Sprintf(
			`INSERT INTO url_mappings (long_url, short_code, owner_user_id) VALUES %s`,
			strings.Join(placeholders, ","),
		),
		funk.Flatten(values).([]interface{})...,
	)
	if err != nil {
		return mapMappingInsertError(err)
	}

	return nil
}

func (db *PostgresDB) FindMappingByOwnerAndLongURL(ctx context.Context, ownerID int, longURL string) (*models.URLMapping, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, long_url, short_code, owner_user_id
			FROM url_mappings
			WHERE owner_user_id = $1 AND long_url = $2`,
		ownerID,
		longURL,
	)

	return scanMapping(row)
}

func (db *PostgresDB) FindMappingByShortCode(ctx context.Context, shortCode string) (*models.URLMapping, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, long_url, short_code, owner_user_id
			FROM url_mappings
			WHERE short_code = $1`,
		shortCode,
	)

	return scanMapping(row)
}

func scanMapping(row *sql.Row) (*models.URLMapping, bool, error) {
	mapping := &models.URLMapping{}
	err := row.Scan(&mapping.ID, &mapping.LongURL, &mapping.ShortCode, &mapping.OwnerUserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return mapping, true, nil
}

func (db *PostgresDB) ListMappingsByOwner(ctx context.Context, ownerID int) ([]models.URLMapping, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`SELECT id, long_url, short_code, owner_user_id
			FROM url_mappings
			WHERE owner_user_id = $1
			ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.URLMapping{}
	for rows.Next() {
		var mapping models.URLMapping
		err = rows.Scan(&mapping.ID, &mapping.LongURL, &mapping.ShortCode, &mapping.OwnerUserID)
		if err != nil {
			return nil, err
		}
		result = append(result, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (db *PostgresDB) IsShortCodeTaken(ctx context.Context, shortCode string) (bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM url_mappings WHERE short_code = $1)`,
		shortCode,
	)

	var taken bool
	if err := row.Scan(&taken); err != nil {
		return false, err
	}

	return taken, nil
}

func (db *PostgresDB) GetNumberOfUsers(ctx context.Context) (int64, error) {
	return db.countRows(ctx, `SELECT COUNT(*) FROM users`)
}

func (db *PostgresDB) GetNumberOfMappings(ctx context.Context) (int64, error) {
	return db.countRows(ctx, `SELECT COUNT(*) FROM url_mappings`)
}

func (db *PostgresDB) countRows(ctx context.Context, query string) (int64, error) {
	var count int64
	if err := db.database.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// Ping verifies the database connection within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(ctxWithTimeout)
}

// Close closes the underlying database connection.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}
