// Package users is the credential store. It owns registration and
// password verification; plaintext passwords never leave this package
// and are never persisted or logged.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"shortly/internal/models"
)

type userKeeper interface {
	CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, bool, error)
	FindUserByID(ctx context.Context, id int) (*models.User, bool, error)
}

// Users provides registration and authentication on top of a storage backend.
type Users struct {
	db       userKeeper
	validate *validator.Validate
}

type registrationForm struct {
	Username string `validate:"min=5,max=9"`
	Password string `validate:"required"`
}

func New(db userKeeper) *Users {
	return &Users{
		db:       db,
		validate: validator.New(),
	}
}

// Register validates the credentials, hashes the password and persists a
// new user. It returns models.ErrValidation when the username length is
// outside [5,9] or the password is empty, and models.ErrUsernameTaken
// when the username is already held.
func (u *Users) Register(ctx context.Context, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)

	form := registrationForm{
		Username: username,
		Password: password,
	}
	if err := u.validate.Struct(form); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) && len(validationErrors) > 0 {
			if validationErrors[0].Field() == "Username" {
				return nil, fmt.Errorf("%w: username must be between 5 to 9 characters long", models.ErrValidation)
			}
			return nil, fmt.Errorf("%w: password is required", models.ErrValidation)
		}
		return nil, err
	}

	_, found, err := u.db.FindUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, models.ErrUsernameTaken
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	usr, err := u.db.CreateUser(ctx, username, string(passwordHash))
	if err != nil {
		return nil, err
	}

	return usr, nil
}

// Authenticate looks up the user and verifies the password against the
// stored hash. An unknown username and a wrong password produce the same
// models.ErrInvalidCredentials, so callers cannot tell them apart.
func (u *Users) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	usr, found, err := u.db.FindUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(usr.PasswordHash), []byte(password)); err != nil {
		return nil, models.ErrInvalidCredentials
	}

	return usr, nil
}

// GetByID fetches a user by its identifier, returning models.ErrNotFound
// when no such user exists. Used by the session middleware.
func (u *Users) GetByID(ctx context.Context, id int) (*models.User, error) {
	usr, found, err := u.db.FindUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, models.ErrNotFound
	}

	return usr, nil
}
