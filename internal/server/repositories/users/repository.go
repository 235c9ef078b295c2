// Package users declares the credential store contract and its Postgres,
// MongoDB and in-memory implementations.
//
// Implementations report missing accounts with common.ErrorNotFound,
// username or email collisions with common.ErrorAlreadyExists and a lost
// refresh-token compare-and-swap with common.ErrorRefreshTokenMismatch.
package users

import (
	"context"

	"github.com/dmitrijs2005/videotube/internal/server/models"
)

type Repository interface {
	// Create stores a new account, assigning ID (when empty) and timestamps.
	// Uniqueness of username and email is enforced by the store itself.
	Create(ctx context.Context, account *models.Account) (*models.Account, error)

	FindByID(ctx context.Context, id string) (*models.Account, error)
	FindByUsername(ctx context.Context, username string) (*models.Account, error)

	// FindByUsernameOrEmail returns the first account whose username or email
	// matches. An empty argument matches nothing.
	FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.Account, error)

	// SetRefreshToken replaces the stored refresh token unconditionally.
	SetRefreshToken(ctx context.Context, id, token string) error

	// RotateRefreshToken replaces the stored refresh token only if it still
	// equals current.
	RotateRefreshToken(ctx context.Context, id, current, next string) error

	ClearRefreshToken(ctx context.Context, id string) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error

	// UpdateDetails changes the non-empty fields among fullName and email.
	UpdateDetails(ctx context.Context, id, fullName, email string) (*models.Account, error)

	UpdateAvatar(ctx context.Context, id, url string) (*models.Account, error)
	UpdateCoverImage(ctx context.Context, id, url string) (*models.Account, error)

	// WatchHistory lists content ids in the order they were watched.
	WatchHistory(ctx context.Context, id string) ([]string, error)
}
