package users

import (
	"context"

	"github.com/spadeshq/accounts/internal/server/models"
)

// UpdateParams carries a partial update; nil fields keep their stored
// value. PasswordHash must already be the validator's digest.
type UpdateParams struct {
	Username       *string
	PasswordHash   *string
	Email          *string
	Role           *string
	ProfilePicture *string
}

type Repository interface {
	// Create inserts a user with role new_user and returns its id.
	// Duplicate username/email yields a common.ConflictError.
	Create(ctx context.Context, username, passwordHash, email string) (int64, error)

	// FindByLogin matches identifier against username or email together
	// with the password hash. Absent match yields common.ErrorNotFound.
	FindByLogin(ctx context.Context, identifier, passwordHash string) (int64, error)

	// FindByID returns the public part of a user record.
	FindByID(ctx context.Context, id int64) (*models.User, error)

	// Search returns users whose username contains query
	// (case-insensitive), ordered by id. Empty query matches all.
	Search(ctx context.Context, query string) ([]models.User, error)

	// ConfirmByToken promotes new_user to user for the owner of the
	// given session token and returns the number of rows affected.
	ConfirmByToken(ctx context.Context, token string) (int64, error)

	// Update applies a partial update. 0 rows affected yields
	// common.ErrorNotFound, unique violations a common.ConflictError.
	Update(ctx context.Context, id int64, p UpdateParams) error

	// Delete removes a user row; common.ErrorNotFound when absent.
	Delete(ctx context.Context, id int64) error
}
