package sessions

import (
	"context"
	"time"

	"github.com/spadeshq/accounts/internal/server/models"
)

type Repository interface {
	// Create removes the user's already-expired sessions, then inserts a
	// fresh session valid for the given duration and returns its token.
	// Token collisions are retried with a newly generated token.
	Create(ctx context.Context, userID int64, validity time.Duration) (string, error)

	// Resolve returns the session for token. Unknown and expired tokens
	// both yield common.ErrorNotFound.
	Resolve(ctx context.Context, token string) (*models.Session, error)

	// RenewIfNearExpiry extends a still-valid session to now+validity
	// when its remaining validity is below threshold. The expiry check
	// and the extension are a single statement, so an expired session is
	// never renewed.
	RenewIfNearExpiry(ctx context.Context, token string, validity, threshold time.Duration) error

	// DeleteAllForUser removes every session owned by userID.
	DeleteAllForUser(ctx context.Context, userID int64) error
}
