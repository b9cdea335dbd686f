// Package sessions provides the PostgreSQL-backed session store: opaque
// tokens with server-side expiry and sliding renewal.
package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/dbx"
	"github.com/spadeshq/accounts/internal/security"
	"github.com/spadeshq/accounts/internal/server/models"
)

// generateToken is a seam for tests.
var generateToken = security.GenerateToken

// maxCreateAttempts bounds the token-collision retry loop. With a 122-bit
// random token a single retry is already astronomically unlikely.
const maxCreateAttempts = 4

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, userID int64, validity time.Duration) (string, error) {

	cleanup := `
		DELETE FROM sessions WHERE user_id = $1 AND expires_at < now()
	`
	if _, err := r.db.ExecContext(ctx, cleanup, userID); err != nil {
		return "", fmt.Errorf("db error: %w", err)
	}

	// ON CONFLICT DO NOTHING keeps a collision from aborting the
	// surrounding transaction; zero rows affected means "try another
	// token".
	insert := `
		INSERT INTO sessions (user_id, token, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT ON CONSTRAINT sessions_token_key DO NOTHING
	`

	var token string
	backoff := retry.WithMaxRetries(maxCreateAttempts, retry.NewConstant(time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		token = generateToken()
		res, err := r.db.ExecContext(ctx, insert, userID, token, validity.Seconds())
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		if affected == 0 {
			return retry.RetryableError(errors.New("session token collision"))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return token, nil
}

func (r *PostgresRepository) Resolve(ctx context.Context, token string) (*models.Session, error) {

	query := `
		SELECT user_id, expires_at FROM sessions
		WHERE token = $1 AND expires_at > now()
	`

	session := &models.Session{Token: token}
	if err := r.db.QueryRowContext(ctx, query, token).Scan(&session.UserID, &session.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return session, nil
}

func (r *PostgresRepository) RenewIfNearExpiry(ctx context.Context, token string, validity, threshold time.Duration) error {

	query := `
		UPDATE sessions SET expires_at = now() + make_interval(secs => $2)
		WHERE token = $1
		  AND expires_at > now()
		  AND expires_at < now() + make_interval(secs => $3)
	`

	if _, err := r.db.ExecContext(ctx, query, token, validity.Seconds(), threshold.Seconds()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) DeleteAllForUser(ctx context.Context, userID int64) error {

	query := `
		DELETE FROM sessions WHERE user_id = $1
	`

	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}
