// Package users provides the PostgreSQL-backed repository for user
// records and the uniqueness guarantees around them.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/dbx"
	"github.com/spadeshq/accounts/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// mapConflict translates a unique-violation into a ConflictError naming
// the colliding column. Any other error passes through unchanged.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return &common.ConflictError{Field: "username", Msg: "Username already exists"}
		case "users_email_key":
			return &common.ConflictError{Field: "email", Msg: "Email already exists"}
		}
	}
	return err
}

func (r *PostgresRepository) Create(ctx context.Context, username, passwordHash, email string) (int64, error) {

	query := `
		INSERT INTO users (username, password_hash, email, role, created_at, updated_at)
		VALUES ($1, $2, $3, 'new_user', now(), now())
		RETURNING id
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, username, passwordHash, email).Scan(&id); err != nil {
		if mapped := mapConflict(err); mapped != err {
			return 0, mapped
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return id, nil
}

func (r *PostgresRepository) FindByLogin(ctx context.Context, identifier, passwordHash string) (int64, error) {

	query := `
		SELECT id FROM users
		WHERE (username = $1 OR email = $1) AND password_hash = $2
	`

	var id int64
	if err := r.db.QueryRowContext(ctx, query, identifier, passwordHash).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return id, nil
}

func (r *PostgresRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {

	query := `
		SELECT username, role, profile_picture FROM users
		WHERE id = $1
	`

	user := &models.User{ID: id}
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&user.Username, &user.Role, &user.ProfilePicture); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

func (r *PostgresRepository) Search(ctx context.Context, query string) ([]models.User, error) {

	q := `
		SELECT id, username, role, profile_picture FROM users
		WHERE username ILIKE '%' || $1 || '%'
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := []models.User{}
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Role, &user.ProfilePicture); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) ConfirmByToken(ctx context.Context, token string) (int64, error) {

	query := `
		UPDATE users SET role = 'user', updated_at = now()
		WHERE id = (SELECT user_id FROM sessions WHERE token = $1)
	`

	res, err := r.db.ExecContext(ctx, query, token)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	return affected, nil
}

func (r *PostgresRepository) Update(ctx context.Context, id int64, p UpdateParams) error {

	query := `
		UPDATE users SET
			username = COALESCE($1, username),
			password_hash = COALESCE($2, password_hash),
			email = COALESCE($3, email),
			role = COALESCE($4, role),
			profile_picture = COALESCE($5, profile_picture),
			updated_at = now()
		WHERE id = $6
	`

	res, err := r.db.ExecContext(ctx, query, p.Username, p.PasswordHash, p.Email, p.Role, p.ProfilePicture, id)
	if err != nil {
		if mapped := mapConflict(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {

	query := `
		DELETE FROM users WHERE id = $1
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return common.ErrorNotFound
	}

	return nil
}
