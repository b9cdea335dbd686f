// Package services contains the server-side business logic. This file
// implements UserService: login, registration, confirmation, lookup,
// partial update and deletion of user accounts, plus the token-based
// authorization every protected operation goes through.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/dbx"
	"github.com/spadeshq/accounts/internal/security"
	"github.com/spadeshq/accounts/internal/server/config"
	"github.com/spadeshq/accounts/internal/server/models"
	"github.com/spadeshq/accounts/internal/server/repositories/repomanager"
	"github.com/spadeshq/accounts/internal/server/repositories/users"
	"github.com/spadeshq/accounts/internal/validate"
)

// Auth is the result of resolving a session token: who the caller is and
// what tier of access they hold.
type Auth struct {
	UserID int64
	Role   string
}

// UpdateRequest carries a partial user update with raw field values; nil
// fields are left unchanged. Password, if set, is the raw password and is
// validated and hashed before it reaches the repository.
type UpdateRequest struct {
	Username       *string
	Password       *string
	Email          *string
	ProfilePicture *string
	Role           *string
}

// UserService orchestrates account operations over the repositories and
// applies the role-based access policy. Every operation that touches the
// store runs as a single transaction.
type UserService struct {
	db              *sql.DB
	repos           repomanager.RepositoryManager
	sessionValidity time.Duration
	renewThreshold  time.Duration
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		db:              db,
		repos:           m,
		sessionValidity: cfg.SessionValidityDuration,
		renewThreshold:  cfg.SessionRenewThreshold,
	}
}

// Login verifies identifier (username or email) and password and creates
// a new session, returning its token. Unknown identifier and wrong
// password are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, identifier, password string) (string, error) {
	hash := security.HashValue(password)

	var token string
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		id, err := s.repos.Users(tx).FindByLogin(ctx, identifier, hash)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrorUnauthorized
			}
			return err
		}
		token, err = s.repos.Sessions(tx).Create(ctx, id, s.sessionValidity)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Register validates the three fields (failing fast on the first invalid
// one), creates the account with role new_user and immediately opens a
// session for it.
func (s *UserService) Register(ctx context.Context, username, password, email string) (string, error) {
	username, err := validate.Username(username)
	if err != nil {
		return "", err
	}
	passwordHash, err := validate.Password(password)
	if err != nil {
		return "", err
	}
	email, err = validate.Email(email)
	if err != nil {
		return "", err
	}

	var token string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		id, err := s.repos.Users(tx).Create(ctx, username, passwordHash, email)
		if err != nil {
			return err
		}
		token, err = s.repos.Sessions(tx).Create(ctx, id, s.sessionValidity)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Authorize resolves a session token to the caller's identity and current
// role. A missing, unknown or expired token yields ErrorUnauthorized. As
// a side effect, a session close to its expiry is extended in place so
// active users stay logged in.
func (s *UserService) Authorize(ctx context.Context, token string) (*Auth, error) {
	var auth *Auth
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		auth, err = s.authorize(ctx, tx, token)
		return err
	})
	if err != nil {
		return nil, err
	}
	return auth, nil
}

// authorize is Authorize against an existing transaction handle.
func (s *UserService) authorize(ctx context.Context, tx dbx.DBTX, token string) (*Auth, error) {
	if token == "" {
		return nil, common.ErrorUnauthorized
	}

	sessionRepo := s.repos.Sessions(tx)
	session, err := sessionRepo.Resolve(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	if err := sessionRepo.RenewIfNearExpiry(ctx, token, s.sessionValidity, s.renewThreshold); err != nil {
		return nil, err
	}

	user, err := s.repos.Users(tx).FindByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}

	return &Auth{UserID: session.UserID, Role: user.Role}, nil
}

// Confirm promotes the token's owner from new_user to user. An already
// confirmed account conflicts; a token that maps to no session or user is
// not found.
func (s *UserService) Confirm(ctx context.Context, token string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		auth, err := s.authorize(ctx, tx, token)
		if err != nil {
			if errors.Is(err, common.ErrorUnauthorized) {
				return common.ErrorNotFound
			}
			return err
		}
		if auth.Role != models.RoleNewUser {
			return &common.ConflictError{Msg: "User already confirmed"}
		}

		affected, err := s.repos.Users(tx).ConfirmByToken(ctx, token)
		if err != nil {
			return err
		}
		if affected == 0 {
			return common.ErrorNotFound
		}
		return nil
	})
}

// Search returns users whose username contains query, ordered by id.
// Public: no authorization.
func (s *UserService) Search(ctx context.Context, query string) ([]models.User, error) {
	return s.repos.Users(s.db).Search(ctx, query)
}

// Read returns the public record of one user. Public: no authorization.
func (s *UserService) Read(ctx context.Context, id int64) (*models.User, error) {
	return s.repos.Users(s.db).FindByID(ctx, id)
}

// Update applies a partial update to the target user. Allowed for admins
// and for the account owner. Provided fields are validated up front, so a
// malformed field is reported before any store access.
func (s *UserService) Update(ctx context.Context, id int64, req UpdateRequest, token string) error {
	params, err := buildUpdateParams(req)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		auth, err := s.authorize(ctx, tx, token)
		if err != nil {
			return err
		}
		if auth.Role != models.RoleAdmin && auth.UserID != id {
			return common.ErrorForbidden
		}
		return s.repos.Users(tx).Update(ctx, id, params)
	})
}

// Delete removes the target user and every session they own, in one
// transaction. Same access rule as Update.
func (s *UserService) Delete(ctx context.Context, id int64, token string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		auth, err := s.authorize(ctx, tx, token)
		if err != nil {
			return err
		}
		if auth.Role != models.RoleAdmin && auth.UserID != id {
			return common.ErrorForbidden
		}
		// Sessions go first so the user row never leaves dangling
		// references behind.
		if err := s.repos.Sessions(tx).DeleteAllForUser(ctx, id); err != nil {
			return err
		}
		return s.repos.Users(tx).Delete(ctx, id)
	})
}

func buildUpdateParams(req UpdateRequest) (users.UpdateParams, error) {
	var params users.UpdateParams

	if req.Username != nil {
		v, err := validate.Username(*req.Username)
		if err != nil {
			return params, err
		}
		params.Username = &v
	}
	if req.Password != nil {
		hash, err := validate.Password(*req.Password)
		if err != nil {
			return params, err
		}
		params.PasswordHash = &hash
	}
	if req.Email != nil {
		v, err := validate.Email(*req.Email)
		if err != nil {
			return params, err
		}
		params.Email = &v
	}
	if req.Role != nil {
		if !models.ValidRole(*req.Role) {
			return params, &common.ValidationError{
				Msg: fmt.Sprintf("Role must be one of %s, %s or %s", models.RoleNewUser, models.RoleUser, models.RoleAdmin),
			}
		}
		params.Role = req.Role
	}
	params.ProfilePicture = req.ProfilePicture

	return params, nil
}
