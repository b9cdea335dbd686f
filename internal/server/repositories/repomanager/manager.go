package repomanager

import (
	"context"
	"database/sql"

	"github.com/spadeshq/accounts/internal/dbx"
	"github.com/spadeshq/accounts/internal/server/repositories/sessions"
	"github.com/spadeshq/accounts/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so a service can
// run several repositories against one transaction.
type RepositoryManager interface {
	RunMigrations(ctx context.Context, db *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Sessions(db dbx.DBTX) sessions.Repository
}
