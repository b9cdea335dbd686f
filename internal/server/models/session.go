package models

import "time"

// Session is a row in the sessions table. A session is valid while
// ExpiresAt lies in the future; expired rows are treated as absent and
// cleaned up lazily on the owner's next login.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
