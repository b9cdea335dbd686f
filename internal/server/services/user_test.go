package services

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spadeshq/accounts/internal/common"
	"github.com/spadeshq/accounts/internal/dbx"
	"github.com/spadeshq/accounts/internal/security"
	"github.com/spadeshq/accounts/internal/server/config"
	"github.com/spadeshq/accounts/internal/server/models"
	sessionsrepo "github.com/spadeshq/accounts/internal/server/repositories/sessions"
	usersrepo "github.com/spadeshq/accounts/internal/server/repositories/users"
)

// --- fakes ---

type fakeUsersRepo struct {
	createID  int64
	createErr error
	// captured Create args
	createdUsername string
	createdHash     string
	createdEmail    string

	findByLoginID  int64
	findByLoginErr error

	findByIDOut *models.User
	findByIDErr error

	searchOut []models.User
	searchErr error

	confirmAffected int64
	confirmErr      error

	updateErr    error
	updateCalled bool
	updateParams usersrepo.UpdateParams

	deleteErr    error
	deleteCalled bool
}

func (f *fakeUsersRepo) Create(ctx context.Context, username, passwordHash, email string) (int64, error) {
	f.createdUsername, f.createdHash, f.createdEmail = username, passwordHash, email
	return f.createID, f.createErr
}

func (f *fakeUsersRepo) FindByLogin(ctx context.Context, identifier, passwordHash string) (int64, error) {
	return f.findByLoginID, f.findByLoginErr
}

func (f *fakeUsersRepo) FindByID(ctx context.Context, id int64) (*models.User, error) {
	return f.findByIDOut, f.findByIDErr
}

func (f *fakeUsersRepo) Search(ctx context.Context, query string) ([]models.User, error) {
	return f.searchOut, f.searchErr
}

func (f *fakeUsersRepo) ConfirmByToken(ctx context.Context, token string) (int64, error) {
	return f.confirmAffected, f.confirmErr
}

func (f *fakeUsersRepo) Update(ctx context.Context, id int64, p usersrepo.UpdateParams) error {
	f.updateCalled = true
	f.updateParams = p
	return f.updateErr
}

func (f *fakeUsersRepo) Delete(ctx context.Context, id int64) error {
	f.deleteCalled = true
	return f.deleteErr
}

type fakeSessionsRepo struct {
	createToken string
	createErr   error
	createCalls int

	resolveOut *models.Session
	resolveErr error

	renewErr    error
	renewCalled bool

	deleteAllErr    error
	deleteAllCalled bool
}

func (f *fakeSessionsRepo) Create(ctx context.Context, userID int64, validity time.Duration) (string, error) {
	f.createCalls++
	return f.createToken, f.createErr
}

func (f *fakeSessionsRepo) Resolve(ctx context.Context, token string) (*models.Session, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.resolveOut, nil
}

func (f *fakeSessionsRepo) RenewIfNearExpiry(ctx context.Context, token string, validity, threshold time.Duration) error {
	f.renewCalled = true
	return f.renewErr
}

func (f *fakeSessionsRepo) DeleteAllForUser(ctx context.Context, userID int64) error {
	f.deleteAllCalled = true
	return f.deleteAllErr
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	s *fakeSessionsRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository       { return m.u }
func (m *fakeRepoManager) Sessions(db dbx.DBTX) sessionsrepo.Repository { return m.s }

// --- helpers ---

func newServiceWithFakes(t *testing.T) (*UserService, *fakeRepoManager, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := &fakeRepoManager{u: &fakeUsersRepo{}, s: &fakeSessionsRepo{}}
	cfg := &config.Config{
		SessionValidityDuration: time.Hour,
		SessionRenewThreshold:   15 * time.Minute,
	}
	return NewUserService(db, rm, cfg), rm, mock, db
}

func expectTxCommit(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectCommit()
}

func expectTxRollback(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectRollback()
}

func strPtr(s string) *string { return &s }

// --- Login ---

func TestLogin_Success(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.findByLoginID = 7
	rm.s.createToken = "tok-1"
	expectTxCommit(mock)

	token, err := svc.Login(context.Background(), "alice", "Alice123!")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
	assert.Equal(t, 1, rm.s.createCalls)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_UnknownUserOrWrongPassword_IsUnauthorized(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.findByLoginErr = common.ErrorNotFound
	expectTxRollback(mock)

	_, err := svc.Login(context.Background(), "ghost", "Nope1234!")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Zero(t, rm.s.createCalls, "no session on failed login")
}

func TestLogin_EachSuccessCreatesANewSession(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.findByLoginID = 7
	rm.s.createToken = "tok"
	expectTxCommit(mock)
	expectTxCommit(mock)

	_, err := svc.Login(context.Background(), "alice", "Alice123!")
	require.NoError(t, err)
	_, err = svc.Login(context.Background(), "alice", "Alice123!")
	require.NoError(t, err)
	assert.Equal(t, 2, rm.s.createCalls)
}

func TestLogin_StoreFault_Propagates(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.findByLoginErr = errors.New("db down")
	expectTxRollback(mock)

	_, err := svc.Login(context.Background(), "alice", "Alice123!")
	require.Error(t, err)
	require.NotErrorIs(t, err, common.ErrorUnauthorized)
}

// --- Register ---

func TestRegister_Success_HashesPasswordAndOpensSession(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.createID = 11
	rm.s.createToken = "tok-new"
	expectTxCommit(mock)

	token, err := svc.Register(context.Background(), "alice", "Alice123!", "a@X.Com")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", token)
	assert.Equal(t, "alice", rm.u.createdUsername)
	assert.Equal(t, security.HashValue("Alice123!"), rm.u.createdHash)
	assert.Equal(t, "a@x.com", rm.u.createdEmail, "email domain is normalized")
	assert.Equal(t, 1, rm.s.createCalls)
}

func TestRegister_ValidationFailsFastBeforeStore(t *testing.T) {
	svc, _, mock, _ := newServiceWithFakes(t)
	// No transaction expectations: invalid input must not reach the DB.

	tests := []struct {
		name     string
		username string
		password string
		email    string
		wantMsg  string
	}{
		{"bad username", "u!", "Alice123!", "a@x.com", "Username must be at least 4 characters long"},
		{"bad password", "alice", "short", "a@x.com", "Password must be at least 8 characters long"},
		{"bad email", "alice", "Alice123!", "a-x.com", "Email must contain exactly one @ character"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.password, tc.email)
			var ve *common.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.wantMsg, ve.Msg)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_ConflictPropagates(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.u.createErr = &common.ConflictError{Field: "username", Msg: "Username already exists"}
	expectTxRollback(mock)

	_, err := svc.Register(context.Background(), "alice", "Alice123!", "a@x.com")
	var ce *common.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "username", ce.Field)
	assert.Zero(t, rm.s.createCalls)
}

// --- Authorize ---

func TestAuthorize_EmptyToken(t *testing.T) {
	svc, _, mock, _ := newServiceWithFakes(t)
	expectTxRollback(mock)

	_, err := svc.Authorize(context.Background(), "")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestAuthorize_UnknownOrExpiredToken(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	// Resolve treats expired rows as absent, so this covers both.
	rm.s.resolveErr = common.ErrorNotFound
	expectTxRollback(mock)

	_, err := svc.Authorize(context.Background(), "tok-dead")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestAuthorize_Success_RenewsAndReturnsCurrentRole(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(10 * time.Minute)}
	rm.u.findByIDOut = &models.User{ID: 7, Username: "alice", Role: models.RoleAdmin}
	expectTxCommit(mock)

	auth, err := svc.Authorize(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int64(7), auth.UserID)
	assert.Equal(t, models.RoleAdmin, auth.Role)
	assert.True(t, rm.s.renewCalled, "renewal is attempted on every authorize")
}

func TestAuthorize_OrphanedSession(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDErr = common.ErrorNotFound
	expectTxRollback(mock)

	_, err := svc.Authorize(context.Background(), "tok")
	require.ErrorIs(t, err, common.ErrorUnauthorized)
}

// --- Confirm ---

func TestConfirm_PromotesNewUserOnce(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleNewUser}
	rm.u.confirmAffected = 1
	expectTxCommit(mock)

	require.NoError(t, svc.Confirm(context.Background(), "tok"))
}

func TestConfirm_AlreadyConfirmed(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleUser}
	expectTxRollback(mock)

	err := svc.Confirm(context.Background(), "tok")
	var ce *common.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "User already confirmed", ce.Msg)
}

func TestConfirm_UnknownToken_IsNotFound(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveErr = common.ErrorNotFound
	expectTxRollback(mock)

	err := svc.Confirm(context.Background(), "ghost")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestConfirm_ZeroRowsAffected_IsNotFound(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleNewUser}
	rm.u.confirmAffected = 0
	expectTxRollback(mock)

	err := svc.Confirm(context.Background(), "tok")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

// --- Update / Delete access rule ---

func TestUpdate_AccessMatrix(t *testing.T) {
	tests := []struct {
		name          string
		callerID      int64
		callerRole    string
		targetID      int64
		wantForbidden bool
	}{
		{"admin on other", 1, models.RoleAdmin, 2, false},
		{"admin on self", 1, models.RoleAdmin, 1, false},
		{"user on self", 2, models.RoleUser, 2, false},
		{"user on other", 2, models.RoleUser, 3, true},
		{"new_user on self", 4, models.RoleNewUser, 4, false},
		{"new_user on other", 4, models.RoleNewUser, 1, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, rm, mock, _ := newServiceWithFakes(t)
			rm.s.resolveOut = &models.Session{Token: "tok", UserID: tc.callerID, ExpiresAt: time.Now().Add(time.Hour)}
			rm.u.findByIDOut = &models.User{ID: tc.callerID, Role: tc.callerRole}
			if tc.wantForbidden {
				expectTxRollback(mock)
			} else {
				expectTxCommit(mock)
			}

			err := svc.Update(context.Background(), tc.targetID, UpdateRequest{Username: strPtr("newname")}, "tok")
			if tc.wantForbidden {
				require.ErrorIs(t, err, common.ErrorForbidden)
				assert.False(t, rm.u.updateCalled)
			} else {
				require.NoError(t, err)
				assert.True(t, rm.u.updateCalled)
			}
		})
	}
}

func TestUpdate_ValidatesFieldsBeforeStore(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	// No transaction expected.

	err := svc.Update(context.Background(), 7, UpdateRequest{Email: strPtr("not-an-email")}, "tok")
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, rm.u.updateCalled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_RejectsUnknownRole(t *testing.T) {
	svc, rm, _, _ := newServiceWithFakes(t)

	err := svc.Update(context.Background(), 7, UpdateRequest{Role: strPtr("superuser")}, "tok")
	var ve *common.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.False(t, rm.u.updateCalled)
}

func TestUpdate_HashesProvidedPassword(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleUser}
	expectTxCommit(mock)

	err := svc.Update(context.Background(), 7, UpdateRequest{Password: strPtr("Bob12345!")}, "tok")
	require.NoError(t, err)
	require.NotNil(t, rm.u.updateParams.PasswordHash)
	assert.Equal(t, security.HashValue("Bob12345!"), *rm.u.updateParams.PasswordHash)
}

func TestDelete_RemovesSessionsBeforeUser(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleUser}
	expectTxCommit(mock)

	require.NoError(t, svc.Delete(context.Background(), 7, "tok"))
	assert.True(t, rm.s.deleteAllCalled)
	assert.True(t, rm.u.deleteCalled)
}

func TestDelete_ForbiddenForOtherUser(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleUser}
	expectTxRollback(mock)

	err := svc.Delete(context.Background(), 8, "tok")
	require.ErrorIs(t, err, common.ErrorForbidden)
	assert.False(t, rm.s.deleteAllCalled)
	assert.False(t, rm.u.deleteCalled)
}

func TestDelete_PropagatesNotFound(t *testing.T) {
	svc, rm, mock, _ := newServiceWithFakes(t)
	rm.s.resolveOut = &models.Session{Token: "tok", UserID: 7, ExpiresAt: time.Now().Add(time.Hour)}
	rm.u.findByIDOut = &models.User{ID: 7, Role: models.RoleAdmin}
	rm.u.deleteErr = common.ErrorNotFound
	expectTxRollback(mock)

	err := svc.Delete(context.Background(), 9, "tok")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

// --- Search / Read ---

func TestSearch_Passthrough(t *testing.T) {
	svc, rm, _, _ := newServiceWithFakes(t)
	rm.u.searchOut = []models.User{{ID: 1, Username: "alice", Role: models.RoleNewUser}}

	got, err := svc.Search(context.Background(), "ali")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].Username)
}

func TestRead_NotFound(t *testing.T) {
	svc, rm, _, _ := newServiceWithFakes(t)
	rm.u.findByIDErr = common.ErrorNotFound

	_, err := svc.Read(context.Background(), 404)
	require.ErrorIs(t, err, common.ErrorNotFound)
}
