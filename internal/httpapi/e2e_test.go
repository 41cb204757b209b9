package httpapi

import (
	"database/sql/driver"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/app/users"
	"github.com/titovtima/songsServer/internal/auth"
	"github.com/titovtima/songsServer/internal/credential"
	"github.com/titovtima/songsServer/internal/store"
)

// capture matches any string argument and remembers it.
type capture struct {
	value string
}

func (c *capture) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		c.value = s
	}
	return ok
}

func userRow(id int64, username string, passwordChanged time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "username", "email", "is_admin", "approved", "last_login", "last_password_change"}).
		AddRow(id, username, nil, false, true, nil, passwordChanged)
}

func TestRegisterLoginProfileFlow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	st := store.New(db, nil)
	authSvc := auth.New(st, nil, auth.Config{
		JWTSecret: []byte("test-secret"),
		JWTTTL:    time.Hour,
		Current:   credential.NewArgon2id(credential.Argon2Params{Memory: 1024, Time: 1, Threads: 1, KeyLen: 16, SaltLen: 8}),
		Logger:    zerolog.Nop(),
	})
	stubs := newTestServer(Config{})
	handler := New(Services{
		Auth:    authSvc,
		Users:   users.New(st),
		Songs:   stubs.songs,
		Artists: stubArtistService{},
		Lists:   stubs.lists,
		Audio:   stubs.audio,
	}, Config{Logger: zerolog.Nop()}).Routes()

	credentials := map[string]string{"username": "alice", "password": "Passw0rd!"}

	// Register.
	digest := &capture{}
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT min_key`)).
		WithArgs(store.SeqUsers).
		WillReturnRows(sqlmock.NewRows([]string{"min_key"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE keys`)).
		WithArgs(2, store.SeqUsers).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO users (id, username, password)`)).
		WithArgs(1, "alice", digest).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := do(t, handler, http.MethodPost, "/api/v1/auth/register", "", credentials)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if digest.value == "" || digest.value == "Passw0rd!" {
		t.Fatalf("password stored in clear or not at all: %q", digest.value)
	}

	// Login.
	tokenDigest := &capture{}
	mock.ExpectQuery(regexp.QuoteMeta(`LEFT JOIN legacy_passwords`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "password", "legacy"}).AddRow(1, digest.value, ""))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET last_login = NOW()`)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO auth_tokens`)).
		WithArgs(tokenDigest, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/login", "", credentials)
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var session struct {
		Token string `json:"token"`
		JWT   string `json:"jwt"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if len(session.Token) != credential.TokenLength || session.JWT == "" {
		t.Fatalf("unexpected session: %+v", session)
	}
	if tokenDigest.value != credential.TokenDigest(session.Token) {
		t.Fatalf("stored digest does not match issued token")
	}

	// Profile through the session token.
	passwordChanged := time.Now().Add(-time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE auth_tokens`)).
		WithArgs(tokenDigest.value).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(1).
		WillReturnRows(userRow(1, "alice", passwordChanged))

	rec = do(t, handler, http.MethodGet, "/api/v1/user/me", session.Token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	var profile store.User
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.ID != 1 || profile.Username != "alice" {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Profile through the signed token.
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(1).
		WillReturnRows(userRow(1, "alice", passwordChanged))
	mock.ExpectQuery(regexp.QuoteMeta(`FROM users WHERE id = $1`)).
		WithArgs(1).
		WillReturnRows(userRow(1, "alice", passwordChanged))

	rec = do(t, handler, http.MethodGet, "/api/v1/user/me", session.JWT, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile via jwt: expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Duplicate registration.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	rec = do(t, handler, http.MethodPost, "/api/v1/auth/register", "", credentials)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", rec.Code)
	}
	resp := decodeError(t, rec)
	if resp.ErrorCode != codeUsernameTaken || resp.Details != "Username is already taken" {
		t.Fatalf("unexpected error body: %+v", resp)
	}

	// Malformed username never reaches the database.
	rec = do(t, handler, http.MethodPost, "/api/v1/auth/register", "", map[string]string{"username": "a", "password": "Passw0rd!"})
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).ErrorCode != codeBadFormat {
		t.Fatalf("bad username: expected 400 code %d, got %d", codeBadFormat, rec.Code)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
