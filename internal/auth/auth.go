// Package auth registers accounts, checks passwords and issues session
// tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/titovtima/songsServer/internal/credential"
	"github.com/titovtima/songsServer/internal/store"
)

var (
	// ErrInvalidUsername is returned when a username does not match the allowed format.
	ErrInvalidUsername = errors.New("invalid username format")
	// ErrInvalidPassword is returned when a password does not match the allowed format.
	ErrInvalidPassword = errors.New("invalid password format")
	// ErrInvalidEmail is returned for unparsable email addresses.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidCredentials is returned when username and password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUnauthorized is returned for unknown, expired or revoked tokens.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrTokenGeneration is returned when no unused token could be generated.
	ErrTokenGeneration = errors.New("token generation failed")
	// ErrInvalidActionToken is returned when an action token does not validate.
	ErrInvalidActionToken = errors.New("invalid action token")
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Zа-яА-Я0-9_.@-]{3,64}$`)
	passwordPattern = regexp.MustCompile(`^[a-zA-Zа-яА-Я0-9_#?!@$%^&*-]{6,128}$`)
)

const (
	tokenAttempts  = 10
	actionTokenTTL = 24 * time.Hour
)

// Store lists the persistence operations the service needs.
type Store interface {
	NextID(ctx context.Context, name string) (int64, error)
	UsernameTaken(ctx context.Context, username string) (bool, error)
	CreateUser(ctx context.Context, id int64, username, passwordDigest string) error
	UserByID(ctx context.Context, id int64) (store.User, error)
	UserByUsername(ctx context.Context, username string) (store.User, error)
	CredentialsByUsername(ctx context.Context, username string) (store.Credentials, error)
	TouchLogin(ctx context.Context, userID int64) error
	UpgradePassword(ctx context.Context, userID int64, digest string) error
	SetPassword(ctx context.Context, userID int64, digest string) error
	SetEmail(ctx context.Context, userID int64, email *string) error

	InsertAuthToken(ctx context.Context, digest string, userID int64) error
	UserIDByAuthToken(ctx context.Context, digest string) (int64, error)
	DeleteAuthTokens(ctx context.Context, userID int64) (int64, error)
	InsertActionToken(ctx context.Context, digest string, userID int64, action int) error
	ConsumeActionToken(ctx context.Context, userID int64, digest string, action int, notBefore time.Time) error
	DeleteExpiredActionTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

// Mailer delivers password recovery links.
type Mailer interface {
	SendPasswordRecovery(ctx context.Context, user store.User, token string) error
}

// Config tunes the service. Zero values fall back to production defaults.
type Config struct {
	JWTSecret []byte
	JWTTTL    time.Duration
	Current   credential.Scheme
	Legacy    credential.Scheme
	Now       func() time.Time
	NewToken  func(n int) (string, error)
	Logger    zerolog.Logger
}

// Session is returned by a successful login.
type Session struct {
	UserID int64  `json:"-"`
	Token  string `json:"token"`
	JWT    string `json:"jwt"`
}

// Service implements the account workflows.
type Service struct {
	store    Store
	mailer   Mailer
	secret   []byte
	ttl      time.Duration
	current  credential.Scheme
	legacy   credential.Scheme
	now      func() time.Time
	newToken func(n int) (string, error)
	logger   zerolog.Logger
}

// New wires a Service. mailer may be nil, in which case recovery requests
// are accepted and dropped.
func New(st Store, mailer Mailer, cfg Config) *Service {
	s := &Service{
		store:    st,
		mailer:   mailer,
		secret:   cfg.JWTSecret,
		ttl:      cfg.JWTTTL,
		current:  cfg.Current,
		legacy:   cfg.Legacy,
		now:      cfg.Now,
		newToken: cfg.NewToken,
		logger:   cfg.Logger,
	}
	if s.ttl <= 0 {
		s.ttl = 30 * 24 * time.Hour
	}
	if s.current == nil {
		s.current = credential.Current()
	}
	if s.legacy == nil {
		s.legacy = credential.Legacy()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newToken == nil {
		s.newToken = credential.RandomToken
	}
	return s
}

// ValidUsername reports whether username has the allowed format.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// ValidPassword reports whether password has the allowed format.
func ValidPassword(password string) bool {
	return passwordPattern.MatchString(password)
}

// Register creates an account and returns its id. A taken username yields
// store.ErrUserExists and leaves the existing account untouched.
func (s *Service) Register(ctx context.Context, username, password string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !ValidUsername(username) {
		return 0, ErrInvalidUsername
	}
	if !ValidPassword(password) {
		return 0, ErrInvalidPassword
	}

	taken, err := s.store.UsernameTaken(ctx, username)
	if err != nil {
		return 0, err
	}
	if taken {
		return 0, store.ErrUserExists
	}

	digest, err := s.current.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.NextID(ctx, store.SeqUsers)
	if err != nil {
		return 0, err
	}
	if err := s.store.CreateUser(ctx, id, username, digest); err != nil {
		return 0, err
	}
	return id, nil
}

// Login checks the password and opens a session. Accounts still holding a
// legacy digest are moved to the current scheme on their first successful
// login.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	creds, err := s.store.CredentialsByUsername(ctx, username)
	if errors.Is(err, store.ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}

	switch {
	case creds.Password != "" && s.current.Verify(creds.Password, password):
		if err := s.store.TouchLogin(ctx, creds.UserID); err != nil {
			return Session{}, err
		}
	case creds.Legacy != "" && s.legacy.Verify(creds.Legacy, password):
		digest, err := s.current.Hash(password)
		if err != nil {
			return Session{}, fmt.Errorf("hash password: %w", err)
		}
		if err := s.store.UpgradePassword(ctx, creds.UserID, digest); err != nil {
			return Session{}, err
		}
		s.logger.Info().Int64("user_id", creds.UserID).Msg("legacy password upgraded")
	default:
		return Session{}, ErrInvalidCredentials
	}

	token, err := s.issueToken(ctx, func(digest string) error {
		return s.store.InsertAuthToken(ctx, digest, creds.UserID)
	})
	if err != nil {
		return Session{}, err
	}

	signed, err := s.signJWT(creds.UserID, username)
	if err != nil {
		return Session{}, err
	}

	return Session{UserID: creds.UserID, Token: token, JWT: signed}, nil
}

// Authenticate resolves a bearer credential to a user id. Three-segment
// credentials are treated as signed tokens, anything else as a session token.
func (s *Service) Authenticate(ctx context.Context, bearer string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	bearer = strings.TrimSpace(bearer)
	if bearer == "" {
		return 0, ErrUnauthorized
	}

	if strings.Count(bearer, ".") == 2 {
		return s.authenticateJWT(ctx, bearer)
	}

	userID, err := s.store.UserIDByAuthToken(ctx, credential.TokenDigest(bearer))
	if errors.Is(err, store.ErrUnauthorized) {
		return 0, ErrUnauthorized
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// RevokeAllTokens ends every session of the user.
func (s *Service) RevokeAllTokens(ctx context.Context, userID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := s.store.DeleteAuthTokens(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", userID).Int64("revoked", n).Msg("session tokens revoked")
	return nil
}

// ChangePassword stores a new password. Signed tokens issued before the
// change stop validating; session tokens stay valid unless revoked.
func (s *Service) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ValidPassword(newPassword) {
		return ErrInvalidPassword
	}
	digest, err := s.current.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.store.SetPassword(ctx, userID, digest)
}

// ChangeEmail sets the account email. An empty address clears it.
func (s *Service) ChangeEmail(ctx context.Context, userID int64, email string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return s.store.SetEmail(ctx, userID, nil)
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}
	return s.store.SetEmail(ctx, userID, &addr.Address)
}

// issueToken generates tokens until insert accepts one.
func (s *Service) issueToken(ctx context.Context, insert func(digest string) error) (string, error) {
	for attempt := 0; attempt < tokenAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		token, err := s.newToken(credential.TokenLength)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		err = insert(credential.TokenDigest(token))
		if errors.Is(err, store.ErrTokenCollision) {
			continue
		}
		if err != nil {
			return "", err
		}
		return token, nil
	}
	return "", ErrTokenGeneration
}
