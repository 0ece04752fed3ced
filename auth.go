package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	errMissingCredential = errors.New("missing credential")
	errInvalidCredential = errors.New("invalid or expired credential")

	errAccountExists = errors.New("account already exists")
	errSignupInvalid = errors.New("email, display name and a password of at least 8 characters are required")
	errBadLogin      = errors.New("invalid email or password")
)

// identity is the authenticated principal behind a connection.
type identity struct {
	userID      string
	displayName string
}

// clientContext carries connection metadata the verifier binds tokens to.
// The origin hint is the client's user agent; a token minted for one client
// is rejected when replayed from another.
type clientContext struct {
	originHint string
}

// authenticator validates a bearer credential presented at connect time.
// Validation is a pure read; failures are terminal for the connection
// attempt.
type authenticator interface {
	authenticate(ctx context.Context, credential string, client clientContext) (identity, error)
}

// authStore verifies bearer tokens against the tokens table and owns the
// account and token-minting side that issues them.
type authStore struct {
	db       *sql.DB
	tokenTTL time.Duration
}

func newAuthStore(db *sql.DB, tokenTTL time.Duration) *authStore {
	return &authStore{db: db, tokenTTL: tokenTTL}
}

func (s *authStore) authenticate(ctx context.Context, credential string, client clientContext) (identity, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return identity{}, errMissingCredential
	}

	row := s.db.QueryRowContext(ctx, `
        SELECT t.user_id, u.display_name, t.origin_hint, t.expires_at
        FROM tokens t
        JOIN users u ON u.id = t.user_id
        WHERE t.token = ?
    `, credential)

	var (
		userID      string
		displayName string
		originHint  string
		expiresAt   time.Time
	)
	if err := row.Scan(&userID, &displayName, &originHint, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return identity{}, errInvalidCredential
		}
		return identity{}, fmt.Errorf("look up token: %w", err)
	}

	if time.Now().After(expiresAt) {
		return identity{}, errInvalidCredential
	}
	if originHint != "" && originHint != client.originHint {
		return identity{}, errInvalidCredential
	}

	return identity{userID: userID, displayName: displayName}, nil
}

func (s *authStore) createAccount(ctx context.Context, email, displayName, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	displayName = strings.TrimSpace(displayName)
	if email == "" || displayName == "" || len(password) < 8 {
		return errSignupInvalid
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE email = ?`, email).Scan(&count); err != nil {
		return fmt.Errorf("check existing account: %w", err)
	}
	if count > 0 {
		return errAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO users (id, email, display_name, password_hash, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, uuid.NewString(), email, displayName, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// issueToken mints an opaque bearer token bound to the requesting client's
// origin hint.
func (s *authStore) issueToken(ctx context.Context, email, password, originHint string) (string, time.Time, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	row := s.db.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email = ?`, email)

	var (
		userID string
		hash   []byte
	)
	if err := row.Scan(&userID, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, errBadLogin
		}
		return "", time.Time{}, fmt.Errorf("look up account: %w", err)
	}
	if bcrypt.CompareHashAndPassword(hash, []byte(password)) != nil {
		return "", time.Time{}, errBadLogin
	}

	token := newBearerToken()
	expires := time.Now().UTC().Add(s.tokenTTL)
	if _, err := s.db.ExecContext(ctx, `
        INSERT INTO tokens (token, user_id, origin_hint, expires_at, created_at)
        VALUES (?, ?, ?, ?, ?)
    `, token, userID, originHint, expires, time.Now().UTC()); err != nil {
		return "", time.Time{}, fmt.Errorf("store token: %w", err)
	}

	return token, expires, nil
}

func newBearerToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic("failed to generate token")
	}
	return hex.EncodeToString(buf)
}
