package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrEmailTaken     = errors.New("email already registered")
	ErrUsernameTaken  = errors.New("username already taken")
	ErrTokenNotActive = errors.New("refresh token not active")
)

const (
	defaultQueryTimeout = 3 * time.Second

	uniqueViolation = "23505"
)

type Store struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

type Option func(*Store)

func WithQueryTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.queryTimeout = d
		}
	}
}

func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, queryTimeout: defaultQueryTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.pool.Ping(ctx)
}

const userColumns = `id, email, username, display_name, password_hash, role, status, last_active_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.DisplayName, &u.PasswordHash, &u.Role, &u.Status, &u.LastActiveAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, err
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return u, err
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`, email)
}

func (s *Store) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE username = $1)`, username)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ok bool
	if err := s.pool.QueryRow(ctx, query, arg).Scan(&ok); err != nil {
		return false, fmt.Errorf("exists check: %w", err)
	}
	return ok, nil
}

// CreateUser inserts an active user. A unique violation that slipped past the
// pre-insert checks is mapped to ErrEmailTaken or ErrUsernameTaken.
func (s *Store) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return insertUser(ctx, s.pool, in)
}

// CreateUserWithSession inserts the user and the refresh record returned by
// mint in one transaction. If mint or either insert fails nothing is kept.
func (s *Store) CreateUserWithSession(ctx context.Context, in NewUser, mint func(*User) (RefreshToken, error)) (*User, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	u, err := insertUser(ctx, tx, in)
	if err != nil {
		return nil, err
	}
	record, err := mint(u)
	if err != nil {
		return nil, err
	}
	if err := insertRefreshToken(ctx, tx, record); err != nil {
		return nil, fmt.Errorf("insert first refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit registration: %w", err)
	}
	return u, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertUser(ctx context.Context, db queryRower, in NewUser) (*User, error) {
	role := in.Role
	if role == "" {
		role = RoleUser
	}

	u, err := scanUser(db.QueryRow(ctx, `
		INSERT INTO users (id, email, username, display_name, password_hash, role, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		uuid.New(), in.Email, in.Username, in.DisplayName, in.PasswordHash, role, StatusActive))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if strings.Contains(pgErr.ConstraintName, "username") {
				return nil, ErrUsernameTaken
			}
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) TouchLastActive(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return s.execOne(ctx, "touch last active",
		`UPDATE users SET last_active_at = $2 WHERE id = $1`, userID, at)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	return s.execOne(ctx, "update password",
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, hash)
}

func (s *Store) SetUserStatus(ctx context.Context, userID uuid.UUID, status string) error {
	if !ValidStatus(status) {
		return fmt.Errorf("invalid status %q", status)
	}
	return s.execOne(ctx, "set status",
		`UPDATE users SET status = $2, updated_at = now() WHERE id = $1`, userID, status)
}

func (s *Store) execOne(ctx context.Context, op, query string, args ...any) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t RefreshToken) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := insertRefreshToken(ctx, s.pool, t); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertRefreshToken(ctx context.Context, db execer, t RefreshToken) error {
	_, err := db.Exec(ctx, `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, is_revoked, created_at, created_ip, user_agent)
		VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
	`, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.CreatedAt, t.CreatedIP, t.UserAgent)
	return err
}

// FindValidRefreshToken returns the record only while it is unrevoked,
// unexpired at now and its stored digest matches hash.
func (s *Store) FindValidRefreshToken(ctx context.Context, id, hash string, now time.Time) (*RefreshToken, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var t RefreshToken
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, expires_at, is_revoked, created_at, created_ip, user_agent
		FROM refresh_tokens
		WHERE id = $1 AND token_hash = $2 AND is_revoked = FALSE AND expires_at > $3
	`, id, hash, now).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.IsRevoked, &t.CreatedAt, &t.CreatedIP, &t.UserAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &t, nil
}

// RevokeRefreshToken flips is_revoked for id. It reports whether this call
// performed the transition; a second call for the same id returns false.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = TRUE
		WHERE id = $1 AND is_revoked = FALSE
	`, id)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RotateRefreshToken revokes oldID and persists next in one transaction. The
// revoke is conditional on the old record still being valid, so of several
// concurrent rotations of the same token exactly one commits; the others get
// ErrTokenNotActive and insert nothing.
func (s *Store) RotateRefreshToken(ctx context.Context, oldID, oldHash string, now time.Time, next RefreshToken) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotation: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = TRUE
		WHERE id = $1 AND token_hash = $2 AND is_revoked = FALSE AND expires_at > $3
	`, oldID, oldHash, now)
	if err != nil {
		return fmt.Errorf("revoke rotated token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotActive
	}

	if err := insertRefreshToken(ctx, tx, next); err != nil {
		return fmt.Errorf("insert rotated token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotation: %w", err)
	}
	return nil
}

func (s *Store) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET is_revoked = TRUE
		WHERE user_id = $1 AND is_revoked = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke all tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
