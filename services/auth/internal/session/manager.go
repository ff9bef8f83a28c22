package session

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aksharshruti/platform/libs/auth"
	"github.com/aksharshruti/platform/libs/metrics"
	"github.com/aksharshruti/platform/libs/trace"
	"github.com/aksharshruti/platform/services/auth/internal/events"
	"github.com/aksharshruti/platform/services/auth/internal/security"
	"github.com/aksharshruti/platform/services/auth/internal/storage"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "github.com/aksharshruti/platform/services/auth/internal/session"

// Store is the credential and refresh token persistence the manager needs.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*storage.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*storage.User, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateUserWithSession(ctx context.Context, in storage.NewUser, mint func(*storage.User) (storage.RefreshToken, error)) (*storage.User, error)
	TouchLastActive(ctx context.Context, userID uuid.UUID, at time.Time) error
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	SetUserStatus(ctx context.Context, userID uuid.UUID, status string) error

	CreateRefreshToken(ctx context.Context, t storage.RefreshToken) error
	FindValidRefreshToken(ctx context.Context, id, hash string, now time.Time) (*storage.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, id string) (bool, error)
	RotateRefreshToken(ctx context.Context, oldID, oldHash string, now time.Time, next storage.RefreshToken) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) (bool, error)
	BurnDecoy(password string)
}

type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	Username    string    `json:"username"`
	DisplayName string    `json:"displayName"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type Result struct {
	User   Identity  `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// Meta describes the client a session is issued to.
type Meta struct {
	IP        string
	UserAgent string
}

type RegisterInput struct {
	Email       string
	Password    string
	Username    string
	DisplayName string
	Meta
}

type LoginInput struct {
	Email    string
	Password string
	Meta
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) {
		if p != nil {
			m.events = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager runs the session lifecycle: registration, login, refresh rotation
// and revocation. It is safe for concurrent use; all shared state lives in
// the store.
type Manager struct {
	store  Store
	codec  *auth.Codec
	hasher PasswordHasher
	events events.Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store Store, codec *auth.Codec, hasher PasswordHasher, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		codec:  codec,
		hasher: hasher,
		events: events.NoopPublisher{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]{3,30}$`)

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(in RegisterInput) error {
	v := &ValidationError{}
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		v.add("email", "must be a valid email address")
	}
	if !usernamePattern.MatchString(in.Username) {
		v.add("username", "must be 3-30 letters, digits or underscores")
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(in.DisplayName)); n == 0 || n > 100 {
		v.add("displayName", "must be between 1 and 100 characters")
	}
	for _, problem := range security.ValidatePasswordStrength(in.Password) {
		v.add("password", problem)
	}
	return v.orNil()
}

func (m *Manager) Register(ctx context.Context, in RegisterInput) (res *Result, err error) {
	ctx, span := trace.StartSpan(ctx, tracerName, "session.Register")
	defer func() { trace.EndSpan(span, err) }()

	in.Email = normalizeEmail(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	taken, err := m.store.EmailExists(ctx, in.Email)
	if err != nil {
		return nil, m.fail(ctx, "register", err)
	}
	if taken {
		metrics.SessionEvents.WithLabelValues("register", "email_taken").Inc()
		return nil, ErrEmailTaken
	}
	taken, err = m.store.UsernameExists(ctx, in.Username)
	if err != nil {
		return nil, m.fail(ctx, "register", err)
	}
	if taken {
		metrics.SessionEvents.WithLabelValues("register", "username_taken").Inc()
		return nil, ErrUsernameTaken
	}

	hash, err := m.hasher.Hash(in.Password)
	if err != nil {
		return nil, m.fail(ctx, "register", err)
	}

	// The user row and its first refresh record commit together.
	var pair *TokenPair
	user, err := m.store.CreateUserWithSession(ctx, storage.NewUser{
		Email:        in.Email,
		Username:     in.Username,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: hash,
	}, func(u *storage.User) (storage.RefreshToken, error) {
		p, record, err := m.sign(u, in.Meta)
		if err != nil {
			return storage.RefreshToken{}, err
		}
		pair = p
		return record, nil
	})
	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		return nil, ErrEmailTaken
	case errors.Is(err, storage.ErrUsernameTaken):
		return nil, ErrUsernameTaken
	case err != nil:
		return nil, m.fail(ctx, "register", err)
	}

	metrics.SessionEvents.WithLabelValues("register", "ok").Inc()
	m.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID.String()))
	m.events.Publish(ctx, events.Event{
		Type:      events.UserRegistered,
		UserID:    user.ID.String(),
		IP:        in.IP,
		UserAgent: in.UserAgent,
	})
	return &Result{User: identityOf(user), Tokens: *pair}, nil
}

// Login fails with ErrInvalidCredentials for both an unknown email and a
// wrong password. Unknown emails still pay for one password verification.
func (m *Manager) Login(ctx context.Context, in LoginInput) (res *Result, err error) {
	ctx, span := trace.StartSpan(ctx, tracerName, "session.Login")
	defer func() { trace.EndSpan(span, err) }()

	user, err := m.store.GetUserByEmail(ctx, normalizeEmail(in.Email))
	if errors.Is(err, storage.ErrNotFound) {
		m.hasher.BurnDecoy(in.Password)
		metrics.SessionEvents.WithLabelValues("login", "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, m.fail(ctx, "login", err)
	}

	ok, err := m.hasher.Verify(in.Password, user.PasswordHash)
	if err != nil {
		return nil, m.fail(ctx, "login", err)
	}
	if !ok {
		metrics.SessionEvents.WithLabelValues("login", "invalid_credentials").Inc()
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive() {
		metrics.SessionEvents.WithLabelValues("login", "inactive").Inc()
		return nil, ErrAccountInactive
	}

	pair, err := m.issue(ctx, user, in.Meta)
	if err != nil {
		return nil, m.fail(ctx, "login", err)
	}

	now := m.now()
	if err := m.store.TouchLastActive(ctx, user.ID, now); err != nil {
		m.logger.WarnContext(ctx, "touch last active failed",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	} else {
		user.LastActiveAt = &now
	}

	metrics.SessionEvents.WithLabelValues("login", "ok").Inc()
	return &Result{User: identityOf(user), Tokens: *pair}, nil
}

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted once: the old record is revoked before the new one is stored, and
// of concurrent attempts with the same token only one succeeds.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, meta Meta) (pair *TokenPair, err error) {
	ctx, span := trace.StartSpan(ctx, tracerName, "session.Refresh")
	defer func() { trace.EndSpan(span, err) }()

	claims, err := m.codec.Verify(refreshToken)
	if err != nil {
		result := "invalid"
		if errors.Is(err, auth.ErrTokenExpired) {
			result = "expired"
		}
		metrics.RefreshResults.WithLabelValues(result).Inc()
		return nil, err
	}
	if claims.Type != auth.TypeRefresh {
		metrics.RefreshResults.WithLabelValues("wrong_type").Inc()
		return nil, ErrInvalidTokenType
	}
	userID, err := uuid.Parse(claims.UserID)
	if err != nil || claims.TokenID == "" {
		metrics.RefreshResults.WithLabelValues("invalid").Inc()
		return nil, ErrTokenInvalid
	}
	span.SetAttributes(attribute.String("user.id", claims.UserID))

	now := m.now()
	hash := auth.HashToken(refreshToken)

	if _, err := m.store.FindValidRefreshToken(ctx, claims.TokenID, hash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.reuseDetected(ctx, claims, meta)
			return nil, ErrTokenRevoked
		}
		metrics.RefreshResults.WithLabelValues("error").Inc()
		return nil, m.fail(ctx, "refresh", err)
	}

	user, err := m.store.GetUserByID(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.RefreshResults.WithLabelValues("invalid").Inc()
		return nil, ErrTokenInvalid
	}
	if err != nil {
		metrics.RefreshResults.WithLabelValues("error").Inc()
		return nil, m.fail(ctx, "refresh", err)
	}
	if !user.IsActive() {
		if _, err := m.store.RevokeAllForUser(ctx, user.ID); err != nil {
			m.logger.WarnContext(ctx, "revoke sessions of inactive user failed",
				slog.String("user_id", user.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		metrics.RefreshResults.WithLabelValues("inactive").Inc()
		return nil, ErrAccountInactive
	}

	pair, next, err := m.sign(user, meta)
	if err != nil {
		metrics.RefreshResults.WithLabelValues("error").Inc()
		return nil, m.fail(ctx, "refresh", err)
	}

	if err := m.store.RotateRefreshToken(ctx, claims.TokenID, hash, now, next); err != nil {
		if errors.Is(err, storage.ErrTokenNotActive) {
			// Another request rotated this token between the lookup and here.
			m.reuseDetected(ctx, claims, meta)
			return nil, ErrTokenRevoked
		}
		metrics.RefreshResults.WithLabelValues("error").Inc()
		return nil, m.fail(ctx, "refresh", err)
	}

	metrics.RefreshResults.WithLabelValues("rotated").Inc()
	return pair, nil
}

func (m *Manager) reuseDetected(ctx context.Context, claims *auth.Claims, meta Meta) {
	metrics.RefreshResults.WithLabelValues("reused").Inc()
	m.logger.WarnContext(ctx, "refresh token reuse detected",
		slog.String("user_id", claims.UserID),
		slog.String("client_ip", meta.IP),
	)
	m.events.Publish(ctx, events.Event{
		Type:      events.RefreshReuseDetected,
		UserID:    claims.UserID,
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
	})
}

// Logout revokes the refresh token presented alongside an access token when
// both belong to the same user. It never fails; problems are logged.
func (m *Manager) Logout(ctx context.Context, accessToken, refreshToken string) {
	access, err := m.codec.VerifyAccess(accessToken)
	if err != nil {
		m.logger.DebugContext(ctx, "logout with unusable access token", slog.String("error", err.Error()))
		metrics.SessionEvents.WithLabelValues("logout", "ignored").Inc()
		return
	}
	if refreshToken == "" {
		metrics.SessionEvents.WithLabelValues("logout", "ok").Inc()
		return
	}

	refresh, err := m.codec.Verify(refreshToken)
	if err != nil || refresh.Type != auth.TypeRefresh || refresh.TokenID == "" {
		metrics.SessionEvents.WithLabelValues("logout", "ignored").Inc()
		return
	}
	if refresh.UserID != access.UserID {
		m.logger.WarnContext(ctx, "logout refresh token belongs to another user",
			slog.String("user_id", access.UserID),
		)
		metrics.SessionEvents.WithLabelValues("logout", "ignored").Inc()
		return
	}

	if _, err := m.store.RevokeRefreshToken(ctx, refresh.TokenID); err != nil {
		m.logger.WarnContext(ctx, "logout revoke failed",
			slog.String("user_id", access.UserID),
			slog.String("error", err.Error()),
		)
		metrics.SessionEvents.WithLabelValues("logout", "error").Inc()
		return
	}
	metrics.SessionEvents.WithLabelValues("logout", "ok").Inc()
}

// LogoutAll revokes every refresh token of the user and returns how many
// were still active.
func (m *Manager) LogoutAll(ctx context.Context, userID string) (int64, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return 0, ErrTokenInvalid
	}
	n, err := m.store.RevokeAllForUser(ctx, id)
	if err != nil {
		return 0, m.fail(ctx, "logout_all", err)
	}
	metrics.SessionEvents.WithLabelValues("logout_all", "ok").Inc()
	m.events.Publish(ctx, events.Event{Type: events.SessionsRevoked, UserID: userID, Reason: "logout_all", Revoked: n})
	return n, nil
}

func (m *Manager) ChangePassword(ctx context.Context, userID, current, next string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return ErrTokenInvalid
	}

	v := &ValidationError{}
	for _, problem := range security.ValidatePasswordStrength(next) {
		v.add("newPassword", problem)
	}
	if err := v.orNil(); err != nil {
		return err
	}

	user, err := m.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrTokenInvalid
	}
	if err != nil {
		return m.fail(ctx, "change_password", err)
	}
	ok, err := m.hasher.Verify(current, user.PasswordHash)
	if err != nil {
		return m.fail(ctx, "change_password", err)
	}
	if !ok {
		metrics.SessionEvents.WithLabelValues("change_password", "invalid_credentials").Inc()
		return ErrInvalidCredentials
	}
	if !user.IsActive() {
		metrics.SessionEvents.WithLabelValues("change_password", "inactive").Inc()
		return ErrAccountInactive
	}

	hash, err := m.hasher.Hash(next)
	if err != nil {
		return m.fail(ctx, "change_password", err)
	}
	if err := m.store.UpdatePasswordHash(ctx, id, hash); err != nil {
		return m.fail(ctx, "change_password", err)
	}
	revoked, err := m.store.RevokeAllForUser(ctx, id)
	if err != nil {
		return m.fail(ctx, "change_password", err)
	}

	metrics.SessionEvents.WithLabelValues("change_password", "ok").Inc()
	m.events.Publish(ctx, events.Event{Type: events.PasswordChanged, UserID: userID, Revoked: revoked})
	return nil
}

// SetStatus moves the account to status. Leaving the active state revokes
// every refresh token of the user.
func (m *Manager) SetStatus(ctx context.Context, userID uuid.UUID, status, reason string) error {
	if !storage.ValidStatus(status) {
		v := &ValidationError{}
		v.add("status", "must be one of active, suspended, deleted")
		return v
	}
	if err := m.store.SetUserStatus(ctx, userID, status); err != nil {
		return m.fail(ctx, "set_status", err)
	}
	if status == storage.StatusActive {
		metrics.SessionEvents.WithLabelValues("set_status", "ok").Inc()
		return nil
	}

	revoked, err := m.store.RevokeAllForUser(ctx, userID)
	if err != nil {
		return m.fail(ctx, "set_status", err)
	}
	metrics.SessionEvents.WithLabelValues("set_status", "ok").Inc()
	m.events.Publish(ctx, events.Event{Type: events.SessionsRevoked, UserID: userID.String(), Reason: reason, Revoked: revoked})
	return nil
}

func (m *Manager) Identity(ctx context.Context, userID string) (*Identity, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	user, err := m.store.GetUserByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrTokenInvalid
	}
	if err != nil {
		return nil, m.fail(ctx, "identity", err)
	}
	ident := identityOf(user)
	return &ident, nil
}

// issue signs a new pair for user and persists its refresh record.
func (m *Manager) issue(ctx context.Context, user *storage.User, meta Meta) (*TokenPair, error) {
	pair, record, err := m.sign(user, meta)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateRefreshToken(ctx, record); err != nil {
		return nil, err
	}
	return pair, nil
}

func (m *Manager) sign(user *storage.User, meta Meta) (*TokenPair, storage.RefreshToken, error) {
	uid := user.ID.String()
	access, err := m.codec.IssueAccess(uid, user.Email, user.Role)
	if err != nil {
		return nil, storage.RefreshToken{}, err
	}
	refresh, tokenID, err := m.codec.IssueRefresh(uid, user.Email, user.Role)
	if err != nil {
		return nil, storage.RefreshToken{}, err
	}
	metrics.TokensIssued.WithLabelValues(auth.TypeAccess).Inc()
	metrics.TokensIssued.WithLabelValues(auth.TypeRefresh).Inc()

	now := m.now()
	record := storage.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		TokenHash: auth.HashToken(refresh),
		ExpiresAt: now.Add(m.codec.RefreshTTL()),
		CreatedAt: now,
		CreatedIP: meta.IP,
		UserAgent: meta.UserAgent,
	}
	pair := &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(m.codec.AccessTTL() / time.Second),
	}
	return pair, record, nil
}

func (m *Manager) fail(ctx context.Context, op string, err error) error {
	metrics.SessionEvents.WithLabelValues(op, "error").Inc()
	m.logger.ErrorContext(ctx, "session operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return failed(op, err)
}

func identityOf(u *storage.User) Identity {
	return Identity{
		ID:          u.ID.String(),
		Email:       u.Email,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		Status:      u.Status,
		CreatedAt:   u.CreatedAt,
	}
}
