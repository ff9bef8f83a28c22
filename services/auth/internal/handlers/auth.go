package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aksharshruti/platform/libs/auth"
	"github.com/aksharshruti/platform/libs/httpmiddleware"
	"github.com/aksharshruti/platform/libs/logging"
	"github.com/aksharshruti/platform/services/auth/internal/events"
	"github.com/aksharshruti/platform/services/auth/internal/rate"
	"github.com/aksharshruti/platform/services/auth/internal/session"
	"github.com/gin-gonic/gin"
)

type Sessions interface {
	Register(ctx context.Context, in session.RegisterInput) (*session.Result, error)
	Login(ctx context.Context, in session.LoginInput) (*session.Result, error)
	Refresh(ctx context.Context, refreshToken string, meta session.Meta) (*session.TokenPair, error)
	Logout(ctx context.Context, accessToken, refreshToken string)
	LogoutAll(ctx context.Context, userID string) (int64, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	Identity(ctx context.Context, userID string) (*session.Identity, error)
}

// Policies are the rate limits applied per route.
type Policies struct {
	Register       rate.Policy
	Login          rate.Policy
	Refresh        rate.Policy
	ChangePassword rate.Policy
	Read           rate.Policy
}

func DefaultPolicies() Policies {
	return Policies{
		Register:       rate.Presets["auth.register"],
		Login:          rate.Presets["auth.login"],
		Refresh:        rate.Presets["auth.refreshToken"],
		ChangePassword: rate.Presets["auth.forgotPassword"],
		Read:           rate.Presets["read.standard"],
	}
}

type AuthHandler struct {
	Sessions Sessions
	Verifier auth.AccessVerifier
	Limiter  rate.Limiter
	Policies Policies
	Logger   *slog.Logger
}

type registerRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"displayName" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

func NewAuthHandler(sessions Sessions, verifier auth.AccessVerifier, limiter rate.Limiter, policies Policies, logger *slog.Logger) *AuthHandler {
	logger = logging.OrDefault(logger)
	return &AuthHandler{
		Sessions: sessions,
		Verifier: verifier,
		Limiter:  limiter,
		Policies: policies,
		Logger:   logger,
	}
}

func (h *AuthHandler) RegisterRoutes(r gin.IRouter) {
	limit := func(p rate.Policy) gin.HandlerFunc {
		return rate.Middleware(h.Limiter, p, h.Logger)
	}
	requireAuth := auth.RequireAuth(h.Verifier)

	g := r.Group("/v1/auth")
	g.POST("/register", limit(h.Policies.Register), h.Register)
	g.POST("/login", limit(h.Policies.Login), h.Login)
	g.POST("/refresh-token", limit(h.Policies.Refresh), h.Refresh)
	g.POST("/logout", requireAuth, h.Logout)
	g.POST("/logout-all", requireAuth, h.LogoutAll)
	g.POST("/change-password", requireAuth, limit(h.Policies.ChangePassword), h.ChangePassword)
	g.GET("/me", requireAuth, limit(h.Policies.Read), h.Me)
}

func requestContext(c *gin.Context) context.Context {
	return events.WithCorrelationID(c.Request.Context(), httpmiddleware.GetRequestID(c))
}

func clientMeta(c *gin.Context) session.Meta {
	return session.Meta{IP: httpmiddleware.ClientIP(c), UserAgent: c.Request.UserAgent()}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c)
		return
	}

	res, err := h.Sessions.Register(requestContext(c), session.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		Username:    req.Username,
		DisplayName: req.DisplayName,
		Meta:        clientMeta(c),
	})
	if err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusCreated, res)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c)
		return
	}

	res, err := h.Sessions.Login(requestContext(c), session.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Meta:     clientMeta(c),
	})
	if err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, res)
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c)
		return
	}

	pair, err := h.Sessions.Refresh(requestContext(c), req.RefreshToken, clientMeta(c))
	if err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, pair)
}

// Logout always reports success once the caller is authenticated; the body
// is optional and malformed bodies are ignored.
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	_ = c.ShouldBindJSON(&req)

	h.Sessions.Logout(requestContext(c), c.GetString(auth.ContextAccessTokenKey), req.RefreshToken)
	respond(c, http.StatusOK, gin.H{"message": "Logged out successfully"})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, _ := auth.UserID(c)
	n, err := h.Sessions.LogoutAll(requestContext(c), userID)
	if err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"revokedSessions": n})
}

func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidPayload(c)
		return
	}

	userID, _ := auth.UserID(c)
	if err := h.Sessions.ChangePassword(requestContext(c), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "Password changed; please sign in again"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	userID, _ := auth.UserID(c)
	ident, err := h.Sessions.Identity(requestContext(c), userID)
	if err != nil {
		writeSessionError(c, h.Logger, err)
		return
	}
	respond(c, http.StatusOK, ident)
}
