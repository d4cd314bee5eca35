package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/cafemeet/internal/apperr"
	"github.com/4xmen/cafemeet/internal/auth"
	"github.com/4xmen/cafemeet/internal/models"
	"github.com/4xmen/cafemeet/internal/session"
)

// Sessions is the part of session.Manager the handlers use.
type Sessions interface {
	Ensure(ctx context.Context, userID string) (*session.Session, error)
	Stop(userID string)
}

const sessionKey = "session"

type AuthHandler struct {
	authSvc  *auth.Service
	sessions Sessions
	logger   *slog.Logger
}

func NewAuthHandler(authSvc *auth.Service, sessions Sessions, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{authSvc: authSvc, sessions: sessions, logger: logger.With("component", "handlers")}
}

type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

// Register creates a new account and signs it in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	token, err := h.authSvc.GenerateToken(user.ID, user.Name)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if _, err := h.sessions.Ensure(c.Request.Context(), user.ID); err != nil {
		fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{Token: token, User: user})
}

// Login authenticates a user, starts their session and returns a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	token, user, err := h.authSvc.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if _, err := h.sessions.Ensure(c.Request.Context(), user.ID); err != nil {
		fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, AuthResponse{Token: token, User: user})
}

// Logout tears the caller's session down.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.Stop(c.GetString("user_id"))
	c.Status(http.StatusNoContent)
}

func (h *AuthHandler) GetProfile(c *gin.Context) {
	user, err := h.authSvc.GetUser(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	var req auth.ProfileUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	user, err := h.authSvc.UpdateProfile(c.Request.Context(), c.GetString("user_id"), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Set("language", user.Language)
	c.JSON(http.StatusOK, user)
}

// AuthMiddleware validates the JWT and attaches the caller's session.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if authHeader := c.GetHeader("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		// Browsers cannot set headers on WebSocket upgrades.
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			abortWith(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			abortWith(c, http.StatusUnauthorized, "invalid token")
			return
		}

		user, err := h.authSvc.GetUser(c.Request.Context(), claims.UserID)
		if errors.Is(err, apperr.ErrNotFound) {
			abortWith(c, http.StatusUnauthorized, "user not found")
			return
		}
		if err != nil {
			fail(c, h.logger, err)
			return
		}

		c.Set("user_id", user.ID)
		c.Set("name", user.Name)
		c.Set("language", user.Language)

		s, err := h.sessions.Ensure(c.Request.Context(), user.ID)
		if err != nil {
			fail(c, h.logger, err)
			return
		}
		c.Set(sessionKey, s)
		c.Next()
	}
}

func currentSession(c *gin.Context) *session.Session {
	return c.MustGet(sessionKey).(*session.Session)
}
