package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/rt-heroku/contract-analysis-sub001/config"
	"github.com/rt-heroku/contract-analysis-sub001/middleware"
	"github.com/rt-heroku/contract-analysis-sub001/service"
)

type AuthHandler struct {
	config *config.Config
	perms  *service.PermissionStore
}

func NewAuthHandler(cfg *config.Config, perms *service.PermissionStore) *AuthHandler {
	return &AuthHandler{config: cfg, perms: perms}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	UserID    string   `json:"user_id"`
	Username  string   `json:"username"`
	Roles     []string `json:"roles"`
}

// Login handles user login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	// Find user in config
	user := h.config.FindUser(req.Username)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if !checkPassword(user, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	// Generate token
	token, expiresAt, err := middleware.GenerateToken(user.ID, user.Username, user.Roles, &h.config.Auth)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format("2006-01-02T15:04:05Z07:00"),
		UserID:    user.ID,
		Username:  user.Username,
		Roles:     user.Roles,
	})
}

// checkPassword prefers the bcrypt hash; the plain password field is a dev
// convenience only.
func checkPassword(user *config.User, password string) bool {
	if user.PasswordHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) == nil
	}
	return user.Password != "" && user.Password == password
}

// GetCurrentUser returns the current user info
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user_id":  middleware.GetUserID(c),
		"username": middleware.GetUsername(c),
	})
}

// GetMyPermissions returns the caller's effective permission set, sorted.
// The projection is advisory: every mutating route re-checks server-side.
func (h *AuthHandler) GetMyPermissions(c *gin.Context) {
	userID := middleware.GetUserID(c)
	c.JSON(http.StatusOK, gin.H{
		"permissions": h.perms.Resolve(userID),
	})
}
