package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/milelog/milelog/internal/identity"
	"github.com/milelog/milelog/internal/users"
	"go.uber.org/zap"
)

// AuthHandler exposes signup, login and profile management. Signup and login
// are the only unauthenticated routes in the API.
type AuthHandler struct {
	users  *users.UserService
	tokens *identity.TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *users.UserService, tokens *identity.TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: svc, tokens: tokens, logger: logger}
}

// RegisterPublic mounts the unauthenticated auth routes.
func (h *AuthHandler) RegisterPublic(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/signup", h.Signup)
		a.POST("/login", h.Login)
	}
}

// RegisterProtected mounts the routes that require a session.
func (h *AuthHandler) RegisterProtected(rg *gin.RouterGroup) {
	rg.GET("/profile", h.Profile)
	rg.PUT("/profile", h.UpdateProfile)
}

type signupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type sessionResponse struct {
	Token string      `json:"token"`
	User  *users.User `json:"user"`
}

// Signup handles POST /auth/signup.
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed signup payload"})
		return
	}

	u, err := h.users.Signup(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := h.tokens.Issue(u.ID, u.Email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, sessionResponse{Token: token, User: u})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed login payload"})
		return
	}

	u, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}
	token, err := h.tokens.Issue(u.ID, u.Email)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Token: token, User: u})
}

// Profile handles GET /profile.
func (h *AuthHandler) Profile(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	snap, err := h.users.Snapshot(c.Request.Context(), userID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

type updateProfileRequest struct {
	DisplayName  string `json:"display_name"`
	Address      string `json:"address"`
	VehiclePlate string `json:"vehicle_plate"`
	TaxID        string `json:"tax_id"`
}

// UpdateProfile handles PUT /profile. Profile fields live outside the
// ledger; each report captures the profile as of generation time instead.
func (h *AuthHandler) UpdateProfile(c *gin.Context) {
	userID, ok := authedUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed profile payload"})
		return
	}
	if err := h.users.UpdateProfile(c.Request.Context(), userID, req.DisplayName, req.Address, req.VehiclePlate, req.TaxID); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
