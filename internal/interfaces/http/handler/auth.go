package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/auth"
	"github.com/storefront/cartsync/internal/interfaces/http/dto"
	"github.com/storefront/cartsync/internal/interfaces/http/middleware"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	BaseHandler
	accounts    *account.Service
	jwtService  *auth.JWTService
	revocations *auth.RevocationList
	loginGuards []gin.HandlerFunc
}

// NewAuthHandler creates a new auth handler. loginGuards run before Login,
// e.g. a rate limiter.
func NewAuthHandler(accounts *account.Service, jwtService *auth.JWTService, revocations *auth.RevocationList, loginGuards ...gin.HandlerFunc) *AuthHandler {
	return &AuthHandler{
		accounts:    accounts,
		jwtService:  jwtService,
		revocations: revocations,
		loginGuards: loginGuards,
	}
}

// RegisterRoutes mounts /auth
func (h *AuthHandler) RegisterRoutes(rg *gin.RouterGroup) {
	group := rg.Group("/auth")
	login := append([]gin.HandlerFunc{}, h.loginGuards...)
	group.POST("/login", append(login, h.Login)...)
	group.GET("/me", h.Me)
	group.POST("/logout", h.Logout)
}

// Login godoc
// @Summary      Shopper login
// @Description  Exchange email and password for a session token
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body dto.LoginRequest true "Login credentials"
// @Success      200 {object} dto.Response{data=dto.LoginResponse}
// @Failure      400 {object} dto.Response{error=dto.ErrorInfo}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body")
		return
	}

	user, err := h.accounts.Authenticate(req.Email, req.Password)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	issued, err := h.jwtService.Issue(user.ID, user.Email)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.LoginResponse{
		Token:     issued.Token,
		ExpiresAt: issued.ExpiresAt,
		User:      &dto.UserResponse{ID: user.ID, Email: user.Email},
	})
}

// Me godoc
// @Summary      Current identity
// @Description  Confirm the session token and return the user behind it
// @Tags         auth
// @Produce      json
// @Security     BearerAuth
// @Success      200 {object} dto.Response{data=dto.UserResponse}
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /auth/me [get]
func (h *AuthHandler) Me(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	user, err := h.accounts.User(userID)
	if errors.Is(err, shared.ErrNotFound) {
		// token outlived its user
		h.Unauthorized(c, "Unknown user")
		return
	}
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.UserResponse{ID: user.ID, Email: user.Email})
}

// Logout godoc
// @Summary      Logout
// @Description  Revoke the presented session token
// @Tags         auth
// @Security     BearerAuth
// @Success      204
// @Failure      401 {object} dto.Response{error=dto.ErrorInfo}
// @Router       /auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.Claims(c)
	if claims == nil {
		h.Unauthorized(c, "Authentication required")
		return
	}
	if h.revocations != nil && claims.ID != "" && claims.ExpiresAt != nil {
		h.revocations.Revoke(claims.ID, claims.ExpiresAt.Time)
	}
	h.NoContent(c)
}
