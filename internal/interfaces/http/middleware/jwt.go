package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/infrastructure/auth"
	"github.com/storefront/cartsync/internal/infrastructure/logger"
	"github.com/storefront/cartsync/internal/interfaces/http/dto"
)

const (
	claimsKey = "auth.claims"

	// AuthorizationHeader carries the bearer credential
	AuthorizationHeader = "Authorization"
	// BearerPrefix is the only accepted authorization scheme
	BearerPrefix = "Bearer "
)

// AuthConfig configures Authenticate
type AuthConfig struct {
	Tokens *auth.JWTService
	// Revocations rejects tokens that were logged out; optional
	Revocations *auth.RevocationList
	// PublicPaths are served without a credential
	PublicPaths []string
	Logger      *zap.Logger
}

// NewAuthConfig leaves health and login public
func NewAuthConfig(tokens *auth.JWTService, revocations *auth.RevocationList, log *zap.Logger) AuthConfig {
	if log == nil {
		log = zap.NewNop()
	}
	return AuthConfig{
		Tokens:      tokens,
		Revocations: revocations,
		PublicPaths: []string{"/health", "/api/v1/health", "/api/v1/auth/login"},
		Logger:      log,
	}
}

// Authenticate requires a valid, unrevoked bearer token. The caller's user
// ID is added to the request logger.
func Authenticate(cfg AuthConfig) gin.HandlerFunc {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	public := make(map[string]struct{}, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := public[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		header := c.GetHeader(AuthorizationHeader)
		token, found := strings.CutPrefix(header, BearerPrefix)
		if !found || token == "" {
			rejectToken(c, cfg.Logger, auth.ErrInvalidToken)
			return
		}

		claims, err := cfg.Tokens.Validate(token)
		if err != nil {
			rejectToken(c, cfg.Logger, err)
			return
		}
		if cfg.Revocations != nil && claims.ID != "" && cfg.Revocations.IsRevoked(claims.ID) {
			rejectToken(c, cfg.Logger, auth.ErrTokenRevoked)
			return
		}

		c.Set(claimsKey, claims)
		ctx := c.Request.Context()
		c.Request = c.Request.WithContext(logger.WithContext(ctx,
			logger.FromContext(ctx).With(zap.String("user_id", claims.UserID))))
		c.Next()
	}
}

func rejectToken(c *gin.Context, log *zap.Logger, err error) {
	code, message := dto.ErrCodeUnauthorized, "Authentication required"
	switch {
	case errors.Is(err, auth.ErrExpiredToken):
		code, message = dto.ErrCodeTokenExpired, "Token has expired"
	case errors.Is(err, auth.ErrTokenRevoked):
		code, message = dto.ErrCodeTokenRevoked, "Token has been revoked"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidClaims), errors.Is(err, auth.ErrTokenNotYetValid):
		code, message = dto.ErrCodeTokenInvalid, "Invalid token"
	}
	log.Debug("credential rejected", zap.String("path", c.Request.URL.Path), zap.String("code", code), zap.Error(err))
	abortWithError(c, http.StatusUnauthorized, code, message)
}

// Claims returns the validated token claims, or nil on public routes
func Claims(c *gin.Context) *auth.Claims {
	if v, ok := c.Get(claimsKey); ok {
		if claims, ok := v.(*auth.Claims); ok {
			return claims
		}
	}
	return nil
}

// UserID returns the authenticated user ID, or "" on public routes
func UserID(c *gin.Context) string {
	if claims := Claims(c); claims != nil {
		return claims.UserID
	}
	return ""
}
