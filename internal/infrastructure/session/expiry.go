package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LocallyExpired reports whether token is a JWT whose exp claim is in the
// past at now. The signature is not checked. Opaque (non-JWT) tokens are
// never considered expired.
func LocallyExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}
