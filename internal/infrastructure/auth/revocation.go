package auth

import (
	"sync"
	"time"
)

// RevocationList remembers revoked token IDs until the token would have
// expired anyway
type RevocationList struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewRevocationList creates an empty list
func NewRevocationList() *RevocationList {
	return &RevocationList{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke marks jti revoked until expiresAt
func (l *RevocationList) Revoke(jti string, expiresAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked[jti] = expiresAt
	l.pruneLocked()
}

// IsRevoked reports whether jti was revoked
func (l *RevocationList) IsRevoked(jti string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	until, ok := l.revoked[jti]
	return ok && l.now().Before(until)
}

func (l *RevocationList) pruneLocked() {
	now := l.now()
	for jti, until := range l.revoked {
		if !now.Before(until) {
			delete(l.revoked, jti)
		}
	}
}
