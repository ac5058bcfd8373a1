// Package account serves the account carts, wishlists and users of the
// development backend
package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	domain "github.com/storefront/cartsync/internal/domain/account"
	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/domain/wishlist"
)

// Domain errors
var (
	ErrUserExists     = shared.NewDomainError("ALREADY_EXISTS", "User already exists")
	ErrBadCredentials = shared.NewDomainError("UNAUTHORIZED", "Invalid email or password")
)

// User is the public view of an account
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// MergeResult is the outcome of a merge request
type MergeResult struct {
	Items []cart.LineItem `json:"items"`
	// Replayed is true when the idempotency key had been seen before
	Replayed bool `json:"-"`
}

// Option configures a Service
type Option func(*Service)

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBcryptCost sets the password hash cost
func WithBcryptCost(cost int) Option {
	return func(s *Service) {
		s.bcryptCost = cost
	}
}

// WithIdempotencyTTL sets how long a merge response is replayable
func WithIdempotencyTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.idempotencyTTL = ttl
		}
	}
}

// Service keeps users, account carts and wishlists in memory
type Service struct {
	idempotency    shared.IdempotencyStore
	idempotencyTTL time.Duration
	bcryptCost     int
	logger         *zap.Logger

	mu        sync.RWMutex
	byEmail   map[string]*domain.User
	byID      map[string]*domain.User
	carts     map[string][]cart.LineItem
	wishlists map[string][]wishlist.Item
	// mergeLocks serialize lookup, apply and remember per user
	mergeLocks map[string]*sync.Mutex
}

// NewService creates an account service. Merge responses are remembered in
// idempotency.
func NewService(idempotency shared.IdempotencyStore, opts ...Option) *Service {
	s := &Service{
		idempotency:    idempotency,
		idempotencyTTL: shared.DefaultIdempotencyTTL,
		bcryptCost:     bcrypt.DefaultCost,
		logger:         zap.NewNop(),
		byEmail:        make(map[string]*domain.User),
		byID:           make(map[string]*domain.User),
		carts:          make(map[string][]cart.LineItem),
		wishlists:      make(map[string][]wishlist.Item),
		mergeLocks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a user
func (s *Service) Register(email, password string) (*User, error) {
	u, err := domain.NewUserWithCost(email, password, s.bcryptCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[u.Email]; ok {
		return nil, ErrUserExists
	}
	s.byEmail[u.Email] = u
	s.byID[u.ID] = u
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("email", u.Email))
	return toUser(u), nil
}

// Authenticate checks email and password
func (s *Service) Authenticate(email, password string) (*User, error) {
	s.mu.RLock()
	u, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok || !u.VerifyPassword(password) {
		return nil, ErrBadCredentials
	}
	return toUser(u), nil
}

// User returns a user by ID
func (s *Service) User(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return toUser(u), nil
}

// Cart returns the account cart of a user
func (s *Service) Cart(userID string) []cart.LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cart.Clone(s.carts[userID])
}

// ReplaceCart overwrites the account cart of a user
func (s *Service) ReplaceCart(userID string, items []cart.LineItem) ([]cart.LineItem, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}
	normalized := cart.Normalize(items)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[userID] = normalized
	return cart.Clone(normalized), nil
}

// MergeCart unions items into the account cart, summing quantities per
// (productId, variantKey). A repeated idempotency key returns the response
// of the first request without applying the merge again.
func (s *Service) MergeCart(ctx context.Context, userID, idempotencyKey string, items []cart.LineItem) (*MergeResult, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	lock := s.mergeLock(userID)
	lock.Lock()
	defer lock.Unlock()

	recordKey := ""
	if idempotencyKey != "" && s.idempotency != nil {
		recordKey = "merge:" + userID + ":" + idempotencyKey
		stored, ok, err := s.idempotency.Lookup(ctx, recordKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency lookup: %w", err)
		}
		if ok {
			var replay MergeResult
			if err := json.Unmarshal(stored, &replay); err != nil {
				return nil, fmt.Errorf("decode stored merge response: %w", err)
			}
			replay.Replayed = true
			s.logger.Info("replaying merge response",
				zap.String("user_id", userID),
				zap.String("idempotency_key", idempotencyKey),
			)
			return &replay, nil
		}
	}

	s.mu.Lock()
	merged := cart.Merge(s.carts[userID], items)
	s.carts[userID] = merged
	s.mu.Unlock()

	result := &MergeResult{Items: cart.Clone(merged)}
	if recordKey != "" {
		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode merge response: %w", err)
		}
		if err := s.idempotency.Remember(ctx, recordKey, payload, s.idempotencyTTL); err != nil {
			s.logger.Warn("failed to remember merge response", zap.Error(err))
		}
	}

	s.logger.Info("cart merged",
		zap.String("user_id", userID),
		zap.Int("guest_lines", len(items)),
		zap.Int("account_lines", len(merged)),
	)
	return result, nil
}

// Wishlist returns the wishlist of a user
func (s *Service) Wishlist(userID string) []wishlist.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]wishlist.Item{}, s.wishlists[userID]...)
}

// AddToWishlist saves a product for a user
func (s *Service) AddToWishlist(userID string, item wishlist.Item) ([]wishlist.Item, error) {
	if item.ProductID == "" {
		return nil, fmt.Errorf("%w: productId is required", shared.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wishlists[userID] = wishlist.Dedupe(append(s.wishlists[userID], item))
	return append([]wishlist.Item{}, s.wishlists[userID]...), nil
}

func (s *Service) mergeLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.mergeLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.mergeLocks[userID] = lock
	}
	return lock
}

func validateItems(items []cart.LineItem) error {
	for _, item := range items {
		if err := item.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func toUser(u *domain.User) *User {
	return &User{ID: u.ID, Email: u.Email}
}
