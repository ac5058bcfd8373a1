package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/domain/cart"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/auth"
	"github.com/storefront/cartsync/internal/infrastructure/cache"
	"github.com/storefront/cartsync/internal/interfaces/http/dto"
)

const (
	testSecret   = "router-test-secret-0123456789abcdef"
	testEmail    = "demo@example.com"
	testPassword = "password-123"
)

type testAPI struct {
	engine   *gin.Engine
	accounts *account.Service
	jwt      *auth.JWTService
	user     *account.User
}

func newTestAPI(t *testing.T, store shared.IdempotencyStore) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if store == nil {
		mem := cache.NewInMemoryIdempotencyStore(time.Minute)
		t.Cleanup(func() { _ = mem.Close() })
		store = mem
	}

	accounts := account.NewService(store, account.WithBcryptCost(bcrypt.MinCost))
	user, err := accounts.Register(testEmail, testPassword)
	require.NoError(t, err)

	jwtService := auth.NewJWTService(testSecret, time.Hour, "cartsync")
	engine := NewEngine(Config{
		Accounts:    accounts,
		JWTService:  jwtService,
		Revocations: auth.NewRevocationList(),
		ServiceName: "cartsync-test",
	})
	return &testAPI{engine: engine, accounts: accounts, jwt: jwtService, user: user}
}

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any, headers map[string]string) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var resp apiResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func (a *testAPI) login(t *testing.T) string {
	t.Helper()
	w, resp := a.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: testEmail, Password: testPassword}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var login dto.LoginResponse
	require.NoError(t, json.Unmarshal(resp.Data, &login))
	require.NotEmpty(t, login.Token)
	return login.Token
}

func decodeItems(t *testing.T, resp apiResponse) []cart.LineItem {
	t.Helper()
	var body dto.CartResponse
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	return body.Items
}

func TestRouter_HealthIsPublic(t *testing.T) {
	api := newTestAPI(t, nil)
	w, resp := api.do(t, http.MethodGet, "/api/v1/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_Login(t *testing.T) {
	api := newTestAPI(t, nil)

	t.Run("issues a token with the user", func(t *testing.T) {
		w, resp := api.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: testEmail, Password: testPassword}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var login dto.LoginResponse
		require.NoError(t, json.Unmarshal(resp.Data, &login))
		assert.Equal(t, api.user.ID, login.User.ID)

		claims, err := api.jwt.Validate(login.Token)
		require.NoError(t, err)
		assert.Equal(t, api.user.ID, claims.UserID)
	})

	t.Run("wrong password is 401", func(t *testing.T) {
		w, resp := api.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: testEmail, Password: "nope-nope"}, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, dto.ErrCodeUnauthorized, resp.Error.Code)
	})

	t.Run("malformed body is 400", func(t *testing.T) {
		w, _ := api.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRouter_MeAndLogout(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.login(t)

	w, resp := api.do(t, http.MethodGet, "/api/v1/auth/me", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me dto.UserResponse
	require.NoError(t, json.Unmarshal(resp.Data, &me))
	assert.Equal(t, dto.UserResponse{ID: api.user.ID, Email: testEmail}, me)

	w, _ = api.do(t, http.MethodGet, "/api/v1/auth/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, resp = api.do(t, http.MethodGet, "/api/v1/auth/me", token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, dto.ErrCodeTokenRevoked, resp.Error.Code)
}

func TestRouter_MeForUnknownUser(t *testing.T) {
	api := newTestAPI(t, nil)
	issued, err := api.jwt.Issue("ghost", "ghost@example.com")
	require.NoError(t, err)

	w, _ := api.do(t, http.MethodGet, "/api/v1/auth/me", issued.Token, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_CartMerge(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.login(t)

	w, resp := api.do(t, http.MethodPut, "/api/v1/cart", token, map[string]any{
		"items": []map[string]any{{"productId": "P1", "variantKey": nil, "quantity": 1}},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []cart.LineItem{{ProductID: "P1", Quantity: 1}}, decodeItems(t, resp))

	body := map[string]any{"items": []map[string]any{
		{"productId": "P1", "variantKey": nil, "quantity": 2},
		{"productId": "P2", "variantKey": "red", "quantity": 1},
	}}
	want := []cart.LineItem{{ProductID: "P1", Quantity: 3}, {ProductID: "P2", VariantKey: "red", Quantity: 1}}

	headers := map[string]string{"Idempotency-Key": "op-1"}
	w, resp = api.do(t, http.MethodPost, "/api/v1/cart/merge", token, body, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, want, decodeItems(t, resp))

	w, resp = api.do(t, http.MethodPost, "/api/v1/cart/merge", token, body, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, want, decodeItems(t, resp))

	w, resp = api.do(t, http.MethodGet, "/api/v1/cart", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, decodeItems(t, resp))
}

func TestRouter_CartMergeRejectsInvalidLines(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.login(t)

	w, resp := api.do(t, http.MethodPost, "/api/v1/cart/merge", token, map[string]any{
		"items": []map[string]any{{"productId": "P1", "quantity": 0}},
	}, map[string]string{"Idempotency-Key": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	assert.Empty(t, api.accounts.Cart(api.user.ID))
}

func TestRouter_CartRequiresToken(t *testing.T) {
	api := newTestAPI(t, nil)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodPost, "/api/v1/cart/merge"},
		{http.MethodGet, "/api/v1/wishlist"},
	} {
		w, _ := api.do(t, route.method, route.path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, route.path)
	}
}

func TestRouter_Wishlist(t *testing.T) {
	api := newTestAPI(t, nil)
	token := api.login(t)

	w, _ := api.do(t, http.MethodPost, "/api/v1/wishlist", token, dto.WishlistItemRequest{ProductID: "W1"}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := api.do(t, http.MethodGet, "/api/v1/wishlist", token, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body dto.WishlistResponse
	require.NoError(t, json.Unmarshal(resp.Data, &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, "W1", body.Items[0].ProductID)
}

func TestRouter_MergeReplayWithRedisIdempotency(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	api := newTestAPI(t, cache.NewRedisIdempotencyStoreWithClient(client, "test:"))
	token := api.login(t)
	body := map[string]any{"items": []map[string]any{{"productId": "P1", "quantity": 2}}}
	headers := map[string]string{"Idempotency-Key": "op-redis"}

	w, _ := api.do(t, http.MethodPost, "/api/v1/cart/merge", token, body, headers)
	require.Equal(t, http.StatusOK, w.Code)
	w, resp := api.do(t, http.MethodPost, "/api/v1/cart/merge", token, body, headers)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, []cart.LineItem{{ProductID: "P1", Quantity: 2}}, decodeItems(t, resp))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Contains(t, keys[0], "op-redis")
}

func TestRouter_LoginRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	accounts := account.NewService(nil, account.WithBcryptCost(bcrypt.MinCost))
	engine := NewEngine(Config{
		Accounts:           accounts,
		JWTService:         auth.NewJWTService(testSecret, time.Hour, "cartsync"),
		LoginRatePerSecond: 0.001,
		LoginBurst:         1,
	})
	api := &testAPI{engine: engine, accounts: accounts}

	w, _ := api.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: testEmail, Password: testPassword}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = api.do(t, http.MethodPost, "/api/v1/auth/login", "", dto.LoginRequest{Email: testEmail, Password: testPassword}, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
