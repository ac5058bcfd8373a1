package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/infrastructure/auth"
	"github.com/storefront/cartsync/internal/infrastructure/logger"
	"github.com/storefront/cartsync/internal/interfaces/http/handler"
	"github.com/storefront/cartsync/internal/interfaces/http/middleware"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// WithGroupMiddleware adds middleware to the versioned API group
func WithGroupMiddleware(handlers ...gin.HandlerFunc) RouterOption {
	return func(r *Router) {
		r.middleware = append(r.middleware, handlers...)
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
		registrars: make([]RouteRegistrar, 0),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a RouteRegistrar to be registered later
func (r *Router) Register(registrar RouteRegistrar) *Router {
	r.registrars = append(r.registrars, registrar)
	return r
}

// Setup registers all routes under /api/<version>
func (r *Router) Setup() {
	api := r.engine.Group("/api/"+r.apiVersion, r.middleware...)
	for _, registrar := range r.registrars {
		registrar.RegisterRoutes(api)
	}
}

// Config assembles the development backend
type Config struct {
	Accounts    *account.Service
	JWTService  *auth.JWTService
	Revocations *auth.RevocationList
	Logger      *zap.Logger

	ServiceName    string
	TracingEnabled bool
	// BodyLimit caps request bodies; 0 means middleware.DefaultBodyLimit
	BodyLimit int64
	// LoginRatePerSecond limits POST /auth/login per client IP; 0 disables it
	LoginRatePerSecond float64
	LoginBurst         int
}

// NewEngine builds the gin engine serving the storefront API
func NewEngine(cfg Config) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bodyLimit := cfg.BodyLimit
	if bodyLimit <= 0 {
		bodyLimit = middleware.DefaultBodyLimit
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		logger.GinMiddleware(log),
		logger.Recovery(log),
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: cfg.ServiceName,
			Enabled:     cfg.TracingEnabled,
		}),
		middleware.BodyLimit(bodyLimit),
	)

	authCfg := middleware.NewAuthConfig(cfg.JWTService, cfg.Revocations, log)

	var loginGuards []gin.HandlerFunc
	if cfg.LoginRatePerSecond > 0 {
		burst := cfg.LoginBurst
		if burst <= 0 {
			burst = 1
		}
		loginGuards = append(loginGuards, middleware.RateLimit(middleware.NewRateLimiter(cfg.LoginRatePerSecond, burst, 0)))
	}

	NewRouter(engine,
		WithGroupMiddleware(middleware.Authenticate(authCfg), middleware.SpanEnricher()),
	).
		Register(handler.NewSystemHandler()).
		Register(handler.NewAuthHandler(cfg.Accounts, cfg.JWTService, cfg.Revocations, loginGuards...)).
		Register(handler.NewCartHandler(cfg.Accounts)).
		Register(handler.NewWishlistHandler(cfg.Accounts)).
		Setup()

	return engine
}
