package http

import (
	"log/slog"
	"net/http"
	"time"

	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/aussiebroadwan/gatekeeper/api/docs" // Swagger docs
	"github.com/aussiebroadwan/gatekeeper/internal/auth/instrumentation"
	"github.com/aussiebroadwan/gatekeeper/internal/auth/service"
	"github.com/aussiebroadwan/gatekeeper/pkg/httpx"
	"github.com/aussiebroadwan/gatekeeper/pkg/ratelimit"
	"github.com/aussiebroadwan/gatekeeper/pkg/slogx"
)

// PermissionInvalidateKeys guards the key invalidation endpoint.
const PermissionInvalidateKeys = "keys:invalidate"

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	TokenService *service.TokenService
	Validator    *service.TokenValidator
	MFAService   *service.MFAService
	Keys         KeyCache
	Metrics      *instrumentation.Metrics

	// IPLimiter gates every endpoint by client address, PrincipalLimiter
	// gates protected endpoints by token subject.
	IPLimiter        ratelimit.Limiter
	IPLimit          ratelimit.Config
	PrincipalLimiter ratelimit.Limiter
	PrincipalLimit   ratelimit.Config
	TrustProxy       bool

	ReadinessChecks []ReadinessCheck
}

func NewRouter(buildVersion string, logger *slog.Logger) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.Middleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	if r.IPLimiter == nil {
		r.IPLimit = ratelimit.OriginDefault
		r.IPLimiter = ratelimit.NewMemoryLimiter(r.IPLimit, nil, 0)
	}
	if r.PrincipalLimiter == nil {
		r.PrincipalLimit = ratelimit.PrincipalDefault
		r.PrincipalLimiter = ratelimit.NewMemoryLimiter(r.PrincipalLimit, nil, 0)
	}

	r.registerAuth()
	r.registerProtected()
	r.registerKeys()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			Gatekeeper Token Service API
//	@version		0.1.0
//	@description	Issues short-lived JWT access tokens and rotating opaque refresh tokens.
//
//	@contact.name	AussieBroadWAN Team
//	@contact.url	https://github.com/aussiebroadwan/gatekeeper
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host			localhost:8080
//	@BasePath		/
//
//	@schemes		http https
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT access token. Format: "Bearer {token}".
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) ipKey() httpx.KeyExtractor {
	return httpx.IPKeyExtractor(r.TrustProxy)
}

func (r *Router) byIP() httpx.Middleware {
	return httpx.RateLimitMiddleware(httpx.RateLimitOptions{
		Name:       "ip",
		Limiter:    r.IPLimiter,
		Key:        r.ipKey(),
		RetryAfter: r.IPLimit.Interval(),
		OnDenied:   r.recordDenied,
	})
}

func (r *Router) byPrincipal() httpx.Middleware {
	return httpx.RateLimitMiddleware(httpx.RateLimitOptions{
		Name:       "principal",
		Limiter:    r.PrincipalLimiter,
		Key:        httpx.SubjectKeyExtractor,
		RetryAfter: r.PrincipalLimit.Interval(),
		OnDenied:   r.recordDenied,
	})
}

func (r *Router) recordDenied(req *http.Request, name string) {
	r.Metrics.RecordRateLimitExceeded(req.Context(), name)
}

// protected runs the IP gate, then token validation, then the principal
// gate.
func (r *Router) protected(h http.Handler, mws ...httpx.Middleware) http.Handler {
	chain := []httpx.Middleware{
		r.byIP(),
		httpx.AuthnMiddleware(r.Validator, writeAuthnError),
		r.byPrincipal(),
	}
	return httpx.Chain(h, append(chain, mws...)...)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{Tokens: r.TokenService, Origin: r.ipKey()}

	r.Mux.Handle("POST /v1/auth/login", httpx.Chain(http.HandlerFunc(h.HandleLogin), r.byIP()))
	r.Mux.Handle("POST /v1/auth/refresh", httpx.Chain(http.HandlerFunc(h.HandleRefresh), r.byIP()))
	r.Mux.Handle("POST /v1/auth/logout", httpx.Chain(http.HandlerFunc(h.HandleLogout), r.byIP()))
}

func (r *Router) registerProtected() {
	mfa := &MFAHandler{MFAService: r.MFAService}

	r.Mux.Handle("GET /v1/auth/validate", r.protected(ValidateHandler()))
	r.Mux.Handle("POST /v1/auth/mfa/enroll", r.protected(http.HandlerFunc(mfa.HandleEnroll)))
}

func (r *Router) registerKeys() {
	r.Mux.Handle("GET /internal/v1/public-key", httpx.Chain(PublicKeyHandler(r.Keys), r.byIP()))
	r.Mux.Handle("POST /internal/v1/keys/invalidate", r.protected(
		InvalidateKeysHandler(r.Keys),
		httpx.RequirePermissions(PermissionInvalidateKeys),
	))
}

func (r *Router) registerSystem() {
	// Probes are not rate limited; orchestrators poll them from one address.
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.ReadinessChecks...))
}
