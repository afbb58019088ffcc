package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	"github.com/bryanwahyu/ppsec-gateway/internal/application/cache"
	"github.com/bryanwahyu/ppsec-gateway/internal/application/query"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/middleware"
)

const healthCheckTimeout = 2 * time.Second

// DefaultRequestTimeout bounds how long a request waits on the cache when
// Options.RequestTimeout is unset.
const DefaultRequestTimeout = 10 * time.Second

// SnapshotCache is the part of the cache manager the gateway uses.
type SnapshotCache interface {
	GetSnapshot(ctx context.Context) *domain.Snapshot
	Refresh(ctx context.Context, force bool) error
	RefreshAsync() bool
	Status() cache.Status
}

type Options struct {
	Auth    *middleware.Authenticator
	Limiter middleware.RateLimiter // nil disables rate limiting
	CORS    middleware.CORSConfig
	Swagger bool
	Stats   *middleware.Stats
	Metrics *Metrics
	Checks  map[string]middleware.HealthChecker
	Version string
	Clock   application.Clock
	Logger  *slog.Logger

	// RequestTimeout bounds cache waits so a response is written before the
	// server's write deadline.
	RequestTimeout time.Duration
}

type Router struct {
	cache   SnapshotCache
	stats   *middleware.Stats
	checks  map[string]middleware.HealthChecker
	version string
	clock   application.Clock
	log     *slog.Logger
	timeout time.Duration
}

// NewRouter assembles the gateway: request log, stats, panic recovery, CORS,
// rate limit and authentication run in that order before routing.
func NewRouter(c SnapshotCache, opts Options) http.Handler {
	if opts.Clock == nil {
		opts.Clock = application.SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Stats == nil {
		opts.Stats = middleware.NewStats(opts.Clock)
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Auth == nil {
		opts.Auth = middleware.NewAuthenticator(middleware.AuthConfig{Enabled: false}, opts.Clock)
	}
	r := &Router{
		cache:   c,
		stats:   opts.Stats,
		checks:  opts.Checks,
		version: opts.Version,
		clock:   opts.Clock,
		log:     opts.Logger,
		timeout: opts.RequestTimeout,
	}

	mux := chi.NewRouter()
	mux.Use(middleware.RequestLogger(opts.Logger))
	if opts.Metrics != nil {
		mux.Use(opts.Metrics.Middleware)
	}
	mux.Use(opts.Stats.Middleware)
	mux.Use(middleware.Recover(opts.Logger))
	mux.Use(middleware.CORS(opts.CORS))
	if opts.Limiter != nil {
		mux.Use(middleware.RateLimit(opts.Limiter, opts.Logger))
	}
	mux.Use(opts.Auth.Middleware(opts.Logger))

	mux.NotFound(notFound)
	mux.MethodNotAllowed(notFound)

	mux.Group(func(rt chi.Router) {
		rt.Use(middleware.RequirePermission(middleware.PermissionRead))
		rt.Get("/api/summary", r.wrap(r.handleSummary))
		rt.Get("/api/environments", r.wrap(r.handleEnvironments))
		rt.Get("/api/users", r.wrap(r.handleUsers))
		rt.Get("/api/connections", r.wrap(r.handleConnections))
		rt.Get("/api/flows", r.wrap(r.handleFlows))
		rt.Get("/api/findings", r.wrap(r.handleFindings))
		rt.Get("/api/health", r.wrap(r.handleHealth))
		rt.Post("/api/refresh", r.wrap(r.handleRefresh))
		if opts.Swagger {
			rt.Get("/swagger", serveSwagger)
		}
	})
	return mux
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteError(w, http.StatusNotFound, "not found")
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var pe *query.ParamError
		if errors.As(err, &pe) {
			middleware.WriteError(w, http.StatusBadRequest, pe.Error())
			return
		}
		r.log.Error("handler failed",
			"error", err,
			"method", req.Method,
			"path", req.URL.Path,
			"request_id", middleware.RequestID(req.Context()),
		)
		middleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}

// snapshot returns the cached snapshot, waiting at most the request timeout
// for the first refresh.
func (r *Router) snapshot(req *http.Request) *domain.Snapshot {
	ctx, cancel := context.WithTimeout(req.Context(), r.timeout)
	defer cancel()
	return r.cache.GetSnapshot(ctx)
}

// GET /api/summary
func (r *Router) handleSummary(w http.ResponseWriter, req *http.Request) error {
	snap := r.snapshot(req)
	middleware.WriteJSON(w, http.StatusOK, query.Summary(snap, r.clock.Now()))
	return nil
}

// GET /api/environments?riskLevel=&environmentType=&page=&pageSize=
func (r *Router) handleEnvironments(w http.ResponseWriter, req *http.Request) error {
	list, err := query.Environments(r.snapshot(req), req.URL.Query(), r.clock.Now())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/users?environmentName=&roleType=&principalType=&requiresReview=&page=&pageSize=
func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) error {
	list, err := query.Users(r.snapshot(req), req.URL.Query(), r.clock.Now())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/connections?environmentName=&connectorName=&isHighRisk=&requiresAction=&page=&pageSize=
func (r *Router) handleConnections(w http.ResponseWriter, req *http.Request) error {
	list, err := query.Connections(r.snapshot(req), req.URL.Query(), r.clock.Now())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/flows?environmentName=&isEnabled=&hasHttpTrigger=&requiresReview=&page=&pageSize=
func (r *Router) handleFlows(w http.ResponseWriter, req *http.Request) error {
	list, err := query.Flows(r.snapshot(req), req.URL.Query(), r.clock.Now())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/findings?riskLevel=&category=&environmentName=&resourceType=&page=&pageSize=
func (r *Router) handleFindings(w http.ResponseWriter, req *http.Request) error {
	list, err := query.Findings(r.snapshot(req), req.URL.Query(), r.clock.Now())
	if err != nil {
		return err
	}
	middleware.WriteJSON(w, http.StatusOK, list)
	return nil
}

type healthResponse struct {
	Status    string                            `json:"status"`
	Version   string                            `json:"version,omitempty"`
	Timestamp time.Time                         `json:"timestamp"`
	Uptime    float64                           `json:"uptimeSeconds"`
	Requests  middleware.StatsSnapshot          `json:"requests"`
	Cache     cache.Status                      `json:"cache"`
	Checks    map[string]middleware.CheckStatus `json:"checks,omitempty"`
}

// GET /api/health
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) error {
	stats := r.stats.Snapshot()
	resp := healthResponse{
		Status:    "healthy",
		Version:   r.version,
		Timestamp: r.clock.Now(),
		Uptime:    stats.UptimeSeconds,
		Requests:  stats,
		Cache:     r.cache.Status(),
	}
	if len(r.checks) > 0 {
		checks, ok := middleware.RunChecks(req.Context(), r.checks, healthCheckTimeout)
		resp.Checks = checks
		if !ok {
			resp.Status = "degraded"
		}
	}
	if resp.Cache.LastRefreshFailed {
		resp.Status = "degraded"
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
	return nil
}

// POST /api/refresh[?wait=true]
func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) error {
	wait := false
	if v := strings.TrimSpace(req.URL.Query().Get("wait")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &query.ParamError{Param: "wait", Value: v}
		}
		wait = b
	}

	if !wait {
		running := r.cache.RefreshAsync()
		middleware.WriteJSON(w, http.StatusAccepted, map[string]any{
			"status":         "accepted",
			"alreadyRunning": running,
			"lastUpdated":    r.clock.Now(),
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(req.Context(), r.timeout)
	defer cancel()
	if err := r.cache.Refresh(ctx, true); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
			// the refresh keeps running; the client can poll /api/health
			middleware.WriteError(w, http.StatusServiceUnavailable, "assessment refresh in progress")
			return nil
		}
		r.log.Warn("synchronous refresh failed", "error", err, "request_id", middleware.RequestID(req.Context()))
		middleware.WriteError(w, http.StatusServiceUnavailable, "assessment refresh failed")
		return nil
	}
	snap := r.cache.GetSnapshot(ctx)
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      "refreshed",
		"snapshotId":  snap.ID,
		"timestamp":   snap.Timestamp,
		"lastUpdated": r.clock.Now(),
	})
	return nil
}
