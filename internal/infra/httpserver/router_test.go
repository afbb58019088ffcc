package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	"github.com/bryanwahyu/ppsec-gateway/internal/application/cache"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
	"github.com/bryanwahyu/ppsec-gateway/internal/logger"
	"github.com/bryanwahyu/ppsec-gateway/internal/middleware"
)

var (
	routerNow  = time.Date(2025, time.July, 1, 10, 0, 0, 0, time.UTC)
	jwtSecret  = strings.Repeat("s", 32)
	fixedClock = application.ClockFunc(func() time.Time { return routerNow })
)

type cacheStub struct {
	snap       *domain.Snapshot
	status     cache.Status
	refreshErr error
	panicOnGet bool
	asyncCalls atomic.Int32
	syncCalls  atomic.Int32
}

func (c *cacheStub) GetSnapshot(context.Context) *domain.Snapshot {
	if c.panicOnGet {
		panic("snapshot store corrupted")
	}
	return c.snap
}

func (c *cacheStub) Refresh(context.Context, bool) error {
	c.syncCalls.Add(1)
	return c.refreshErr
}

func (c *cacheStub) RefreshAsync() bool {
	c.asyncCalls.Add(1)
	return false
}

func (c *cacheStub) Status() cache.Status { return c.status }

func seeded() *domain.Snapshot {
	s := &domain.Snapshot{
		Timestamp: routerNow.Add(-time.Hour),
		Environments: []domain.Environment{
			{Name: "env-a", DisplayName: "A", Findings: domain.NewFindings([]string{"No DLP policies configured - HIGH RISK"})},
			{Name: "env-b", DisplayName: "B", DLPPolicyCount: 2},
		},
	}
	s.Seal()
	return s
}

func newTestRouter(t *testing.T, c SnapshotCache, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := Options{
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:   true,
			JWTSecret: jwtSecret,
			APIKeys:   []middleware.APIKey{{Key: "reader-key", Name: "reader", Permissions: []string{"read"}}},
		}, fixedClock),
		CORS:    middleware.CORSConfig{Enabled: true, AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST", "OPTIONS"}},
		Swagger: true,
		Clock:   fixedClock,
		Logger:  logger.Discard(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewRouter(c, opts)
}

func call(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "192.0.2.10:40000"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var readerKey = map[string]string{"X-API-Key": "reader-key"}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

var allRoutes = []struct{ method, path string }{
	{http.MethodGet, "/api/summary"},
	{http.MethodGet, "/api/environments"},
	{http.MethodGet, "/api/users"},
	{http.MethodGet, "/api/connections"},
	{http.MethodGet, "/api/flows"},
	{http.MethodGet, "/api/findings"},
	{http.MethodGet, "/api/health"},
	{http.MethodPost, "/api/refresh"},
	{http.MethodGet, "/swagger"},
}

func TestAuthGateCoversEveryPath(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	paths := append(slices.Clone(allRoutes), struct{ method, path string }{http.MethodGet, "/does-not-exist"})
	for _, rt := range paths {
		rec := call(h, rt.method, rt.path, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s without credentials: got %d", rt.method, rt.path, rec.Code)
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["error"] == "" {
			t.Fatalf("401 body should carry an error message")
		}
	}
}

func TestReadAndAdminReachEveryRoute(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	readToken, _ := middleware.IssueToken(jwtSecret, "", "reader", []string{"read"}, time.Hour, routerNow)
	adminToken, _ := middleware.IssueToken(jwtSecret, "", "ops", []string{"admin"}, time.Hour, routerNow)
	for _, token := range []string{readToken, adminToken} {
		for _, rt := range allRoutes {
			rec := call(h, rt.method, rt.path, map[string]string{"Authorization": "Bearer " + token})
			if rec.Code >= 400 {
				t.Fatalf("%s %s: got %d %s", rt.method, rt.path, rec.Code, rec.Body.String())
			}
		}
	}
}

func TestUnknownRoutesAndMethodsReturn404(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	for _, rt := range []struct{ method, path string }{
		{http.MethodGet, "/api/unknown"},
		{http.MethodGet, "/api/summary/extra"},
		{http.MethodDelete, "/api/summary"},
		{http.MethodGet, "/api/refresh"},
	} {
		rec := call(h, rt.method, rt.path, readerKey)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: got %d", rt.method, rt.path, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"error"`) {
			t.Fatalf("404 body should be JSON: %s", rec.Body.String())
		}
	}
}

func TestOptionsShortCircuitsBeforeAuth(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	rec := call(h, http.MethodOptions, "/api/users", map[string]string{"Origin": "https://portal.example.com"})
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("OPTIONS: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRateLimitBeforeAuth(t *testing.T) {
	const limit = 3
	rl := middleware.NewMemoryRateLimiter(limit, time.Minute, fixedClock)
	t.Cleanup(rl.Close)
	h := newTestRouter(t, &cacheStub{snap: seeded()}, func(o *Options) { o.Limiter = rl })
	for i := 0; i < limit; i++ {
		if rec := call(h, http.MethodGet, "/api/summary", readerKey); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i+1, rec.Code)
		}
	}
	rec := call(h, http.MethodGet, "/api/summary", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected 429 with Retry-After, got %d", rec.Code)
	}
}

func TestSummaryScenario(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	rec := call(h, http.MethodGet, "/api/summary", readerKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("summary: %d", rec.Code)
	}
	var body struct {
		Overview struct {
			TotalEnvironments int `json:"totalEnvironments"`
		} `json:"overview"`
		Security struct {
			HighRiskFindings int `json:"highRiskFindings"`
			OverallRiskScore int `json:"overallRiskScore"`
		} `json:"security"`
		LastUpdated time.Time `json:"lastUpdated"`
	}
	decode(t, rec, &body)
	if body.Overview.TotalEnvironments != 2 || body.Security.HighRiskFindings != 1 || body.Security.OverallRiskScore != 10 {
		t.Fatalf("unexpected summary %+v", body)
	}
	if !body.LastUpdated.Equal(routerNow) {
		t.Fatalf("lastUpdated = %s", body.LastUpdated)
	}
}

func TestFindingsEndpointOrder(t *testing.T) {
	s := &domain.Snapshot{Timestamp: routerNow, Environments: []domain.Environment{{
		Name:     "env",
		Findings: domain.NewFindings([]string{"X - HIGH RISK", "Y - MEDIUM RISK", "Z"}),
	}}}
	s.Seal()
	h := newTestRouter(t, &cacheStub{snap: s}, nil)
	rec := call(h, http.MethodGet, "/api/findings", readerKey)
	var body struct {
		Findings []struct {
			RiskLevel string `json:"riskLevel"`
			RiskScore int    `json:"riskScore"`
		} `json:"findings"`
		Pagination domain.Pagination `json:"pagination"`
	}
	decode(t, rec, &body)
	if len(body.Findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(body.Findings))
	}
	want := []struct {
		level string
		score int
	}{{"HIGH", 10}, {"MEDIUM", 5}, {"LOW", 1}}
	for i, w := range want {
		if body.Findings[i].RiskLevel != w.level || body.Findings[i].RiskScore != w.score {
			t.Fatalf("finding %d = %+v, want %+v", i, body.Findings[i], w)
		}
	}
	if body.Pagination.TotalCount != 3 || body.Pagination.PageSize != 100 {
		t.Fatalf("unexpected pagination %+v", body.Pagination)
	}
}

func TestPaginationEnvelope(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	rec := call(h, http.MethodGet, "/api/environments?page=2&pageSize=1", readerKey)
	var body struct {
		Environments []map[string]any `json:"environments"`
		Pagination   domain.Pagination `json:"pagination"`
		LastUpdated  string            `json:"lastUpdated"`
	}
	decode(t, rec, &body)
	if len(body.Environments) != 1 || body.Environments[0]["environmentName"] != "env-b" {
		t.Fatalf("unexpected page %+v", body.Environments)
	}
	p := body.Pagination
	if p.TotalPages != 2 || p.HasNextPage || !p.HasPreviousPage || body.LastUpdated == "" {
		t.Fatalf("unexpected pagination %+v", p)
	}
}

func TestInvalidFilterIs400(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	rec := call(h, http.MethodGet, "/api/flows?isEnabled=sometimes", readerKey)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "isEnabled") {
		t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPanicBecomesGeneric500(t *testing.T) {
	h := newTestRouter(t, &cacheStub{panicOnGet: true}, nil)
	rec := call(h, http.MethodGet, "/api/users", readerKey)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "corrupted") {
		t.Fatalf("internal detail leaked: %s", rec.Body.String())
	}
	if rec := call(h, http.MethodGet, "/api/health", readerKey); rec.Code != http.StatusOK {
		t.Fatalf("gateway should keep serving after a panic, got %d", rec.Code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	stub := &cacheStub{snap: seeded()}
	h := newTestRouter(t, stub, nil)

	rec := call(h, http.MethodPost, "/api/refresh", readerKey)
	if rec.Code != http.StatusAccepted || stub.asyncCalls.Load() != 1 {
		t.Fatalf("async refresh: %d calls=%d", rec.Code, stub.asyncCalls.Load())
	}

	rec = call(h, http.MethodPost, "/api/refresh?wait=true", readerKey)
	if rec.Code != http.StatusOK || stub.syncCalls.Load() != 1 {
		t.Fatalf("sync refresh: %d", rec.Code)
	}

	stub.refreshErr = errors.New("engine exited with status 1")
	rec = call(h, http.MethodPost, "/api/refresh?wait=true", readerKey)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "assessment refresh failed") {
		t.Fatalf("failed refresh: %d %s", rec.Code, rec.Body.String())
	}

	if rec := call(h, http.MethodPost, "/api/refresh?wait=soon", readerKey); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid wait: %d", rec.Code)
	}
}

func TestSwaggerToggle(t *testing.T) {
	h := newTestRouter(t, &cacheStub{snap: seeded()}, nil)
	rec := call(h, http.MethodGet, "/swagger", readerKey)
	var doc map[string]any
	decode(t, rec, &doc)
	if doc["openapi"] == nil {
		t.Fatalf("swagger document missing openapi field")
	}

	off := newTestRouter(t, &cacheStub{snap: seeded()}, func(o *Options) { o.Swagger = false })
	if rec := call(off, http.MethodGet, "/swagger", readerKey); rec.Code != http.StatusNotFound {
		t.Fatalf("disabled swagger: %d", rec.Code)
	}
}

type flakyEngine struct {
	calls atomic.Int32
}

func (e *flakyEngine) Assess(context.Context, string) (*domain.Snapshot, error) {
	if e.calls.Add(1) == 1 {
		return seeded(), nil
	}
	return nil, errors.New("platform API unreachable")
}

func TestStaleServingThroughHealth(t *testing.T) {
	clock := routerNow
	now := application.ClockFunc(func() time.Time { return clock })
	m := cache.New(&flakyEngine{}, cache.Options{TTL: time.Minute, Clock: now, Logger: logger.Discard()})
	t.Cleanup(m.Close)

	h := newTestRouter(t, m, func(o *Options) { o.Clock = now })
	first := call(h, http.MethodGet, "/api/summary", readerKey)
	if first.Code != http.StatusOK {
		t.Fatalf("summary: %d", first.Code)
	}
	refreshedAt := clock

	clock = clock.Add(5 * time.Minute)
	if rec := call(h, http.MethodPost, "/api/refresh?wait=true", readerKey); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected failed refresh, got %d", rec.Code)
	}

	var before, after struct {
		SnapshotID string `json:"snapshotId"`
		Overview   struct {
			TotalEnvironments int `json:"totalEnvironments"`
		} `json:"overview"`
	}
	decode(t, first, &before)
	decode(t, call(h, http.MethodGet, "/api/summary", readerKey), &after)
	if after.SnapshotID != before.SnapshotID || after.Overview.TotalEnvironments != 2 {
		t.Fatalf("stale snapshot should be served unchanged: %+v vs %+v", after, before)
	}

	var health struct {
		Status string       `json:"status"`
		Cache  cache.Status `json:"cache"`
	}
	decode(t, call(h, http.MethodGet, "/api/health", readerKey), &health)
	if health.Cache.LastRefresh == nil || !health.Cache.LastRefresh.Equal(refreshedAt) {
		t.Fatalf("health should report the last successful refresh, got %v", health.Cache.LastRefresh)
	}
	if !health.Cache.Stale || !health.Cache.LastRefreshFailed || health.Status != "degraded" {
		t.Fatalf("unexpected health %+v", health)
	}
}

type stalledEngine struct {
	release chan struct{}
}

func (e *stalledEngine) Assess(ctx context.Context, _ string) (*domain.Snapshot, error) {
	select {
	case <-e.release:
		return seeded(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestSlowRefreshAnswersBeforeWriteDeadline(t *testing.T) {
	eng := &stalledEngine{release: make(chan struct{})}
	m := cache.New(eng, cache.Options{Logger: logger.Discard()})
	h := newTestRouter(t, m, func(o *Options) { o.RequestTimeout = 100 * time.Millisecond })

	srv := httptest.NewUnstartedServer(h)
	srv.Config.WriteTimeout = 300 * time.Millisecond
	srv.Start()
	t.Cleanup(srv.Close)
	t.Cleanup(m.Close)
	t.Cleanup(func() { close(eng.release) })

	send := func(method, path string) (int, map[string]any) {
		t.Helper()
		req, _ := http.NewRequest(method, srv.URL+path, nil)
		req.Header.Set("X-API-Key", "reader-key")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
		return resp.StatusCode, body
	}

	if code, body := send(http.MethodGet, "/api/summary"); code != http.StatusOK || body["overview"] == nil {
		t.Fatalf("summary during first refresh: %d %v", code, body)
	}
	code, body := send(http.MethodPost, "/api/refresh?wait=true")
	if code != http.StatusServiceUnavailable || body["error"] != "assessment refresh in progress" {
		t.Fatalf("waiting refresh: %d %v", code, body)
	}
}

func TestMetricsRecordRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, reg)
	h := newTestRouter(t, &cacheStub{snap: seeded()}, func(o *Options) { o.Metrics = metrics })

	call(h, http.MethodGet, "/api/users", readerKey)
	call(h, http.MethodGet, "/api/users", nil)
	metrics.RefreshObserved(cache.OutcomeSuccess, 3*time.Second)

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`ppsec_http_requests_total{method="GET",route="/api/users",status="200"} 1`,
		`ppsec_http_requests_total{method="GET",route="unmatched",status="401"} 1`,
		`ppsec_cache_refresh_total{outcome="success"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}

	again := NewMetrics(reg, reg)
	if again.requestTotal != metrics.requestTotal {
		t.Fatalf("re-registration should reuse existing collectors")
	}
}
