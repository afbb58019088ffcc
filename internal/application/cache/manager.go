package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bryanwahyu/ppsec-gateway/internal/application"
	domain "github.com/bryanwahyu/ppsec-gateway/internal/domain/assessment"
)

const (
	DefaultTTL           = 60 * time.Minute
	DefaultInterval      = 60 * time.Minute
	DefaultEngineTimeout = 10 * time.Minute

	publishTimeout = 2 * time.Minute
	adviceTimeout  = time.Minute
	refreshKey     = "snapshot"
)

// Refresh outcomes reported to the Observer.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Entry is the content of the cache slot. Entries are never modified after
// they are stored; every change stores a new Entry.
type Entry struct {
	Snapshot *domain.Snapshot
	// FetchedAt is the time of the successful refresh that produced Snapshot.
	// It is zero for the placeholder installed when no refresh ever succeeded.
	FetchedAt   time.Time
	Placeholder bool
	Stale       bool
	LastError   string
	LastAttempt time.Time
}

// Observer receives refresh outcomes, e.g. for metrics.
type Observer interface {
	RefreshObserved(outcome string, duration time.Duration)
}

// Options configure a Manager. Zero durations fall back to the defaults.
type Options struct {
	TTL               time.Duration
	Interval          time.Duration
	EngineTimeout     time.Duration
	EnvironmentFilter string
	RefreshOnStart    bool

	Archive   domain.Archive
	Store     domain.ArtifactStore
	Exporters []domain.Exporter
	Advisor   domain.Advisor
	Observer  Observer

	Clock  application.Clock
	Logger *slog.Logger
}

// Manager owns the single snapshot slot. Reads never block; refreshes are
// coalesced so at most one engine invocation is in flight.
type Manager struct {
	engine domain.Engine
	opts   Options
	clock  application.Clock
	log    *slog.Logger

	current    atomic.Pointer[Entry]
	group      singleflight.Group
	refreshing atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

// ErrClosed is returned by refreshes requested after Close.
var ErrClosed = errors.New("cache manager closed")

func New(engine domain.Engine, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.EngineTimeout <= 0 {
		opts.EngineTimeout = DefaultEngineTimeout
	}
	clock := opts.Clock
	if clock == nil {
		clock = application.SystemClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		engine:  engine,
		opts:    opts,
		clock:   clock,
		log:     log.With("component", "cache"),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// GetSnapshot returns the current snapshot. Only the very first call blocks,
// running a forced refresh; if that fails an empty snapshot is returned.
func (m *Manager) GetSnapshot(ctx context.Context) *domain.Snapshot {
	if e := m.current.Load(); e != nil {
		return e.Snapshot
	}
	if err := m.Refresh(ctx, true); err != nil {
		m.log.Warn("initial snapshot unavailable", "error", err)
	}
	if e := m.current.Load(); e != nil {
		return e.Snapshot
	}
	// the caller gave up before the first refresh finished
	return domain.EmptySnapshot(m.clock.Now())
}

// Current returns the slot content, or nil before the first refresh.
func (m *Manager) Current() *Entry {
	return m.current.Load()
}

// Refresh runs the engine unless force is false and the cached snapshot is
// younger than the TTL. Concurrent calls share one engine invocation. The
// invocation is not cancelled when ctx is; ctx only bounds the wait.
func (m *Manager) Refresh(ctx context.Context, force bool) error {
	if !force && !m.needsRefresh() {
		m.observe(OutcomeSkipped, 0)
		return nil
	}
	for {
		ch := m.group.DoChan(refreshKey, func() (any, error) {
			return m.flight(force)
		})
		select {
		case res := <-ch:
			// a forced caller that joined a non-forced flight which skipped
			// retries with a flight of its own
			if force && res.Err == nil && !res.Val.(bool) {
				continue
			}
			return res.Err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flight is the body shared by every caller of one singleflight call. It
// reports whether the engine ran.
func (m *Manager) flight(force bool) (bool, error) {
	if !m.track() {
		return false, ErrClosed
	}
	defer m.wg.Done()
	return m.refresh(force)
}

// track registers a background operation with Close. It fails once Close has
// started.
func (m *Manager) track() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.wg.Add(1)
	return true
}

// RefreshAsync starts a forced refresh in the background. It reports whether a
// refresh was already running, in which case the call joins it.
func (m *Manager) RefreshAsync() bool {
	running := m.refreshing.Load()
	if !m.track() {
		return running
	}
	go func() {
		defer m.wg.Done()
		_ = m.Refresh(m.baseCtx, true)
	}()
	return running
}

// Refreshing reports whether an engine invocation is in flight.
func (m *Manager) Refreshing() bool {
	return m.refreshing.Load()
}

// Run refreshes on the configured interval until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.RefreshOnStart {
		_ = m.Refresh(ctx, false)
	}
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.Refresh(ctx, false)
		}
	}
}

// Warm installs the latest archived snapshot when the slot is still empty.
func (m *Manager) Warm(ctx context.Context) error {
	if m.opts.Archive == nil || m.current.Load() != nil {
		return nil
	}
	snap, fetchedAt, err := m.opts.Archive.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNoSnapshot) {
			return nil
		}
		return fmt.Errorf("load archived snapshot: %w", err)
	}
	entry := &Entry{Snapshot: snap, FetchedAt: fetchedAt, LastAttempt: fetchedAt}
	if m.current.CompareAndSwap(nil, entry) {
		m.log.Info("snapshot restored from archive", "snapshot_id", snap.ID, "fetched_at", fetchedAt)
	}
	return nil
}

// Close stops background refreshes and waits for running refreshes, including
// their archive and export sinks, to return.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) needsRefresh() bool {
	e := m.current.Load()
	if e == nil || e.Placeholder {
		return true
	}
	return m.clock.Now().Sub(e.FetchedAt) >= m.opts.TTL
}

func (m *Manager) refresh(force bool) (bool, error) {
	// a flight that finished just before this one may already have refreshed
	if !force && !m.needsRefresh() {
		m.observe(OutcomeSkipped, 0)
		return false, nil
	}
	m.refreshing.Store(true)
	defer m.refreshing.Store(false)

	start := m.clock.Now()
	m.log.Info("snapshot refresh started", "force", force)

	ctx, cancel := context.WithTimeout(m.baseCtx, m.opts.EngineTimeout)
	snap, err := m.engine.Assess(ctx, m.opts.EnvironmentFilter)
	deadline := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()
	switch {
	case err == nil && snap == nil:
		err = fmt.Errorf("%w: engine returned no snapshot", domain.ErrMalformedReport)
	case err != nil && deadline && !errors.Is(err, domain.ErrEngineTimeout):
		err = fmt.Errorf("%w: %v", domain.ErrEngineTimeout, err)
	}
	if err != nil {
		m.fail(err, start)
		return true, err
	}

	snap.Seal()
	if m.opts.Advisor != nil {
		actx, acancel := context.WithTimeout(m.baseCtx, adviceTimeout)
		advice, aerr := m.opts.Advisor.Advise(actx, snap)
		acancel()
		if aerr != nil {
			m.log.Warn("advisor failed", "error", aerr)
		} else {
			snap.Advice = advice
		}
	}

	now := m.clock.Now()
	m.current.Store(&Entry{Snapshot: snap, FetchedAt: now, LastAttempt: now})
	duration := now.Sub(start)
	m.log.Info("snapshot refreshed",
		"snapshot_id", snap.ID,
		"environments", snap.Summary.TotalEnvironments,
		"users", snap.Summary.TotalUsers,
		"connections", snap.Summary.TotalConnections,
		"flows", snap.Summary.TotalFlows,
		"findings", snap.Summary.Findings.Total(),
		"duration", duration,
	)
	m.observe(OutcomeSuccess, duration)
	m.publish(snap, now)
	return true, nil
}

func (m *Manager) fail(err error, start time.Time) {
	now := m.clock.Now()
	prev := m.current.Load()
	if prev == nil {
		m.current.Store(&Entry{
			Snapshot:    domain.EmptySnapshot(now),
			Placeholder: true,
			Stale:       true,
			LastError:   err.Error(),
			LastAttempt: now,
		})
		m.log.Error("snapshot refresh failed, serving empty snapshot", "error", err)
	} else {
		next := *prev
		next.Stale = true
		next.LastError = err.Error()
		next.LastAttempt = now
		m.current.Store(&next)
		m.log.Error("snapshot refresh failed, serving previous snapshot",
			"error", err, "snapshot_id", prev.Snapshot.ID, "fetched_at", prev.FetchedAt)
	}
	m.observe(OutcomeFailure, now.Sub(start))
}

// publish hands a fresh snapshot to the archive and export sinks. Failures are
// logged only; the snapshot is already being served.
func (m *Manager) publish(snap *domain.Snapshot, fetchedAt time.Time) {
	ctx, cancel := context.WithTimeout(m.baseCtx, publishTimeout)
	defer cancel()

	if m.opts.Archive != nil {
		if err := m.opts.Archive.Save(ctx, snap, fetchedAt); err != nil {
			m.log.Error("archive snapshot failed", "error", err, "snapshot_id", snap.ID)
		}
	}
	if m.opts.Store == nil {
		return
	}
	prefix := "snapshots/" + snap.Timestamp.UTC().Format("20060102T150405Z")
	for _, exp := range m.opts.Exporters {
		artifacts, err := exp.Export(snap)
		if err != nil {
			m.log.Error("export snapshot failed", "error", err, "snapshot_id", snap.ID)
			continue
		}
		for _, a := range artifacts {
			url, err := m.opts.Store.Put(ctx, prefix+"/"+a.Name, a.ContentType, a.Data)
			if err != nil {
				m.log.Error("upload export failed", "error", err, "artifact", a.Name)
				continue
			}
			m.log.Debug("export uploaded", "artifact", a.Name, "url", url)
		}
	}
}

func (m *Manager) observe(outcome string, d time.Duration) {
	if m.opts.Observer != nil {
		m.opts.Observer.RefreshObserved(outcome, d)
	}
}
