// Package refresh keeps the catalog in step with the backend.
//
// Two independent timers drive it. The poll timer re-fetches persistent tables every
// poll interval while any of them is still being analyzed and disarms itself once none
// is. The ephemeral timer re-fetches uploaded tables on a fixed interval for as long as
// the scheduler runs. Overlapping fetches of the same kind are coalesced.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"TableChat/internal/catalog"
)

// FetchFunc returns a full snapshot of one kind of resource.
type FetchFunc func(ctx context.Context) ([]catalog.Resource, error)

// Options configures a Scheduler
type Options struct {
	Persistent        FetchFunc
	Ephemeral         FetchFunc
	PollInterval      time.Duration
	EphemeralInterval time.Duration
	Logger            *slog.Logger
	Meter             metric.Meter
}

// Scheduler runs the catalog refresh cycles
type Scheduler struct {
	cat               *catalog.Catalog
	fetch             map[catalog.Kind]FetchFunc
	pollInterval      time.Duration
	ephemeralInterval time.Duration
	logger            *slog.Logger
	group             singleflight.Group

	refreshes     metric.Int64Counter
	refreshErrors metric.Int64Counter

	mu             sync.Mutex
	ctx            context.Context
	cancel         context.CancelFunc
	started        bool
	stopped        bool
	pollTimer      *time.Timer
	ephemeralTimer *time.Timer
}

// New creates a scheduler for cat. It does nothing until Start is called, except for
// explicit Refresh calls.
func New(cat *catalog.Catalog, opts Options) (*Scheduler, error) {
	if opts.Persistent == nil || opts.Ephemeral == nil {
		return nil, fmt.Errorf("both fetchers are required")
	}
	if opts.PollInterval <= 0 || opts.EphemeralInterval <= 0 {
		return nil, fmt.Errorf("refresh intervals must be positive")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	refreshes, err := opts.Meter.Int64Counter("tablechat.catalog.refreshes",
		metric.WithDescription("Catalog fetches applied"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}
	refreshErrors, err := opts.Meter.Int64Counter("tablechat.catalog.refresh_errors",
		metric.WithDescription("Catalog fetches that failed"))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh error counter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cat: cat,
		fetch: map[catalog.Kind]FetchFunc{
			catalog.KindPersistent: opts.Persistent,
			catalog.KindEphemeral:  opts.Ephemeral,
		},
		pollInterval:      opts.PollInterval,
		ephemeralInterval: opts.EphemeralInterval,
		logger:            opts.Logger,
		refreshes:         refreshes,
		refreshErrors:     refreshErrors,
		ctx:               ctx,
		cancel:            cancel,
	}, nil
}

// Start arms the ephemeral timer and, if anything is pending, the poll timer. The
// scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ephemeralTimer = time.AfterFunc(s.ephemeralInterval, s.ephemeralTick)
	s.mu.Unlock()

	context.AfterFunc(ctx, s.Stop)
	s.EnsurePolling()
}

// Stop cancels both timers and any fetch the scheduler started itself. It is safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()
	if s.pollTimer != nil {
		s.pollTimer.Stop()
		s.pollTimer = nil
	}
	if s.ephemeralTimer != nil {
		s.ephemeralTimer.Stop()
		s.ephemeralTimer = nil
	}
	s.logger.Debug("refresh scheduler stopped")
}

// EnsurePolling arms the poll timer if a persistent resource is pending and the timer is
// not already armed.
func (s *Scheduler) EnsurePolling() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.stopped || s.pollTimer != nil {
		return
	}
	if !s.cat.HasPending() {
		return
	}
	s.pollTimer = time.AfterFunc(s.pollInterval, s.pollTick)
	s.logger.Debug("polling for table analysis", "interval", s.pollInterval)
}

// Polling reports whether the poll timer is armed
func (s *Scheduler) Polling() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pollTimer != nil
}

func (s *Scheduler) pollTick() {
	s.mu.Lock()
	s.pollTimer = nil
	ctx, stopped := s.ctx, s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	_, _ = s.Refresh(ctx, catalog.KindPersistent)
	s.EnsurePolling()
}

func (s *Scheduler) ephemeralTick() {
	s.mu.Lock()
	ctx, stopped := s.ctx, s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}

	_, _ = s.Refresh(ctx, catalog.KindEphemeral)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.ephemeralTimer = time.AfterFunc(s.ephemeralInterval, s.ephemeralTick)
	}
}

// Refresh fetches and applies one kind. Calls that overlap an in-flight fetch of the
// same kind share its result. It reports whether the catalog changed.
func (s *Scheduler) Refresh(ctx context.Context, kind catalog.Kind) (bool, error) {
	v, err, _ := s.group.Do(string(kind), func() (any, error) {
		return s.fetchAndApply(ctx, kind)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// RefreshFresh is Refresh for callers that must observe a mutation they just made: it
// never joins a fetch that started earlier.
func (s *Scheduler) RefreshFresh(ctx context.Context, kind catalog.Kind) (bool, error) {
	s.group.Forget(string(kind))
	return s.Refresh(ctx, kind)
}

// RefreshAll fetches both kinds in parallel. Each kind is applied on its own, so a
// failure of one never holds back the other; the errors of both are joined.
func (s *Scheduler) RefreshAll(ctx context.Context) error {
	kinds := []catalog.Kind{catalog.KindPersistent, catalog.KindEphemeral}
	errs := make([]error, len(kinds))

	var g errgroup.Group
	for i, kind := range kinds {
		g.Go(func() error {
			_, errs[i] = s.Refresh(ctx, kind)
			return nil
		})
	}
	_ = g.Wait()
	s.EnsurePolling()
	return errors.Join(errs...)
}

func (s *Scheduler) fetchAndApply(ctx context.Context, kind catalog.Kind) (bool, error) {
	attrs := metric.WithAttributes(attribute.String("kind", string(kind)))

	snapshot, err := s.fetch[kind](ctx)
	if err != nil {
		s.refreshErrors.Add(context.Background(), 1, attrs)
		s.logger.Warn("catalog refresh failed", "kind", kind, "error", err)
		return false, fmt.Errorf("failed to refresh %s tables: %w", kind, err)
	}

	s.refreshes.Add(context.Background(), 1, attrs)
	return s.cat.Apply(kind, snapshot), nil
}
