package recon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/goliatone/go-checkin/fsm"
)

// Entry is one confirmed transaction flagged for manual reconciliation:
// the chain accepted it, but the receipt could not be parsed, so the run
// failed without a reward being recorded.
type Entry struct {
	ID          string
	TxHash      string
	LocationID  string
	UserAddress string
	Reason      string
	FlaggedAt   time.Time
}

// Store lists flagged transactions awaiting review.
type Store interface {
	PendingReconciliations(ctx context.Context, limit int) ([]Entry, error)
}

// Handler receives each pending entry on every sweep.
type Handler func(ctx context.Context, entry Entry)

// Sweeper periodically surfaces the reconciliation queue. It never
// retries or replays flagged transactions; it only reports them.
type Sweeper struct {
	store    Store
	handler  Handler
	logger   fsm.Logger
	schedule string
	limit    int

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

// SweeperOption customizes the sweeper.
type SweeperOption func(*Sweeper)

// WithSchedule overrides the cron schedule, default "@every 10m".
func WithSchedule(spec string) SweeperOption {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithLimit caps entries reported per sweep.
func WithLimit(limit int) SweeperOption {
	return func(s *Sweeper) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

// WithHandler sets the per-entry callback. Without one, entries are only
// logged.
func WithHandler(h Handler) SweeperOption {
	return func(s *Sweeper) {
		s.handler = h
	}
}

// WithLogger sets the sweeper logger.
func WithLogger(logger fsm.Logger) SweeperOption {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSweeper builds a sweeper over the reconciliation store.
func NewSweeper(store Store, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("reconciliation store required")
	}
	s := &Sweeper{
		store:    store,
		logger:   fsm.NewFmtLogger(nil),
		schedule: "@every 10m",
		limit:    50,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Start schedules the sweep until Stop is called.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New()
	id, err := c.AddFunc(s.schedule, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron = c
	s.entryID = id
	c.Start()
	s.logger.Info("reconciliation sweeper started, schedule %q", s.schedule)
	return nil
}

// Stop halts the schedule; a sweep already running completes.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return
	}
	s.cron.Remove(s.entryID)
	s.cron.Stop()
	s.cron = nil
}

// Sweep reports every pending entry once.
func (s *Sweeper) Sweep(ctx context.Context) {
	entries, err := s.store.PendingReconciliations(ctx, s.limit)
	if err != nil {
		s.logger.Error("reconciliation sweep failed: %v", err)
		return
	}
	for _, entry := range entries {
		s.logger.Warn("transaction %s awaiting manual reconciliation: %s (location %s, user %s)",
			entry.TxHash, entry.Reason, entry.LocationID, entry.UserAddress)
		if s.handler != nil {
			s.handler(ctx, entry)
		}
	}
	if len(entries) > 0 {
		s.logger.Info("reconciliation sweep reported %d pending entries", len(entries))
	}
}
