package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

// DefaultMintEventName is the contract event carrying the minted reward
// token id.
const DefaultMintEventName = "CheckInMinted"

// ReconFlag records a confirmed transaction whose receipt could not be
// parsed, for manual reconciliation. The run still fails; nothing retries
// automatically.
type ReconFlag struct {
	TxHash      string
	LocationID  string
	UserAddress string
	Reason      string
}

// ReconSink accepts reconciliation flags. Optional; a nil sink drops them.
type ReconSink interface {
	Flag(ctx context.Context, flag ReconFlag) error
}

// PositionFunc reports the user's live position.
type PositionFunc func(ctx context.Context) (checkin.Coordinate, error)

// Config wires one orchestrator to its collaborators. The orchestrator is
// scoped to one place/user pairing at a time.
type Config struct {
	Place     checkin.Place
	UserID    string
	Wallet    checkin.Wallet
	Decoder   checkin.LogDecoder
	Store     checkin.CheckInStore
	Contract  common.Address
	EventName string
	Position  PositionFunc
	Recon     ReconSink
	Logger    fsm.Logger
}

func (c Config) validate() error {
	if c.Wallet == nil {
		return fmt.Errorf("wallet adapter required")
	}
	if c.Decoder == nil {
		return fmt.Errorf("log decoder required")
	}
	if c.Store == nil {
		return fmt.Errorf("check-in store required")
	}
	if c.Position == nil {
		return fmt.Errorf("position probe required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user id required")
	}
	return nil
}

// signal is one external result translated into a machine event. It is
// pinned to the run it belongs to and the state that was waiting for it;
// anything stale is dropped.
type signal struct {
	run  uuid.UUID
	from fsm.State
	evt  fsm.Event
}

// Orchestrator drives the check-in machine: it dispatches one step
// executor per state entry and feeds each executor's single terminal
// result back as a machine event. It never mutates machine state directly.
type Orchestrator struct {
	cfg       Config
	machine   *fsm.Machine[Context]
	logger    fsm.Logger
	eventName string

	signals chan signal

	mu               sync.Mutex
	run              uuid.UUID
	dispatched       map[fsm.State]bool
	persistAttempted bool
	started          bool
}

// New builds an orchestrator and its machine for cfg.Place.
func New(cfg Config, opts ...fsm.Option[Context]) (*Orchestrator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	eventName := cfg.EventName
	if eventName == "" {
		eventName = DefaultMintEventName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = fsm.NewFmtLogger(nil)
	}
	logger = fsm.WithLoggerFields(logger, map[string]any{
		"place_id": cfg.Place.ID,
		"user_id":  cfg.UserID,
	})

	machine, err := NewMachine(cfg.Place, append([]fsm.Option[Context]{fsm.WithLogger[Context](logger)}, opts...)...)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:        cfg,
		machine:    machine,
		logger:     logger,
		eventName:  eventName,
		signals:    make(chan signal, 16),
		run:        uuid.New(),
		dispatched: make(map[fsm.State]bool),
	}, nil
}

// Start runs the signal loop until ctx is canceled. Events are processed
// one at a time; the machine's context is never mutated concurrently.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return
	}
	o.started = true
	o.mu.Unlock()

	go o.loop(ctx)
}

func (o *Orchestrator) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-o.signals:
			o.handle(ctx, sig)
		}
	}
}

// CheckIn starts a run. A no-op unless the machine sits in idle.
func (o *Orchestrator) CheckIn(ctx context.Context) {
	o.submit(ctx, o.currentRun(), StateIdle, fsm.Event{Name: EventCheckIn})
}

// Retry returns the machine from error to idle, discarding the failed run.
func (o *Orchestrator) Retry(ctx context.Context) {
	o.submit(ctx, o.currentRun(), StateError, fsm.Event{Name: EventRetry})
}

// Close dismisses a terminal state. A no-op in non-terminal states: there
// is no cancellation of in-flight wallet or chain work.
func (o *Orchestrator) Close(ctx context.Context) {
	o.submit(ctx, o.currentRun(), o.machine.State(), fsm.Event{Name: EventClose})
}

// Snapshot returns the current state and a copy of the run context.
func (o *Orchestrator) Snapshot() (fsm.State, Context) {
	var cp Context
	o.machine.Inspect(func(c *Context) { cp = *c })
	return o.machine.State(), cp
}

func (o *Orchestrator) currentRun() uuid.UUID {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.run
}

func (o *Orchestrator) submit(ctx context.Context, run uuid.UUID, from fsm.State, evt fsm.Event) {
	select {
	case o.signals <- signal{run: run, from: from, evt: evt}:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) handle(ctx context.Context, sig signal) {
	if sig.run != o.currentRun() {
		o.logger.Debug("dropping stale signal %s from run %s", sig.evt.Name, sig.run)
		return
	}
	// A signal is only honored while the machine still waits in the state
	// that produced it.
	if current := o.machine.State(); current != sig.from {
		o.logger.Debug("dropping signal %s for state %s, machine is in %s", sig.evt.Name, sig.from, current)
		return
	}

	state, applied, err := o.machine.Send(ctx, sig.evt)
	if err != nil {
		o.logger.Warn("event %s rejected: %v", sig.evt.Name, err)
		return
	}
	if !applied {
		return
	}

	if sig.evt.Name == EventCheckIn {
		o.beginRun()
	}
	o.dispatch(ctx, state)
}

// beginRun mints a fresh run token and resets the per-run markers.
func (o *Orchestrator) beginRun() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.run = uuid.New()
	o.dispatched = make(map[fsm.State]bool)
	o.persistAttempted = false
	o.logger.Info("check-in run %s started", o.run)
}

// dispatch invokes the executor matching a newly entered state, once per
// entry per run. The persistence step additionally keeps its own
// at-most-once marker, reset only when a new run begins.
func (o *Orchestrator) dispatch(ctx context.Context, state fsm.State) {
	exec := o.executorFor(state)
	if exec == nil {
		return
	}

	o.mu.Lock()
	if o.dispatched[state] {
		o.mu.Unlock()
		o.logger.Debug("executor for %s already dispatched this run", state)
		return
	}
	if state == StateUpdatingDatabase {
		if o.persistAttempted {
			o.mu.Unlock()
			o.logger.Debug("persistence already attempted this run")
			return
		}
		o.persistAttempted = true
	}
	o.dispatched[state] = true
	run := o.run
	o.mu.Unlock()

	// The wallet snapshot is taken once per invocation so every check in
	// the executor sees the same connectivity facts.
	snap := o.cfg.Wallet.State()
	var mctx Context
	o.machine.Inspect(func(c *Context) { mctx = *c })

	go func() {
		evt := exec(ctx, snap, mctx)
		o.submit(ctx, run, state, evt)
	}()
}

type executor func(ctx context.Context, snap checkin.WalletState, mctx Context) fsm.Event

func (o *Orchestrator) executorFor(state fsm.State) executor {
	switch state {
	case StateValidating:
		return o.execValidate
	case StatePreparingTransaction:
		return o.execPrepare
	case StateWaitingForSignature:
		return o.execSign
	case StateWaitingForConfirmation:
		return o.execAwaitConfirmation
	case StateUpdatingDatabase:
		return o.execPersist
	default:
		return nil
	}
}
