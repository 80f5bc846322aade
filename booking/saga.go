package booking

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	apperrors "github.com/goliatone/go-errors"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

const (
	ErrCodeStepFailed = "BOOKING_STEP_FAILED"
	ErrCodeInProgress = "BOOKING_IN_PROGRESS"
)

// ErrInProgress is returned by Close while a non-terminal step runs.
// Aborting mid-flight would leave on-chain approvals granted but
// unconsumed, so the enclosing surface must refuse to close instead.
var ErrInProgress = apperrors.New("booking in progress", apperrors.CategoryConflict).
	WithTextCode(ErrCodeInProgress)

// Step is one named unit of the purchase saga.
type Step struct {
	Name    string
	Execute func(ctx context.Context) error
}

// Saga runs purchase steps serially. There is no compensation: partial
// completion is surfaced, never rolled back.
type Saga struct {
	steps  []Step
	logger fsm.Logger

	mu      sync.Mutex
	running bool
	current string
	done    bool
	err     error
}

// Option customizes the saga.
type Option func(*Saga)

// WithLogger sets the saga logger.
func WithLogger(logger fsm.Logger) Option {
	return func(s *Saga) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSaga builds a saga over the given steps.
func NewSaga(steps []Step, opts ...Option) (*Saga, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("saga requires at least one step")
	}
	for i, step := range steps {
		if step.Name == "" || step.Execute == nil {
			return nil, fmt.Errorf("step %d requires a name and an execute func", i)
		}
	}
	s := &Saga{steps: steps, logger: fsm.NewFmtLogger(nil)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Execute runs every step in order and stops at the first failure. A saga
// executes at most once; re-entry while running or after completion is
// rejected.
func (s *Saga) Execute(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrInProgress.Clone()
	}
	if s.done || s.err != nil {
		s.mu.Unlock()
		return apperrors.New("booking already settled", apperrors.CategoryConflict).
			WithTextCode(ErrCodeInProgress)
	}
	s.running = true
	s.mu.Unlock()

	for i, step := range s.steps {
		s.setCurrent(step.Name)
		s.logger.Info("booking step %d/%d: %s", i+1, len(s.steps), step.Name)

		if err := step.Execute(ctx); err != nil {
			wrapped := apperrors.Wrap(err, apperrors.CategoryHandler,
				fmt.Sprintf("booking failed at step %d (%s)", i, step.Name)).
				WithTextCode(ErrCodeStepFailed).
				WithMetadata(map[string]any{
					"step_index": i,
					"step_name":  step.Name,
				})
			s.finish(wrapped)
			return wrapped
		}
	}

	s.finish(nil)
	return nil
}

// InProgress reports whether a non-terminal step is running.
func (s *Saga) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// CurrentStep names the step being executed, empty when idle.
func (s *Saga) CurrentStep() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Err returns the terminal failure, if any.
func (s *Saga) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done reports whether every step completed.
func (s *Saga) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Close refuses while any step is in progress.
func (s *Saga) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrInProgress.Clone()
	}
	return nil
}

func (s *Saga) setCurrent(name string) {
	s.mu.Lock()
	s.current = name
	s.mu.Unlock()
}

func (s *Saga) finish(err error) {
	s.mu.Lock()
	s.running = false
	s.current = ""
	s.err = err
	s.done = err == nil
	s.mu.Unlock()
}

// Order describes one mixed-payment tour purchase: part settled in the
// reward token, part in a stablecoin, both approved before the purchase
// call consumes them.
type Order struct {
	TourID       string
	UserID       string
	RewardToken  common.Address
	StableToken  common.Address
	Vendor       common.Address
	RewardAmount *big.Int
	StableAmount *big.Int
}

func (o Order) validate() error {
	if o.TourID == "" {
		return fmt.Errorf("tour id required")
	}
	if o.UserID == "" {
		return fmt.Errorf("user id required")
	}
	if o.RewardAmount == nil || o.StableAmount == nil {
		return fmt.Errorf("reward and stable amounts required")
	}
	return nil
}

// NewPurchase assembles the purchase saga for one order: approve the
// reward token spend, approve the stablecoin spend, call purchase, then
// persist the booking. Each on-chain step waits for its own receipt
// before the next one starts.
func NewPurchase(wallet checkin.Wallet, store checkin.BookingStore, order Order, opts ...Option) (*Saga, error) {
	if wallet == nil {
		return nil, fmt.Errorf("wallet adapter required")
	}
	if store == nil {
		return nil, fmt.Errorf("booking store required")
	}
	if err := order.validate(); err != nil {
		return nil, err
	}

	var purchaseHash common.Hash

	submitAndWait := func(ctx context.Context, spec checkin.TxSpec) (common.Hash, error) {
		hash, err := wallet.Submit(ctx, spec)
		if err != nil {
			return common.Hash{}, err
		}
		if _, err := wallet.AwaitReceipt(ctx, hash); err != nil {
			return common.Hash{}, err
		}
		return hash, nil
	}

	steps := []Step{
		{
			Name: "approve reward token",
			Execute: func(ctx context.Context) error {
				snap := wallet.State()
				_, err := submitAndWait(ctx, checkin.TxSpec{
					ChainID: snap.ChainID,
					From:    snap.Address,
					To:      order.RewardToken,
					Method:  "approve",
					Args:    []any{order.Vendor, order.RewardAmount},
				})
				return err
			},
		},
		{
			Name: "approve stablecoin",
			Execute: func(ctx context.Context) error {
				snap := wallet.State()
				_, err := submitAndWait(ctx, checkin.TxSpec{
					ChainID: snap.ChainID,
					From:    snap.Address,
					To:      order.StableToken,
					Method:  "approve",
					Args:    []any{order.Vendor, order.StableAmount},
				})
				return err
			},
		},
		{
			Name: "purchase",
			Execute: func(ctx context.Context) error {
				snap := wallet.State()
				hash, err := submitAndWait(ctx, checkin.TxSpec{
					ChainID: snap.ChainID,
					From:    snap.Address,
					To:      order.Vendor,
					Method:  "purchase",
					Args:    []any{order.TourID, order.RewardAmount, order.StableAmount},
				})
				if err != nil {
					return err
				}
				purchaseHash = hash
				return nil
			},
		},
		{
			Name: "persist booking",
			Execute: func(ctx context.Context) error {
				snap := wallet.State()
				_, err := store.CreateBooking(ctx, checkin.BookingRecord{
					UserID:       order.UserID,
					UserAddress:  snap.Address.Hex(),
					TourID:       order.TourID,
					RewardAmount: order.RewardAmount,
					StableAmount: order.StableAmount,
					TxHash:       purchaseHash.Hex(),
					ChainID:      snap.ChainID,
				})
				return err
			},
		},
	}

	return NewSaga(steps, opts...)
}
