package fsm

import (
	"context"
	"fmt"
	"sync"
)

// State is a named machine state.
type State string

// EventName identifies a machine event.
type EventName string

// Event is a named signal with an optional payload.
type Event struct {
	Name EventName
	Data any
}

// Guard may reject a transition before it is taken. A rejection leaves the
// machine in its current state.
type Guard[C any] func(ctx context.Context, c *C, evt Event) error

// Action mutates the carried context while a transition commits. It runs
// under the machine lock and must not block.
type Action[C any] func(c *C, evt Event)

// Transition is one edge of the machine's table.
type Transition[C any] struct {
	From  State
	On    EventName
	To    State
	Guard Guard[C]
	Apply Action[C]
}

// Change describes one committed transition.
type Change[C any] struct {
	Previous State
	Current  State
	Event    Event
}

// Observer receives committed transitions, outside the machine lock, in
// registration order.
type Observer[C any] func(Change[C])

// Machine executes events against a fixed transition table over a carried
// context value. Events with no listed transition for the current state are
// no-ops: the machine stays put and reports the event as unapplied.
type Machine[C any] struct {
	mu        sync.Mutex
	state     State
	context   *C
	table     map[string]Transition[C]
	observers []Observer[C]
	logger    Logger
}

// Option customizes machine behavior.
type Option[C any] func(*Machine[C])

// WithLogger sets the machine logger.
func WithLogger[C any](logger Logger) Option[C] {
	return func(m *Machine[C]) {
		m.logger = normalizeLogger(logger)
	}
}

// WithObserver registers a committed-transition observer.
func WithObserver[C any](obs Observer[C]) Option[C] {
	return func(m *Machine[C]) {
		if obs != nil {
			m.observers = append(m.observers, obs)
		}
	}
}

// New builds a machine from a transition table. Duplicate (from, event)
// pairs are a construction error.
func New[C any](initial State, context *C, transitions []Transition[C], opts ...Option[C]) (*Machine[C], error) {
	if initial == "" {
		return nil, fmt.Errorf("initial state required")
	}
	if context == nil {
		return nil, fmt.Errorf("machine context required")
	}
	table := make(map[string]Transition[C], len(transitions))
	for _, tr := range transitions {
		if tr.From == "" || tr.On == "" || tr.To == "" {
			return nil, fmt.Errorf("transition requires from, event, and to: %+v", tr)
		}
		key := transitionKey(tr.From, tr.On)
		if _, exists := table[key]; exists {
			return nil, fmt.Errorf("duplicate transition %s", key)
		}
		table[key] = tr
	}

	m := &Machine[C]{
		state:   initial,
		context: context,
		table:   table,
		logger:  normalizeLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.logger = normalizeLogger(m.logger)
	return m, nil
}

// State returns the current state.
func (m *Machine[C]) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a committed-transition observer after construction.
func (m *Machine[C]) Subscribe(obs Observer[C]) {
	if obs == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, obs)
}

// Inspect runs fn against the carried context under the machine lock.
// fn must not call back into the machine.
func (m *Machine[C]) Inspect(fn func(c *C)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.context)
}

// Send applies evt against the current state. It returns the resulting
// state and whether a transition was taken. Unlisted events are no-ops;
// a guard rejection returns the guard's error with the state unchanged.
func (m *Machine[C]) Send(ctx context.Context, evt Event) (State, bool, error) {
	m.mu.Lock()
	from := m.state
	tr, ok := m.table[transitionKey(from, evt.Name)]
	if !ok {
		m.mu.Unlock()
		m.logger.Trace("event %s ignored in state %s", evt.Name, from)
		return from, false, nil
	}

	if tr.Guard != nil {
		if err := tr.Guard(ctx, m.context, evt); err != nil {
			m.mu.Unlock()
			m.logger.Debug("guard rejected %s in state %s: %v", evt.Name, from, err)
			return from, false, err
		}
	}
	if tr.Apply != nil {
		tr.Apply(m.context, evt)
	}
	m.state = tr.To
	observers := m.observers
	m.mu.Unlock()

	m.logger.Debug("transition %s --%s--> %s", from, evt.Name, tr.To)
	change := Change[C]{Previous: from, Current: tr.To, Event: evt}
	for _, obs := range observers {
		obs(change)
	}
	return tr.To, true, nil
}

func transitionKey(from State, event EventName) string {
	return string(from) + "|" + string(event)
}
