package fsm

import (
	"context"
	"fmt"
	"testing"
)

type counter struct {
	Applied int
	Label   string
}

func lightTable() []Transition[counter] {
	return []Transition[counter]{
		{From: "off", On: "TOGGLE", To: "on", Apply: func(c *counter, _ Event) { c.Applied++ }},
		{From: "on", On: "TOGGLE", To: "off", Apply: func(c *counter, _ Event) { c.Applied++ }},
	}
}

func TestNewRejectsInvalidTables(t *testing.T) {
	ctx := &counter{}

	if _, err := New("", ctx, lightTable()); err == nil {
		t.Fatalf("expected error for empty initial state")
	}
	if _, err := New[counter]("off", nil, lightTable()); err == nil {
		t.Fatalf("expected error for nil context")
	}
	if _, err := New("off", ctx, []Transition[counter]{
		{From: "off", On: "TOGGLE", To: "on"},
		{From: "off", On: "", To: "on"},
	}); err == nil {
		t.Fatalf("expected error for transition missing event name")
	}
	if _, err := New("off", ctx, []Transition[counter]{
		{From: "off", On: "TOGGLE", To: "on"},
		{From: "off", On: "TOGGLE", To: "broken"},
	}); err == nil {
		t.Fatalf("expected error for duplicate (from, event) pair")
	}
}

func TestSendAppliesListedTransition(t *testing.T) {
	c := &counter{}
	m, err := New("off", c, lightTable())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	state, applied, err := m.Send(context.Background(), Event{Name: "TOGGLE"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !applied {
		t.Fatalf("expected transition to apply")
	}
	if state != "on" || m.State() != "on" {
		t.Fatalf("expected state on, got %s", state)
	}
	m.Inspect(func(c *counter) {
		if c.Applied != 1 {
			t.Fatalf("expected apply action to run once, got %d", c.Applied)
		}
	})
}

func TestSendIgnoresUnlistedEvent(t *testing.T) {
	c := &counter{}
	m, err := New("off", c, lightTable())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	state, applied, err := m.Send(context.Background(), Event{Name: "UNKNOWN"})
	if err != nil {
		t.Fatalf("unlisted event must not error: %v", err)
	}
	if applied {
		t.Fatalf("unlisted event must not apply")
	}
	if state != "off" || m.State() != "off" {
		t.Fatalf("unlisted event must leave state unchanged, got %s", state)
	}
	m.Inspect(func(c *counter) {
		if c.Applied != 0 {
			t.Fatalf("unlisted event must not touch context")
		}
	})
}

func TestGuardRejectionKeepsState(t *testing.T) {
	c := &counter{}
	guarded := []Transition[counter]{
		{
			From: "off", On: "TOGGLE", To: "on",
			Guard: func(_ context.Context, _ *counter, _ Event) error {
				return fmt.Errorf("not allowed")
			},
			Apply: func(c *counter, _ Event) { c.Applied++ },
		},
	}
	m, err := New("off", c, guarded)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	state, applied, err := m.Send(context.Background(), Event{Name: "TOGGLE"})
	if err == nil {
		t.Fatalf("expected guard error")
	}
	if applied {
		t.Fatalf("guard rejection must not apply the transition")
	}
	if state != "off" || m.State() != "off" {
		t.Fatalf("guard rejection must leave state unchanged, got %s", state)
	}
	m.Inspect(func(c *counter) {
		if c.Applied != 0 {
			t.Fatalf("guard rejection must not run the apply action")
		}
	})
}

func TestApplyReceivesEventPayload(t *testing.T) {
	c := &counter{}
	table := []Transition[counter]{
		{
			From: "off", On: "LABEL", To: "on",
			Apply: func(c *counter, evt Event) {
				if label, ok := evt.Data.(string); ok {
					c.Label = label
				}
			},
		},
	}
	m, err := New("off", c, table)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	if _, _, err := m.Send(context.Background(), Event{Name: "LABEL", Data: "bright"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	m.Inspect(func(c *counter) {
		if c.Label != "bright" {
			t.Fatalf("expected payload to reach apply action, got %q", c.Label)
		}
	})
}

func TestObserversSeeCommittedTransitionsInOrder(t *testing.T) {
	c := &counter{}
	var changes []Change[counter]
	var second []Change[counter]
	m, err := New("off", c, lightTable(),
		WithObserver[counter](func(ch Change[counter]) { changes = append(changes, ch) }),
	)
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	m.Subscribe(func(ch Change[counter]) { second = append(second, ch) })

	m.Send(context.Background(), Event{Name: "TOGGLE"})
	m.Send(context.Background(), Event{Name: "UNKNOWN"})
	m.Send(context.Background(), Event{Name: "TOGGLE"})

	if len(changes) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 committed changes per observer, got %d and %d", len(changes), len(second))
	}
	if changes[0].Previous != "off" || changes[0].Current != "on" {
		t.Fatalf("unexpected first change: %+v", changes[0])
	}
	if changes[1].Previous != "on" || changes[1].Current != "off" {
		t.Fatalf("unexpected second change: %+v", changes[1])
	}
	if changes[0].Event.Name != "TOGGLE" {
		t.Fatalf("expected change to carry its event, got %s", changes[0].Event.Name)
	}
}
