package flow

import (
	"context"
	"testing"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

func testPlace() checkin.Place {
	return checkin.Place{
		ID:            "plaza-mayor",
		LocationID:    "loc-madrid-001",
		Name:          "Plaza Mayor",
		Coordinate:    checkin.Coordinate{Lat: 40.4155, Lng: -3.7074},
		RadiusMeters:  100,
		Points:        25,
		CollectibleID: "col-plaza",
	}
}

func send(t *testing.T, m *fsm.Machine[Context], name fsm.EventName, data any) {
	t.Helper()
	if _, applied, err := m.Send(context.Background(), fsm.Event{Name: name, Data: data}); err != nil {
		t.Fatalf("send %s: %v", name, err)
	} else if !applied {
		t.Fatalf("expected %s to apply in state %s", name, m.State())
	}
}

func snapshot(m *fsm.Machine[Context]) Context {
	var cp Context
	m.Inspect(func(c *Context) { cp = *c })
	return cp
}

func TestNewMachineRequiresPlaceIdentity(t *testing.T) {
	if _, err := NewMachine(checkin.Place{LocationID: "loc"}); err == nil {
		t.Fatalf("expected error for place without id")
	}
	if _, err := NewMachine(checkin.Place{ID: "p"}); err == nil {
		t.Fatalf("expected error for place without location id")
	}
}

func TestMachineSeedsPlaceFields(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}
	if m.State() != StateIdle {
		t.Fatalf("expected machine to start idle, got %s", m.State())
	}
	mctx := snapshot(m)
	if mctx.PlaceID != "plaza-mayor" || mctx.LocationID != "loc-madrid-001" {
		t.Fatalf("place identity not seeded: %+v", mctx)
	}
	if mctx.Points != 25 || mctx.CollectibleID != "col-plaza" {
		t.Fatalf("reward fields not seeded: %+v", mctx)
	}
}

func TestUnhandledEventsAreNoOps(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	for _, name := range []fsm.EventName{
		EventTransactionSigned,
		EventTransactionConfirmed,
		EventDatabaseUpdated,
		EventRetry,
		EventClose,
	} {
		state, applied, err := m.Send(context.Background(), fsm.Event{Name: name})
		if err != nil {
			t.Fatalf("unhandled %s must not error: %v", name, err)
		}
		if applied || state != StateIdle {
			t.Fatalf("unhandled %s must leave machine idle, got %s", name, state)
		}
	}

	send(t, m, EventCheckIn, nil)
	state, applied, err := m.Send(context.Background(), fsm.Event{Name: EventCheckIn})
	if err != nil || applied || state != StateValidating {
		t.Fatalf("CHECK_IN while validating must be a no-op, got %s applied=%v err=%v", state, applied, err)
	}
}

func TestValidationFailureCarriesReasonAndRetryClearsIt(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationFailed, ReasonTooFar)

	if m.State() != StateError {
		t.Fatalf("expected error state, got %s", m.State())
	}
	if mctx := snapshot(m); mctx.Err != ReasonTooFar {
		t.Fatalf("expected failure reason %q, got %q", ReasonTooFar, mctx.Err)
	}

	send(t, m, EventRetry, nil)
	if m.State() != StateIdle {
		t.Fatalf("expected retry to return to idle, got %s", m.State())
	}
	if mctx := snapshot(m); mctx.Err != "" {
		t.Fatalf("expected retry to clear the failure reason, got %q", mctx.Err)
	}
}

func TestHappyPathPopulatesRunContext(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationSuccess, nil)
	send(t, m, EventTransactionPrepared, Prepared{UserID: "u-1", UserAddress: "0xabc"})
	send(t, m, EventTransactionSigned, Signed{TxHash: "0xhash"})
	send(t, m, EventTransactionConfirmed, Confirmed{TokenID: "42"})
	send(t, m, EventDatabaseUpdated, nil)

	if m.State() != StateSuccess {
		t.Fatalf("expected success, got %s", m.State())
	}
	mctx := snapshot(m)
	if mctx.UserID != "u-1" || mctx.UserAddress != "0xabc" {
		t.Fatalf("prepared payload not applied: %+v", mctx)
	}
	if mctx.TransactionHash != "0xhash" || mctx.NFTTokenID != "42" {
		t.Fatalf("transaction fields not applied: %+v", mctx)
	}
	if mctx.Err != "" {
		t.Fatalf("successful run must not carry an error, got %q", mctx.Err)
	}
}

func TestTransactionHashIsWriteOncePerRun(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationSuccess, nil)
	send(t, m, EventTransactionPrepared, Prepared{UserID: "u-1", UserAddress: "0xabc"})
	send(t, m, EventTransactionSigned, Signed{TxHash: "0xfirst"})

	// A second signature for the same run never overwrites the hash: the
	// transition out of waitingForSignature was already taken, so the event
	// is simply unhandled in waitingForConfirmation.
	state, applied, err := m.Send(context.Background(), fsm.Event{Name: EventTransactionSigned, Data: Signed{TxHash: "0xsecond"}})
	if err != nil || applied {
		t.Fatalf("duplicate signature must be a no-op, got applied=%v err=%v", applied, err)
	}
	if state != StateWaitingForConfirmation {
		t.Fatalf("expected waitingForConfirmation, got %s", state)
	}
	if mctx := snapshot(m); mctx.TransactionHash != "0xfirst" {
		t.Fatalf("transaction hash overwritten: %q", mctx.TransactionHash)
	}
}

func TestConfirmationRequiresRecordedHash(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationSuccess, nil)
	send(t, m, EventTransactionPrepared, Prepared{UserID: "u-1", UserAddress: "0xabc"})
	send(t, m, EventTransactionSigned, Signed{})

	_, applied, err := m.Send(context.Background(), fsm.Event{Name: EventTransactionConfirmed, Data: Confirmed{TokenID: "42"}})
	if err == nil || applied {
		t.Fatalf("confirmation without a hash must be rejected, got applied=%v err=%v", applied, err)
	}
	if m.State() != StateWaitingForConfirmation {
		t.Fatalf("guard rejection must not move the machine, got %s", m.State())
	}
}

func TestCloseResetsRunScopedContext(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationSuccess, nil)
	send(t, m, EventTransactionPrepared, Prepared{UserID: "u-1", UserAddress: "0xabc"})
	send(t, m, EventTransactionSigned, Signed{TxHash: "0xhash"})
	send(t, m, EventTransactionConfirmed, Confirmed{TokenID: "42"})
	send(t, m, EventDatabaseUpdated, nil)
	send(t, m, EventClose, nil)

	if m.State() != StateIdle {
		t.Fatalf("expected close to return to idle, got %s", m.State())
	}
	mctx := snapshot(m)
	if mctx.UserID != "" || mctx.UserAddress != "" || mctx.TransactionHash != "" || mctx.NFTTokenID != "" || mctx.Err != "" {
		t.Fatalf("run-scoped fields must be cleared on close: %+v", mctx)
	}
	if mctx.PlaceID != "plaza-mayor" || mctx.Points != 25 {
		t.Fatalf("place fields must survive close: %+v", mctx)
	}
}

func TestErrorStateAcceptsClose(t *testing.T) {
	m, err := NewMachine(testPlace())
	if err != nil {
		t.Fatalf("new machine: %v", err)
	}

	send(t, m, EventCheckIn, nil)
	send(t, m, EventValidationFailed, ReasonConnectWallet)
	send(t, m, EventClose, nil)

	if m.State() != StateIdle {
		t.Fatalf("expected close from error to return to idle, got %s", m.State())
	}
	if mctx := snapshot(m); mctx.Err != "" {
		t.Fatalf("close must clear the failure reason, got %q", mctx.Err)
	}
}
