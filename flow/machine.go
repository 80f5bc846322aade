package flow

import (
	"context"
	"fmt"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

// Check-in machine states. The table below is closed: no other states
// exist, and events without a listed transition are no-ops.
const (
	StateIdle                   fsm.State = "idle"
	StateValidating             fsm.State = "validating"
	StatePreparingTransaction   fsm.State = "preparingTransaction"
	StateWaitingForSignature    fsm.State = "waitingForSignature"
	StateWaitingForConfirmation fsm.State = "waitingForConfirmation"
	StateUpdatingDatabase       fsm.State = "updatingDatabase"
	StateSuccess                fsm.State = "success"
	StateError                  fsm.State = "error"
)

// Check-in machine events.
const (
	EventCheckIn              fsm.EventName = "CHECK_IN"
	EventValidationSuccess    fsm.EventName = "VALIDATION_SUCCESS"
	EventValidationFailed     fsm.EventName = "VALIDATION_FAILED"
	EventTransactionPrepared  fsm.EventName = "TRANSACTION_PREPARED"
	EventTransactionSigned    fsm.EventName = "TRANSACTION_SIGNED"
	EventTransactionConfirmed fsm.EventName = "TRANSACTION_CONFIRMED"
	EventTransactionFailed    fsm.EventName = "TRANSACTION_FAILED"
	EventDatabaseUpdated      fsm.EventName = "DATABASE_UPDATED"
	EventDatabaseFailed       fsm.EventName = "DATABASE_FAILED"
	EventRetry                fsm.EventName = "RETRY"
	EventClose                fsm.EventName = "CLOSE"
)

// Failure reasons surfaced on the run context. Adapter errors are kept
// verbatim instead of these.
const (
	ReasonConnectWallet    = "connect wallet"
	ReasonAlreadyCheckedIn = "already checked in"
	ReasonTooFar           = "too far"
	ReasonMissingParams    = "missing transaction parameters"
	ReasonMissingTxData    = "missing required transaction data"
	ReasonBadReceipt       = "could not parse receipt"
)

// NewMachine builds the check-in machine for one place, seeded with the
// place's identity and reward value.
func NewMachine(place checkin.Place, opts ...fsm.Option[Context]) (*fsm.Machine[Context], error) {
	if place.ID == "" || place.LocationID == "" {
		return nil, fmt.Errorf("place id and location id required")
	}
	mctx := &Context{
		PlaceID:       place.ID,
		LocationID:    place.LocationID,
		CollectibleID: place.CollectibleID,
		Points:        place.Points,
	}
	return fsm.New(StateIdle, mctx, transitions(), opts...)
}

func transitions() []fsm.Transition[Context] {
	return []fsm.Transition[Context]{
		{From: StateIdle, On: EventCheckIn, To: StateValidating, Apply: applyReset},

		{From: StateValidating, On: EventValidationSuccess, To: StatePreparingTransaction},
		{From: StateValidating, On: EventValidationFailed, To: StateError, Apply: applyFailure},

		{From: StatePreparingTransaction, On: EventTransactionPrepared, To: StateWaitingForSignature, Apply: applyPrepared},
		{From: StatePreparingTransaction, On: EventTransactionFailed, To: StateError, Apply: applyFailure},

		{From: StateWaitingForSignature, On: EventTransactionSigned, To: StateWaitingForConfirmation, Guard: guardHashUnset, Apply: applySigned},
		{From: StateWaitingForSignature, On: EventTransactionFailed, To: StateError, Apply: applyFailure},

		{From: StateWaitingForConfirmation, On: EventTransactionConfirmed, To: StateUpdatingDatabase, Guard: guardHashSet, Apply: applyConfirmed},
		{From: StateWaitingForConfirmation, On: EventTransactionFailed, To: StateError, Apply: applyFailure},

		{From: StateUpdatingDatabase, On: EventDatabaseUpdated, To: StateSuccess},
		{From: StateUpdatingDatabase, On: EventDatabaseFailed, To: StateError, Apply: applyFailure},

		{From: StateSuccess, On: EventClose, To: StateIdle, Apply: applyReset},

		{From: StateError, On: EventRetry, To: StateIdle, Apply: applyReset},
		{From: StateError, On: EventClose, To: StateIdle, Apply: applyReset},
	}
}

func applyReset(c *Context, _ fsm.Event) {
	c.reset()
}

func applyFailure(c *Context, evt fsm.Event) {
	if reason, ok := evt.Data.(string); ok && reason != "" {
		c.Err = reason
		return
	}
	c.Err = "check-in failed"
}

func applyPrepared(c *Context, evt fsm.Event) {
	if p, ok := evt.Data.(Prepared); ok {
		c.UserID = p.UserID
		c.UserAddress = p.UserAddress
	}
}

func applySigned(c *Context, evt fsm.Event) {
	if s, ok := evt.Data.(Signed); ok {
		c.TransactionHash = s.TxHash
	}
}

func applyConfirmed(c *Context, evt fsm.Event) {
	if cf, ok := evt.Data.(Confirmed); ok {
		c.NFTTokenID = cf.TokenID
	}
}

// transactionHash is write-once per run.
func guardHashUnset(_ context.Context, c *Context, _ fsm.Event) error {
	if c.TransactionHash != "" {
		return fmt.Errorf("transaction hash already recorded for this run")
	}
	return nil
}

// a token id can only follow a recorded transaction hash.
func guardHashSet(_ context.Context, c *Context, _ fsm.Event) error {
	if c.TransactionHash == "" {
		return fmt.Errorf("confirmation received before transaction hash")
	}
	return nil
}
