package flow

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

// Step executors. Each one performs the external work for a single state
// and returns exactly one terminal event, success or failure, never both
// and never neither. Executors read only their wallet snapshot and the
// run-context copy captured at dispatch time.

// execValidate runs the precondition checks in fixed order; the first
// failing check wins.
func (o *Orchestrator) execValidate(ctx context.Context, snap checkin.WalletState, mctx Context) fsm.Event {
	if !snap.Connected {
		return failValidation(ReasonConnectWallet)
	}

	done, err := o.cfg.Store.HasCheckedIn(ctx, snap.Address.Hex(), mctx.LocationID)
	if err != nil {
		o.logger.Error("check-in lookup failed: %v", err)
		return failValidation(checkin.Reason(checkin.CloneError(checkin.ErrPersistenceFailed, err.Error(), err, nil)))
	}
	if done {
		return failValidation(ReasonAlreadyCheckedIn)
	}

	at, err := o.cfg.Position(ctx)
	if err != nil {
		return failValidation(err.Error())
	}
	if !o.cfg.Place.InRange(at) {
		return failValidation(ReasonTooFar)
	}

	return fsm.Event{Name: EventValidationSuccess}
}

// execPrepare binds the wallet identity into the run context.
func (o *Orchestrator) execPrepare(_ context.Context, snap checkin.WalletState, _ Context) fsm.Event {
	if !snap.Connected || snap.Address == (common.Address{}) {
		return failTransaction("wallet address required")
	}
	return fsm.Event{Name: EventTransactionPrepared, Data: Prepared{
		UserID:      o.cfg.UserID,
		UserAddress: snap.Address.Hex(),
	}}
}

// execSign submits the check-in transaction. Missing parameters fail the
// step before the wallet is ever contacted; wallet rejections surface
// verbatim.
func (o *Orchestrator) execSign(ctx context.Context, snap checkin.WalletState, mctx Context) fsm.Event {
	if mctx.UserAddress == "" || snap.ChainID == 0 || mctx.PlaceID == "" {
		return failTransaction(ReasonMissingParams)
	}

	hash, err := o.cfg.Wallet.Submit(ctx, checkin.TxSpec{
		ChainID: snap.ChainID,
		From:    snap.Address,
		To:      o.cfg.Contract,
		Method:  "checkIn",
		Args:    []any{mctx.LocationID},
	})
	if err != nil {
		o.logger.Warn("transaction submit rejected: %v", err)
		return failTransaction(err.Error())
	}

	return fsm.Event{Name: EventTransactionSigned, Data: Signed{TxHash: hash.Hex()}}
}

// execAwaitConfirmation blocks on the wallet adapter's own confirmation;
// there is no independent timeout here. A confirmed receipt without the
// expected mint event is a failure, not a success with unknown reward.
func (o *Orchestrator) execAwaitConfirmation(ctx context.Context, _ checkin.WalletState, mctx Context) fsm.Event {
	receipt, err := o.cfg.Wallet.AwaitReceipt(ctx, common.HexToHash(mctx.TransactionHash))
	if err != nil {
		o.logger.Warn("confirmation failed for %s: %v", mctx.TransactionHash, err)
		return failTransaction(err.Error())
	}
	if receipt == nil || !receipt.Confirmed {
		return failTransaction("transaction not confirmed")
	}

	events, err := o.cfg.Decoder.Decode(receipt.Logs, o.eventName)
	if err != nil || len(events) == 0 {
		o.flagForReconciliation(ctx, mctx, ReasonBadReceipt)
		return failTransaction(ReasonBadReceipt)
	}
	tokenID, ok := tokenIDArg(events[0].Args)
	if !ok {
		o.flagForReconciliation(ctx, mctx, ReasonBadReceipt)
		return failTransaction(ReasonBadReceipt)
	}

	return fsm.Event{Name: EventTransactionConfirmed, Data: Confirmed{TokenID: tokenID}}
}

// execPersist records the check-in and increments the reward score, and
// only reports success once both completed.
func (o *Orchestrator) execPersist(ctx context.Context, snap checkin.WalletState, mctx Context) fsm.Event {
	if snap.ChainID == 0 || mctx.LocationID == "" || mctx.TransactionHash == "" || mctx.NFTTokenID == "" {
		return fsm.Event{Name: EventDatabaseFailed, Data: ReasonMissingTxData}
	}

	rec := checkin.CheckInRecord{
		UserID:          mctx.UserID,
		UserAddress:     mctx.UserAddress,
		LocationID:      mctx.LocationID,
		CollectibleID:   mctx.CollectibleID,
		TxHash:          mctx.TransactionHash,
		TokenID:         mctx.NFTTokenID,
		ContractAddress: o.cfg.Contract.Hex(),
		ChainID:         snap.ChainID,
	}
	if _, err := o.cfg.Store.CreateCheckIn(ctx, rec); err != nil {
		o.logger.Error("create check-in failed: %v", err)
		return fsm.Event{Name: EventDatabaseFailed, Data: err.Error()}
	}
	if err := o.cfg.Store.IncrementScore(ctx, mctx.UserID, mctx.Points); err != nil {
		o.logger.Error("score increment failed: %v", err)
		return fsm.Event{Name: EventDatabaseFailed, Data: err.Error()}
	}

	return fsm.Event{Name: EventDatabaseUpdated}
}

func (o *Orchestrator) flagForReconciliation(ctx context.Context, mctx Context, reason string) {
	if o.cfg.Recon == nil {
		return
	}
	flag := ReconFlag{
		TxHash:      mctx.TransactionHash,
		LocationID:  mctx.LocationID,
		UserAddress: mctx.UserAddress,
		Reason:      reason,
	}
	if err := o.cfg.Recon.Flag(ctx, flag); err != nil {
		o.logger.Error("reconciliation flag failed for %s: %v", mctx.TransactionHash, err)
	}
}

func failValidation(reason string) fsm.Event {
	return fsm.Event{Name: EventValidationFailed, Data: reason}
}

func failTransaction(reason string) fsm.Event {
	return fsm.Event{Name: EventTransactionFailed, Data: reason}
}

// tokenIDArg reads the minted token id from a decoded event's arguments.
func tokenIDArg(args map[string]any) (string, bool) {
	raw, ok := args["tokenId"]
	if !ok {
		return "", false
	}
	switch v := raw.(type) {
	case *big.Int:
		if v == nil {
			return "", false
		}
		return v.String(), true
	case string:
		if v == "" {
			return "", false
		}
		return v, true
	case uint64:
		return fmt.Sprintf("%d", v), true
	default:
		return "", false
	}
}
