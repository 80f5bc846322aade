package checkin

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// WalletState is a read-only snapshot of wallet connectivity, captured once
// per step invocation so executors never observe a half-updated wallet.
type WalletState struct {
	Connected bool
	Address   common.Address
	ChainID   int64
}

// TxSpec describes one contract call to submit on behalf of the user.
type TxSpec struct {
	ChainID int64
	From    common.Address
	To      common.Address
	Method  string
	Args    []any
	Value   *big.Int
}

// Receipt is the mined record of a submitted transaction.
type Receipt struct {
	TxHash    common.Hash
	Confirmed bool
	Logs      []types.Log
}

// Wallet is the transaction-signing collaborator. Submit and AwaitReceipt
// may block for as long as the underlying chain takes; both honor ctx.
type Wallet interface {
	State() WalletState
	Submit(ctx context.Context, spec TxSpec) (common.Hash, error)
	AwaitReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}

// DecodedEvent is one named event extracted from receipt logs.
type DecodedEvent struct {
	Name string
	Args map[string]any
}

// LogDecoder extracts named events from receipt logs.
type LogDecoder interface {
	Decode(logs []types.Log, eventName string) ([]DecodedEvent, error)
}

// CheckInRecord is the persistence payload for one confirmed check-in.
type CheckInRecord struct {
	UserID          string
	UserAddress     string
	LocationID      string
	CollectibleID   string
	TxHash          string
	TokenID         string
	ContractAddress string
	ChainID         int64
}

// CheckInStore persists confirmed check-ins and reward scores.
// CreateCheckIn must be idempotent keyed by transaction hash: a second
// write for the same hash returns the existing record id with no new row.
type CheckInStore interface {
	HasCheckedIn(ctx context.Context, userAddress, locationID string) (bool, error)
	CreateCheckIn(ctx context.Context, rec CheckInRecord) (string, error)
	IncrementScore(ctx context.Context, userID string, points int) error
}

// BookingRecord is the persistence payload for one settled tour purchase.
type BookingRecord struct {
	UserID       string
	UserAddress  string
	TourID       string
	RewardAmount *big.Int
	StableAmount *big.Int
	TxHash       string
	ChainID      int64
}

// BookingStore persists settled bookings.
type BookingStore interface {
	CreateBooking(ctx context.Context, rec BookingRecord) (string, error)
}

// Catalog resolves read-only places by id.
type Catalog interface {
	Place(ctx context.Context, id string) (*Place, error)
}
