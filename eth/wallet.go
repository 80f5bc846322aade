package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	checkin "github.com/goliatone/go-checkin"
	"github.com/goliatone/go-checkin/fsm"
)

// Signer is the go-ethereum backed wallet adapter: it packs, signs, and
// submits contract calls with a server-held key, and resolves receipts by
// polling the chain until the transaction is mined.
type Signer struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
	abi     abi.ABI
	backoff RetryStrategy
	logger  fsm.Logger
}

// SignerOption customizes the wallet adapter.
type SignerOption func(*Signer)

// WithReceiptBackoff sets the polling strategy used by AwaitReceipt.
func WithReceiptBackoff(s RetryStrategy) SignerOption {
	return func(w *Signer) {
		if s != nil {
			w.backoff = s
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger fsm.Logger) SignerOption {
	return func(w *Signer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// NewSigner builds a wallet adapter from a dialed client, a hex private
// key, and the chain id the key signs for.
func NewSigner(client *ethclient.Client, hexKey string, chainID int64, abiJSON string, opts ...SignerOption) (*Signer, error) {
	if client == nil {
		return nil, fmt.Errorf("eth client required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	if abiJSON == "" {
		abiJSON = WalletABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse wallet ABI: %w", err)
	}

	w := &Signer{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(chainID),
		abi:     parsed,
		backoff: defaultReceiptBackoff(),
		logger:  fsm.NewFmtLogger(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// State reports the wallet snapshot consumed by step executors.
func (w *Signer) State() checkin.WalletState {
	return checkin.WalletState{
		Connected: w.client != nil && w.key != nil,
		Address:   w.address,
		ChainID:   w.chainID.Int64(),
	}
}

// Submit packs the call data, signs a transaction, and broadcasts it.
func (w *Signer) Submit(ctx context.Context, spec checkin.TxSpec) (common.Hash, error) {
	data, err := w.abi.Pack(spec.Method, spec.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s call: %w", spec.Method, err)
	}

	nonce, err := w.client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := w.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
	}
	value := spec.Value
	if value == nil {
		value = big.NewInt(0)
	}
	to := spec.To
	gasLimit, err := w.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
	}
	if err := w.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("broadcast transaction: %w", err)
	}

	w.logger.Info("submitted %s call as %s", spec.Method, signed.Hash().Hex())
	return signed.Hash(), nil
}

// AwaitReceipt polls until the transaction is mined. It has no timeout of
// its own; cancellation comes from ctx. An on-chain revert is an error.
func (w *Signer) AwaitReceipt(ctx context.Context, hash common.Hash) (*checkin.Receipt, error) {
	for attempt := 0; ; attempt++ {
		receipt, err := w.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return nil, fmt.Errorf("transaction %s reverted", hash.Hex())
			}
			logs := make([]types.Log, 0, len(receipt.Logs))
			for _, l := range receipt.Logs {
				logs = append(logs, *l)
			}
			return &checkin.Receipt{TxHash: hash, Confirmed: true, Logs: logs}, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("fetch receipt: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.backoff.SleepDuration(attempt, err)):
		}
	}
}
