package eth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	checkin "github.com/goliatone/go-checkin"
)

// ABIDecoder extracts named events from receipt logs using a parsed
// contract ABI.
type ABIDecoder struct {
	abi abi.ABI
}

// NewABIDecoder parses abiJSON; an empty string uses WalletABI.
func NewABIDecoder(abiJSON string) (*ABIDecoder, error) {
	if abiJSON == "" {
		abiJSON = WalletABI
	}
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("parse ABI: %w", err)
	}
	return &ABIDecoder{abi: parsed}, nil
}

// Decode returns every occurrence of eventName in logs, in log order.
// Logs emitted by other events are skipped; a log that matches the event
// signature but cannot be unpacked is an error.
func (d *ABIDecoder) Decode(logs []types.Log, eventName string) ([]checkin.DecodedEvent, error) {
	ev, ok := d.abi.Events[eventName]
	if !ok {
		return nil, checkin.CloneError(checkin.ErrDecodeFailed,
			fmt.Sprintf("event %s not in ABI", eventName), nil, nil)
	}

	var out []checkin.DecodedEvent
	for _, log := range logs {
		if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
			continue
		}

		args := map[string]any{}
		if len(log.Data) > 0 {
			if err := d.abi.UnpackIntoMap(args, eventName, log.Data); err != nil {
				return nil, checkin.CloneError(checkin.ErrDecodeFailed,
					fmt.Sprintf("unpack %s data", eventName), err,
					map[string]any{"tx_hash": log.TxHash.Hex()})
			}
		}
		if indexed := indexedArguments(ev.Inputs); len(indexed) > 0 {
			if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
				return nil, checkin.CloneError(checkin.ErrDecodeFailed,
					fmt.Sprintf("parse %s topics", eventName), err,
					map[string]any{"tx_hash": log.TxHash.Hex()})
			}
		}

		out = append(out, checkin.DecodedEvent{Name: eventName, Args: args})
	}
	return out, nil
}

func indexedArguments(inputs abi.Arguments) abi.Arguments {
	var indexed abi.Arguments
	for _, arg := range inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
