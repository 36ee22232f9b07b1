// Package chain talks to the betting contract: it decodes logs, performs
// read-only calls and keeps the live log subscription connected.
package chain

import (
	"bytes"
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

//go:embed abi/wagers.json
var defaultABI []byte

// Contract binds the contract ABI to its address and maps log topics to
// event kinds.
type Contract struct {
	Address common.Address
	abi     abi.ABI
	topics  map[common.Hash]domain.EventKind
	ids     map[domain.EventKind]common.Hash
}

// NewContract parses abiJSON, or the embedded ABI when abiJSON is empty.
// Kinds absent from the ABI are left unsupported.
func NewContract(address string, abiJSON []byte) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("chain: invalid contract address %q", address)
	}
	if len(abiJSON) == 0 {
		abiJSON = defaultABI
	}
	parsed, err := abi.JSON(bytes.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("chain: parse abi: %w", err)
	}

	c := &Contract{
		Address: common.HexToAddress(address),
		abi:     parsed,
		topics:  make(map[common.Hash]domain.EventKind),
		ids:     make(map[domain.EventKind]common.Hash),
	}
	for _, kind := range domain.EventKinds {
		ev, ok := parsed.Events[kind.String()]
		if !ok {
			continue
		}
		c.topics[ev.ID] = kind
		c.ids[kind] = ev.ID
	}
	return c, nil
}

// LoadABI reads an ABI file, returning nil for an empty path.
func LoadABI(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chain: read abi %s: %w", path, err)
	}
	return data, nil
}

// Supports reports whether the ABI declares the kind's event.
func (c *Contract) Supports(kind domain.EventKind) bool {
	_, ok := c.ids[kind]
	return ok
}

// Topics returns the topic ids of the supported kinds.
func (c *Contract) Topics(kinds []domain.EventKind) []common.Hash {
	out := make([]common.Hash, 0, len(kinds))
	for _, k := range kinds {
		if id, ok := c.ids[k]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Decode turns a contract log into a domain event.
func (c *Contract) Decode(lg types.Log) (domain.Event, error) {
	if len(lg.Topics) == 0 {
		return domain.Event{}, fmt.Errorf("chain: decode log %s/%d: %w", lg.TxHash.Hex(), lg.Index, domain.ErrUnknownEvent)
	}
	kind, ok := c.topics[lg.Topics[0]]
	if !ok {
		return domain.Event{}, fmt.Errorf("chain: decode topic %s: %w", lg.Topics[0].Hex(), domain.ErrUnknownEvent)
	}
	vals, err := c.abi.Events[kind.String()].Inputs.Unpack(lg.Data)
	if err != nil {
		return domain.Event{}, fmt.Errorf("chain: unpack %s: %w", kind, err)
	}

	ev := domain.Event{
		Kind:     kind,
		Block:    lg.BlockNumber,
		LogIndex: lg.Index,
		TxHash:   lg.TxHash.Hex(),
	}

	switch kind {
	case domain.EventMatchCreated, domain.EventMatchUpdated, domain.EventMatchCancelled,
		domain.EventMatchOver, domain.EventMatchPayoutFailed:
		id, ok := vals[0].(uint8)
		if !ok {
			return domain.Event{}, fmt.Errorf("chain: %s match id has type %T", kind, vals[0])
		}
		ev.MatchID = uint64(id)

	case domain.EventWagerPlaced:
		if len(vals) != 5 {
			return domain.Event{}, fmt.Errorf("chain: %s has %d fields", kind, len(vals))
		}
		matchID, ok1 := vals[0].(uint8)
		outcome, ok2 := vals[1].(uint8)
		betID, ok3 := vals[2].(*big.Int)
		amount, ok4 := vals[3].(*big.Int)
		bettor, ok5 := vals[4].(common.Address)
		if !(ok1 && ok2 && ok3 && ok4 && ok5) {
			return domain.Event{}, fmt.Errorf("chain: %s field types %T %T %T %T %T", kind, vals[0], vals[1], vals[2], vals[3], vals[4])
		}
		ev.MatchID = uint64(matchID)
		ev.WagerID = betID.Uint64()
		ev.Wager = &domain.Wager{
			MatchID: ev.MatchID,
			ID:      ev.WagerID,
			Bettor:  strings.ToLower(bettor.Hex()),
			Amount:  domain.WeiToEther(amount),
			Outcome: int(outcome),
			Block:   lg.BlockNumber,
		}

	case domain.EventWagerCancelled, domain.EventWagerClaimed:
		if len(vals) != 2 {
			return domain.Event{}, fmt.Errorf("chain: %s has %d fields", kind, len(vals))
		}
		matchID, ok1 := vals[0].(uint8)
		betID, ok2 := vals[1].(*big.Int)
		if !(ok1 && ok2) {
			return domain.Event{}, fmt.Errorf("chain: %s field types %T %T", kind, vals[0], vals[1])
		}
		ev.MatchID = uint64(matchID)
		ev.WagerID = betID.Uint64()

	default:
		return domain.Event{}, fmt.Errorf("chain: decode %s: %w", kind, domain.ErrUnknownEvent)
	}
	return ev, nil
}

func (c *Contract) pack(method string, args ...interface{}) ([]byte, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	return data, nil
}

func (c *Contract) unpack(method string, data []byte) ([]interface{}, error) {
	vals, err := c.abi.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("chain: unpack %s: %w", method, err)
	}
	return vals, nil
}
