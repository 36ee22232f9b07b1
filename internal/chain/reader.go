package chain

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

// Backend is the request/response subset of *ethclient.Client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reader implements domain.ChainReader over an HTTP backend.
type Reader struct {
	backend   Backend
	contract  *Contract
	chunkSize uint64
	timeout   time.Duration
}

// NewReader creates a Reader. History queries span at most chunkSize blocks.
func NewReader(backend Backend, contract *Contract, chunkSize uint64, timeout time.Duration) *Reader {
	if chunkSize == 0 {
		chunkSize = 5000
	}
	return &Reader{backend: backend, contract: contract, chunkSize: chunkSize, timeout: timeout}
}

func (r *Reader) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *Reader) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	data, err := r.contract.pack(method, args...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	to := r.contract.Address
	out, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("chain: call %s: %w", method, err)
	}
	return r.contract.unpack(method, out)
}

// HeadBlock returns the latest block number.
func (r *Reader) HeadBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	n, err := r.backend.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("chain: block number: %w", err)
	}
	return n, nil
}

// NumMatches returns the number of matches defined on the contract.
func (r *Reader) NumMatches(ctx context.Context) (uint64, error) {
	vals, err := r.call(ctx, "getNumMatches")
	if err != nil {
		return 0, err
	}
	n, ok := vals[0].(*big.Int)
	if !ok {
		return 0, fmt.Errorf("chain: getNumMatches returned %T", vals[0])
	}
	return n.Uint64(), nil
}

// Match reads the full state of a match from its two view calls.
func (r *Reader) Match(ctx context.Context, id uint64) (domain.Match, error) {
	if id > math.MaxUint8 {
		return domain.Match{}, fmt.Errorf("chain: match id %d out of range", id)
	}
	info, err := r.call(ctx, "getMatch", uint8(id))
	if err != nil {
		return domain.Match{}, err
	}
	details, err := r.call(ctx, "getMatchBettingDetails", uint8(id))
	if err != nil {
		return domain.Match{}, err
	}
	if len(info) != 10 || len(details) != 6 {
		return domain.Match{}, fmt.Errorf("chain: match %d: got %d/%d fields", id, len(info), len(details))
	}

	f := &fields{method: "getMatch", vals: info}
	m := domain.Match{
		ID:        id,
		Name:      field[string](f, 0),
		Inverted:  field[bool](f, 3),
		HomeTeam:  int(field[uint8](f, 4)),
		AwayTeam:  int(field[uint8](f, 5)),
		Winner:    int(field[uint8](f, 6)),
		StartTime: unixTime(field[*big.Int](f, 7)),
		Cancelled: field[bool](f, 8),
		Locked:    field[bool](f, 9),
	}
	fixture, secondary := field[string](f, 1), field[string](f, 2)
	if f.err != nil {
		return domain.Match{}, fmt.Errorf("chain: match %d: %w", id, f.err)
	}

	f = &fields{method: "getMatchBettingDetails", vals: details}
	closeTime := field[*big.Int](f, 0)
	totalHome := field[*big.Int](f, 1)
	totalAway := field[*big.Int](f, 2)
	totalDraw := field[*big.Int](f, 3)
	numBets := field[*big.Int](f, 4)
	payouts := field[uint8](f, 5)
	if f.err != nil {
		return domain.Match{}, fmt.Errorf("chain: match %d: %w", id, f.err)
	}

	m.FixtureID = parseFixtureID(fixture)
	m.SecondaryFixtureID = parseFixtureID(secondary)
	m.CloseTime = unixTime(closeTime)
	m.TotalHome = domain.WeiToEther(totalHome)
	m.TotalAway = domain.WeiToEther(totalAway)
	m.TotalDraw = domain.WeiToEther(totalDraw)
	m.NumBets = numBets.Int64()
	m.NumPayoutAttempts = int(payouts)
	return m, nil
}

// Team reads a roster entry from the contract.
func (r *Reader) Team(ctx context.Context, id int) (string, error) {
	vals, err := r.call(ctx, "TEAMS", big.NewInt(int64(id)))
	if err != nil {
		return "", err
	}
	name, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: TEAMS returned %T", vals[0])
	}
	return name, nil
}

// PastEvents returns events of kind in [from, to], oldest first. Kinds the
// ABI does not declare yield no events.
func (r *Reader) PastEvents(ctx context.Context, kind domain.EventKind, from, to uint64) ([]domain.Event, error) {
	topics := r.contract.Topics([]domain.EventKind{kind})
	if len(topics) == 0 || from > to {
		return nil, nil
	}

	var out []domain.Event
	for start := from; start <= to; start += r.chunkSize {
		end := start + r.chunkSize - 1
		if end > to || end < start {
			end = to
		}
		q := ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{r.contract.Address},
			Topics:    [][]common.Hash{topics},
		}
		cctx, cancel := r.withTimeout(ctx)
		logs, err := r.backend.FilterLogs(cctx, q)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("chain: filter %s logs %d-%d: %w", kind, start, end, err)
		}
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			ev, err := r.contract.Decode(lg)
			if err != nil {
				return nil, err
			}
			out = append(out, ev)
		}
		if end == to {
			break
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[j].Position().After(out[i].Position())
	})
	return out, nil
}

// fields collects the first type mismatch while unpacking call outputs.
type fields struct {
	method string
	vals   []interface{}
	err    error
}

func field[T any](f *fields, i int) T {
	var zero T
	if f.err != nil {
		return zero
	}
	v, ok := f.vals[i].(T)
	if !ok {
		f.err = fmt.Errorf("%s output %d has type %T", f.method, i, f.vals[i])
		return zero
	}
	return v
}

// parseFixtureID reads the decimal fixture id stored as a string on chain.
// Unparseable ids map to 0, meaning no fixture.
func parseFixtureID(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}

// Compile-time interface check.
var _ domain.ChainReader = (*Reader)(nil)
