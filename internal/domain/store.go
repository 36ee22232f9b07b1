package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
}

// WagerFlag marks an existing wager row as cancelled or claimed.
type WagerFlag struct {
	MatchID uint64
	WagerID uint64
	Block   uint64
}

// WriteBatch buffers durable writes owned by a single caller. A failed Save
// leaves the batch intact so the same batch can be retried.
type WriteBatch struct {
	Matches   []Match
	Wagers    []Wager
	Cancelled []WagerFlag
	Claimed   []WagerFlag
}

// AddMatch queues a match upsert.
func (b *WriteBatch) AddMatch(m Match) { b.Matches = append(b.Matches, m) }

// AddWager queues a wager upsert.
func (b *WriteBatch) AddWager(w Wager) { b.Wagers = append(b.Wagers, w) }

// AddCancelled queues a cancelled flag.
func (b *WriteBatch) AddCancelled(f WagerFlag) { b.Cancelled = append(b.Cancelled, f) }

// AddClaimed queues a claimed flag.
func (b *WriteBatch) AddClaimed(f WagerFlag) { b.Claimed = append(b.Claimed, f) }

// Len returns the number of queued writes.
func (b *WriteBatch) Len() int {
	return len(b.Matches) + len(b.Wagers) + len(b.Cancelled) + len(b.Claimed)
}

// Reset drops every queued write.
func (b *WriteBatch) Reset() {
	b.Matches = b.Matches[:0]
	b.Wagers = b.Wagers[:0]
	b.Cancelled = b.Cancelled[:0]
	b.Claimed = b.Claimed[:0]
}

// RecordStore is the durable store's write path. Save applies the whole batch
// atomically and resets it on success.
type RecordStore interface {
	Save(ctx context.Context, batch *WriteBatch) error
}

// MatchStore reads persisted matches.
type MatchStore interface {
	GetByID(ctx context.Context, id uint64) (Match, error)
	List(ctx context.Context, opts ListOpts) ([]Match, error)
	Count(ctx context.Context) (int64, error)
}

// WagerStore reads persisted wagers.
type WagerStore interface {
	Get(ctx context.Context, matchID, wagerID uint64) (Wager, error)
	ListByMatch(ctx context.Context, matchID uint64, opts ListOpts) ([]Wager, error)
	ListByBettor(ctx context.Context, addr string, opts ListOpts) ([]Wager, error)
}

// TeamStore persists the reference roster.
type TeamStore interface {
	Count(ctx context.Context) (int64, error)
	ReplaceAll(ctx context.Context, teams []Team) error
	List(ctx context.Context) ([]Team, error)
}

// BlobWriter stores archived event batches in object storage under path.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
