package domain

import "context"

// ChainReader is the request/response path to the contract.
type ChainReader interface {
	HeadBlock(ctx context.Context) (uint64, error)
	NumMatches(ctx context.Context) (uint64, error)
	Match(ctx context.Context, id uint64) (Match, error)
	// PastEvents returns events of kind in [from, to], ascending.
	PastEvents(ctx context.Context, kind EventKind, from, to uint64) ([]Event, error)
}

// FixtureFeed fetches live fixture state from the external feed.
type FixtureFeed interface {
	Fixture(ctx context.Context, id int64) (Fixture, error)
}
