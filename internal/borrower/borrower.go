// Package borrower implements the Borrower Index (C3): per-reserve
// sets of addresses with non-zero variable debt, built from historical
// Transfer events and kept live by the same filter. The Repository
// interface makes the backend swappable (in-memory, goleveldb,
// relational) without touching the indexing logic, generalizing the
// teacher's single hard-coded gorm backend (internal/db) into the
// "interchangeable via a Repository interface" requirement.
package borrower

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Repository is the storage contract every backend implements.
type Repository interface {
	GetBorrowers(ctx context.Context, reserve common.Address, limit int) ([]common.Address, error)
	Add(ctx context.Context, reserve, user common.Address) error
	Remove(ctx context.Context, reserve, user common.Address) error
}

var zeroAddr = common.Address{}

// Index applies Transfer-event semantics against a Repository: mint
// (from=0) adds `to`, burn (to=0) removes `from`, user-to-user
// transfer adds `to` and keeps `from` (both sides may still carry
// debt on other reserves, and `from`'s balance only fully zeroes out
// on its own burn event).
type Index struct {
	repo Repository
	log  zerolog.Logger
}

// New builds an Index over repo.
func New(repo Repository, log zerolog.Logger) *Index {
	return &Index{repo: repo, log: log.With().Str("component", "borrower_index").Logger()}
}

// ApplyTransfer updates the index for one variable-debt Transfer log.
func (idx *Index) ApplyTransfer(ctx context.Context, reserve, from, to common.Address) error {
	if to != zeroAddr {
		if err := idx.repo.Add(ctx, reserve, to); err != nil {
			return fmt.Errorf("borrower: add %s/%s: %w", reserve.Hex(), to.Hex(), err)
		}
	}
	if to == zeroAddr && from != zeroAddr {
		if err := idx.repo.Remove(ctx, reserve, from); err != nil {
			return fmt.Errorf("borrower: remove %s/%s: %w", reserve.Hex(), from.Hex(), err)
		}
	}
	return nil
}

// TransferEvent is the decoded shape of a variable-debt Transfer log,
// independent of the ingestor's raw log representation.
type TransferEvent struct {
	Reserve common.Address
	From    common.Address
	To      common.Address
	Block   uint64
}

// Backfill replays historical Transfer events in block order. Callers
// (the event ingestor) are responsible for chunking the underlying log
// filter query (default 2000 blocks per SPEC_FULL); Backfill itself is
// just the ordered-apply loop.
func (idx *Index) Backfill(ctx context.Context, events []TransferEvent) error {
	for _, e := range events {
		if err := idx.ApplyTransfer(ctx, e.Reserve, e.From, e.To); err != nil {
			return err
		}
	}
	idx.log.Info().Int("events", len(events)).Msg("borrower index backfill applied")
	return nil
}

// Borrowers returns up to limit addresses known to hold debt in
// reserve (limit<=0 means "no cap").
func (idx *Index) Borrowers(ctx context.Context, reserve common.Address, limit int) ([]common.Address, error) {
	return idx.repo.GetBorrowers(ctx, reserve, limit)
}

// now is overridable in tests.
var now = time.Now
