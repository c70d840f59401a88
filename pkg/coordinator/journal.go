package coordinator

import (
	"context"

	"github.com/morezero/coordinator/pkg/db"
)

// Journal records dispatch lifecycle steps. It is written after correlator
// calls return, never under a lock.
type Journal interface {
	Record(ctx context.Context, entry db.JournalEntry) error
}

// NoOpJournal discards every entry.
type NoOpJournal struct{}

// Record is a no-op.
func (NoOpJournal) Record(_ context.Context, _ db.JournalEntry) error { return nil }
