package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const journalLogPrefix = "db:journal"

// Journal entry kinds, one per dispatch lifecycle step.
const (
	KindSubmitted = "submitted"
	KindResolved  = "resolved"
	KindTimeout   = "timeout"
	KindLate      = "late"
	KindFinalized = "finalized"
	KindAgedOut   = "aged_out"
)

// NoIndex marks entries that concern a whole batch rather than one request.
const NoIndex = -1

// JournalEntry is one recorded dispatch lifecycle step.
type JournalEntry struct {
	ID         string                 `json:"id,omitempty"`
	BatchID    string                 `json:"batchId"`
	Originator string                 `json:"originator"`
	Session    string                 `json:"session,omitempty"`
	Kind       string                 `json:"kind"`
	Index      int                    `json:"index"`
	Name       string                 `json:"name,omitempty"`
	Detail     map[string]interface{} `json:"detail,omitempty"`
	Created    time.Time              `json:"created"`
}

// Journal appends dispatch lifecycle entries to Postgres.
type Journal struct {
	pool *pgxpool.Pool
}

// NewJournal creates a new Journal with the given connection pool.
func NewJournal(pool *pgxpool.Pool) *Journal {
	return &Journal{pool: pool}
}

// Record appends one entry.
func (j *Journal) Record(ctx context.Context, e JournalEntry) error {
	detail, err := marshalDetail(e.Detail)
	if err != nil {
		return err
	}
	created := e.Created
	if created.IsZero() {
		created = time.Now()
	}

	_, err = j.pool.Exec(ctx,
		`INSERT INTO dispatch_journal (batch_id, originator, session_id, kind, idx, name, detail, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.BatchID, e.Originator, e.Session, e.Kind, e.Index, e.Name, detail, created.UTC())
	if err != nil {
		return fmt.Errorf("%s - failed to record %s for batch %s: %w", journalLogPrefix, e.Kind, e.BatchID, err)
	}
	slog.Debug(fmt.Sprintf("%s - recorded %s batch=%s index=%d", journalLogPrefix, e.Kind, e.BatchID, e.Index))
	return nil
}

// ForBatch returns every entry of one batch, oldest first.
func (j *Journal) ForBatch(ctx context.Context, batchID string) ([]JournalEntry, error) {
	rows, err := j.pool.Query(ctx,
		`SELECT id::text, batch_id, originator, session_id, kind, idx, name, detail, created
		 FROM dispatch_journal
		 WHERE batch_id = $1
		 ORDER BY created, idx`, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to query batch %s: %w", journalLogPrefix, batchID, err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - failed to read batch %s: %w", journalLogPrefix, batchID, err)
	}
	return out, nil
}

// Prune deletes entries created before cutoff and returns how many were removed.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := j.pool.Exec(ctx, `DELETE FROM dispatch_journal WHERE created < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("%s - prune failed: %w", journalLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - pruned %d entries older than %s", journalLogPrefix, tag.RowsAffected(), cutoff.UTC().Format(time.RFC3339)))
	return tag.RowsAffected(), nil
}

// Clear truncates the journal. The schema is preserved.
func (j *Journal) Clear(ctx context.Context) error {
	slog.Info(fmt.Sprintf("%s - Clearing dispatch journal", journalLogPrefix))
	if _, err := j.pool.Exec(ctx, `TRUNCATE TABLE dispatch_journal`); err != nil {
		return fmt.Errorf("%s - truncate failed: %w", journalLogPrefix, err)
	}
	return nil
}

// Ping checks database connectivity.
func (j *Journal) Ping(ctx context.Context) error {
	if err := j.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%s - ping failed: %w", journalLogPrefix, err)
	}
	return nil
}

func marshalDetail(detail map[string]interface{}) ([]byte, error) {
	if len(detail) == 0 {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(detail)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to marshal detail: %w", journalLogPrefix, err)
	}
	return data, nil
}

func scanEntry(row pgx.Row) (*JournalEntry, error) {
	var e JournalEntry
	var detail []byte
	if err := row.Scan(&e.ID, &e.BatchID, &e.Originator, &e.Session, &e.Kind, &e.Index, &e.Name, &detail, &e.Created); err != nil {
		return nil, fmt.Errorf("%s - failed to scan entry: %w", journalLogPrefix, err)
	}
	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return nil, fmt.Errorf("%s - failed to decode detail: %w", journalLogPrefix, err)
		}
	}
	return &e, nil
}
