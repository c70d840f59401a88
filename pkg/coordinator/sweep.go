package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/coordinator/pkg/db"
	"github.com/morezero/coordinator/pkg/events"
)

const sweepLogPrefix = "coordinator:sweep"

// DefaultSweepInterval is how often RunSweeper sweeps when no interval is set.
const DefaultSweepInterval = 5 * time.Second

// SweepReport is what one sweep did.
type SweepReport struct {
	Timeouts           int      `json:"timeouts"`
	Finalized          []string `json:"finalized,omitempty"`
	AgedOut            []string `json:"agedOut,omitempty"`
	PurgedStreams      int      `json:"purgedStreams"`
	PurgedCapabilities []string `json:"purgedCapabilities,omitempty"`
}

// Sweep times out stragglers, notifies their capabilities, finalizes the
// batches the timeouts completed and purges idle streams and expired
// capabilities. It is safe to call concurrently with result handling.
func (c *Coordinator) Sweep(ctx context.Context, now time.Time) (*SweepReport, error) {
	outcome := c.correlator.Sweep(now)
	report := &SweepReport{Timeouts: len(outcome.Timeouts), AgedOut: outcome.AgedOut}

	var errs []error
	for _, t := range outcome.Timeouts {
		if err := c.publisher.PublishTimeout(ctx, events.NewRequestEvent(t, now)); err != nil {
			slog.Error(fmt.Sprintf("%s - failed to publish timeout batch=%s index=%d: %v", sweepLogPrefix, t.BatchID, t.Index, err))
			errs = append(errs, err)
		}
		c.record(ctx, db.JournalEntry{
			BatchID:    t.BatchID,
			Originator: t.Originator,
			Session:    t.Session,
			Kind:       db.KindTimeout,
			Index:      t.Index,
			Name:       t.Name,
		})
	}

	for _, b := range outcome.Completed {
		if err := c.finalize(ctx, b.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		report.Finalized = append(report.Finalized, b.ID)
	}

	for _, id := range outcome.AgedOut {
		c.record(ctx, db.JournalEntry{BatchID: id, Originator: c.originator, Kind: db.KindAgedOut, Index: db.NoIndex})
	}

	report.PurgedStreams = c.reducer.Purge(now)
	report.PurgedCapabilities = c.registry.Purge(now)

	if report.Timeouts > 0 || len(report.AgedOut) > 0 {
		slog.Info(fmt.Sprintf("%s - swept: timeouts=%d finalized=%d agedOut=%d", sweepLogPrefix, report.Timeouts, len(report.Finalized), len(report.AgedOut)))
	}
	return report, errors.Join(errs...)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (c *Coordinator) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info(fmt.Sprintf("%s - sweeper started (interval=%s)", sweepLogPrefix, interval))
	for {
		select {
		case <-ctx.Done():
			slog.Info(fmt.Sprintf("%s - sweeper stopped", sweepLogPrefix))
			return nil
		case <-ticker.C:
			if _, err := c.Sweep(ctx, c.now()); err != nil {
				slog.Error(fmt.Sprintf("%s - sweep failed: %v", sweepLogPrefix, err))
			}
		}
	}
}
