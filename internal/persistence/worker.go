package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
	"vammengine/internal/observability"
)

const (
	defaultBatchSize    = 256
	defaultFlushTimeout = 250 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// Worker drains emitted envelopes into Postgres. It batches rows and
// flushes when the batch fills or the flush timeout expires. On write
// failure it retries with exponential backoff and never drops a batch;
// the engines block on the persist channel in the meantime.
//
// When a journal ledger is attached, each flush also writes the
// collateral journal entries recorded since the previous flush.
type Worker struct {
	writer       *EventLogWriter
	events       <-chan event.Envelope
	journal      *collateral.JournalLedger
	journalPos   int
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(
	db *sql.DB,
	events <-chan event.Envelope,
	journal *collateral.JournalLedger,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Worker {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Worker{
		writer:       NewEventLogWriter(db),
		events:       events,
		journal:      journal,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run blocks until ctx is cancelled or the event channel closes. Any
// buffered rows are flushed before returning.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]EventRow, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case env, ok := <-w.events:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
					}
				}
				return nil
			}
			batch = append(batch, RowFromEnvelope(env))
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries until the write succeeds or ctx is cancelled.
// On cancellation it makes one final attempt with a background context
// so a graceful shutdown does not lose the batch.
func (w *Worker) flushWithRetry(ctx context.Context, batch []EventRow) {
	backoff := 100 * time.Millisecond
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush on shutdown failed")
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return
		}
		if w.metrics != nil {
			w.metrics.PersistErrors.Inc()
		}
	}
}

// flush writes the event batch and any new journal entries in one
// transaction.
func (w *Worker) flush(ctx context.Context, batch []EventRow) error {
	journals := w.pendingJournals()

	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, batch); err != nil {
		return err
	}
	if err := w.writer.WriteJournalBatch(ctx, tx, journals); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	w.journalPos += len(journals)
	if w.metrics != nil {
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
	}
	return nil
}

// pendingJournals returns the journal entries recorded since the last
// successful flush. Idempotent inserts make a replay after a failed
// commit harmless.
func (w *Worker) pendingJournals() []JournalRow {
	if w.journal == nil {
		return nil
	}
	entries := w.journal.Journals()
	if w.journalPos >= len(entries) {
		return nil
	}
	rows := make([]JournalRow, 0, len(entries)-w.journalPos)
	for _, j := range entries[w.journalPos:] {
		rows = append(rows, RowFromJournal(j))
	}
	return rows
}
