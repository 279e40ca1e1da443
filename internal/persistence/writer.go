// Package persistence batch-writes the event log and the collateral
// journal to Postgres. The worker drains the blocking persist channel,
// so a stalled database backpressures the engines instead of losing
// events.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"vammengine/internal/collateral"
	"vammengine/internal/event"
)

// EventRow is a row in event_log.events.
type EventRow struct {
	Sequence  int64
	EventID   string
	EventType string
	Payload   []byte
	Timestamp time.Time
}

// JournalRow is a row in event_log.journal, one per collateral transfer.
type JournalRow struct {
	JournalID string
	Debit     string
	Credit    string
	Amount    string
	Timestamp time.Time
}

// RowFromEnvelope converts an emitted envelope into its storage row.
func RowFromEnvelope(env event.Envelope) EventRow {
	return EventRow{
		Sequence:  env.Sequence,
		EventID:   env.EventID.String(),
		EventType: env.Type.String(),
		Payload:   env.Payload,
		Timestamp: env.Timestamp,
	}
}

// RowFromJournal converts a ledger journal entry into its storage row.
func RowFromJournal(j collateral.Journal) JournalRow {
	return JournalRow{
		JournalID: j.JournalID.String(),
		Debit:     string(j.Debit),
		Credit:    string(j.Credit),
		Amount:    j.Amount.String(),
		Timestamp: j.Timestamp,
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes event and journal batches with multi-row
// INSERTs. Writes are idempotent: replays of already stored rows are
// dropped on the primary key.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

func (w *EventLogWriter) DB() *sql.DB { return w.db }

// WriteEventBatch inserts event rows through the given transaction.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, tx execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	query, args := buildEventInsert(events)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	return nil
}

// WriteJournalBatch inserts journal rows through the given transaction.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, tx execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	query, args := buildJournalInsert(journals)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	return nil
}

func buildEventInsert(events []EventRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.events
		(sequence, event_id, event_type, payload, ts)
		VALUES `)

	args := make([]interface{}, 0, len(events)*5)
	for i, e := range events {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, e.Sequence, e.EventID, e.EventType, e.Payload, e.Timestamp)
	}
	b.WriteString(" ON CONFLICT (event_id) DO NOTHING")
	return b.String(), args
}

func buildJournalInsert(journals []JournalRow) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(`INSERT INTO event_log.journal
		(journal_id, debit_account, credit_account, amount, ts)
		VALUES `)

	args := make([]interface{}, 0, len(journals)*5)
	for i, j := range journals {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, j.JournalID, j.Debit, j.Credit, j.Amount, j.Timestamp)
	}
	b.WriteString(" ON CONFLICT (journal_id) DO NOTHING")
	return b.String(), args
}
