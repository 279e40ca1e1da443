package persistence

import (
	"context"
	"database/sql"
)

// EventReader serves stored events back out of the log, for the HTTP
// query surface and for replay after a restart.
type EventReader struct {
	db *sql.DB
}

func NewEventReader(db *sql.DB) *EventReader {
	return &EventReader{db: db}
}

// EventsFrom returns up to limit events with sequence >= from, in
// sequence order.
func (r *EventReader) EventsFrom(ctx context.Context, from int64, limit int) ([]EventRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, payload, ts
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.Sequence, &e.EventID, &e.EventType, &e.Payload, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LatestSequence returns the highest stored sequence, zero for an empty
// log.
func (r *EventReader) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil
	}
	return seq.Int64, nil
}
