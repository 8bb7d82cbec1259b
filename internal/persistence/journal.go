package persistence

import (
	"context"
	"fmt"
	"time"
)

// JournalEntry is one recorded scheduler event. Payload carries the
// JSON-encoded event struct; TaskID is denormalized for per-task
// history queries.
type JournalEntry struct {
	Topic      string
	EventType  string
	TaskID     string
	Payload    string
	RecordedAt time.Time
}

// AppendEvent appends an entry to the event journal.
func (s *SQLiteStore) AppendEvent(ctx context.Context, entry JournalEntry) error {
	recordedAt := entry.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_journal (topic, event_type, task_id, payload, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.Topic, entry.EventType, entry.TaskID, entry.Payload, fmtTime(recordedAt))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// TaskHistory retrieves all journal entries for a task, oldest first.
func (s *SQLiteStore) TaskHistory(ctx context.Context, taskID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, event_type, task_id, payload, recorded_at
		FROM event_journal
		WHERE task_id = ?
		ORDER BY recorded_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var history []JournalEntry
	for rows.Next() {
		var entry JournalEntry
		var recordedAt string
		if err := rows.Scan(&entry.Topic, &entry.EventType, &entry.TaskID, &entry.Payload, &recordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.RecordedAt = parseTime(recordedAt)
		history = append(history, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}

	return history, nil
}
