package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"vita/internal/domain"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append persists one progress event of a run. Result payloads are dropped from the stored copy;
// the conversation row already carries the final result.
func (w Writer) Append(ctx context.Context, sessionID string, ev domain.ProgressEvent) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if ev.RunID == "" {
		return fmt.Errorf("event %s: run_id required", ev.Type)
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	stored := ev
	stored.Result = nil
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO run_events(ts,type,run_id,session_id,payload_json) VALUES (?,?,?,?,?)`,
		ts, string(ev.Type), ev.RunID, nullable(sessionID), string(data))
	return err
}

// Decode turns a stored event back into a ProgressEvent.
func Decode(e domain.RunEvent) (domain.ProgressEvent, error) {
	var ev domain.ProgressEvent
	if err := json.Unmarshal([]byte(e.Payload), &ev); err != nil {
		return domain.ProgressEvent{}, fmt.Errorf("decode event %d: %w", e.ID, err)
	}
	return ev, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
