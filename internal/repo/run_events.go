package repo

import (
	"context"
	"fmt"
	"strings"

	"vita/internal/domain"
)

func scanRunEvents(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]domain.RunEvent, error) {
	var res []domain.RunEvent
	for rows.Next() {
		var e domain.RunEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.RunID, &e.SessionID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ListRunEvents returns the events of one run in emission order.
func (r Repo) ListRunEvents(ctx context.Context, runID string) ([]domain.RunEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,run_id,COALESCE(session_id,''),payload_json FROM run_events WHERE run_id=? ORDER BY id ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

// RunEventsAfter pages through all events with id greater than cursor, optionally filtered by type.
func (r Repo) RunEventsAfter(ctx context.Context, limit int, cursor int64, types ...string) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	if len(types) > 0 {
		clauses = append(clauses, "type IN (?"+strings.Repeat(",?", len(types)-1)+")")
		for _, t := range types {
			args = append(args, t)
		}
	}
	query := fmt.Sprintf(`SELECT id,ts,type,run_id,COALESCE(session_id,''),payload_json FROM run_events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRunEvents(rows)
}

// LatestRunEventID returns the most recent run event id, 0 when empty.
func (r Repo) LatestRunEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM run_events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
