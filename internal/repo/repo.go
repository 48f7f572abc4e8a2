package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vita/internal/domain"
)

type Repo struct {
	DB  *sql.DB
	Now func() time.Time
}

var ErrNotFound = errors.New("not found")

func (r Repo) now() string {
	if r.Now != nil {
		return r.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (r Repo) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return r.DB.ExecContext(ctx, query, args...)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// GetProfile returns the stored profile for a session.
func (r Repo) GetProfile(ctx context.Context, sessionID string) (domain.UserProfile, error) {
	var raw string
	err := r.DB.QueryRowContext(ctx, `SELECT profile_json FROM profiles WHERE session_id=?`, sessionID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UserProfile{}, ErrNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	var p domain.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return domain.UserProfile{}, fmt.Errorf("decode profile %s: %w", sessionID, err)
	}
	return p, nil
}

// UpsertProfile replaces the stored profile for a session.
func (r Repo) UpsertProfile(ctx context.Context, sessionID string, p domain.UserProfile) error {
	if sessionID == "" {
		return errors.New("session_id required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO profiles(session_id, profile_json, updated_at) VALUES (?,?,?)
ON CONFLICT(session_id) DO UPDATE SET profile_json=excluded.profile_json, updated_at=excluded.updated_at`,
		sessionID, string(data), r.now())
	return err
}

// DeleteProfile removes the stored profile; missing rows are not an error.
func (r Repo) DeleteProfile(ctx context.Context, sessionID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM profiles WHERE session_id=?`, sessionID)
	return err
}

// PruneBefore deletes conversations and run events older than cutoff and reports how many rows
// each table lost.
func (r Repo) PruneBefore(ctx context.Context, cutoff time.Time) (map[string]int64, error) {
	ts := cutoff.UTC().Format(time.RFC3339)
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	out := map[string]int64{}
	for _, table := range []string{"conversations", "run_events"} {
		col := "created_at"
		if table == "run_events" {
			col = "ts"
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s < ?`, table, col), ts)
		if err != nil {
			return nil, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		out[table] = n
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return out, nil
}
