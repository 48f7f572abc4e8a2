package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"vita/internal/domain"
)

// InsertConversation stores one completed exchange with its step trace.
func (r Repo) InsertConversation(ctx context.Context, c domain.Conversation) error {
	if c.ID == "" {
		return errors.New("id required")
	}
	if c.SessionID == "" {
		return errors.New("session_id required")
	}
	if c.CreatedAt == "" {
		c.CreatedAt = r.now()
	}
	steps := c.Steps
	if steps == nil {
		steps = []domain.Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO conversations(id,session_id,run_id,prompt,response,status,steps_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.SessionID, nullable(c.RunID), c.Prompt, nullable(c.Response), c.Status, string(data), c.CreatedAt)
	return err
}

type HistoryFilters struct {
	SessionID    string
	Limit        int
	IncludeSteps bool
}

// ListConversations returns the newest conversations first.
func (r Repo) ListConversations(ctx context.Context, f HistoryFilters) ([]domain.Conversation, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	clauses := []string{"1=1"}
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id=?")
		args = append(args, f.SessionID)
	}
	query := fmt.Sprintf(`SELECT id,session_id,COALESCE(run_id,''),prompt,COALESCE(response,''),status,steps_json,created_at
FROM conversations WHERE %s ORDER BY created_at DESC, rowid DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var steps string
		if err := rows.Scan(&c.ID, &c.SessionID, &c.RunID, &c.Prompt, &c.Response, &c.Status, &steps, &c.CreatedAt); err != nil {
			return nil, err
		}
		if f.IncludeSteps {
			if err := json.Unmarshal([]byte(steps), &c.Steps); err != nil {
				return nil, fmt.Errorf("decode steps for %s: %w", c.ID, err)
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetConversation loads one conversation including its steps.
func (r Repo) GetConversation(ctx context.Context, id string) (domain.Conversation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,session_id,COALESCE(run_id,''),prompt,COALESCE(response,''),status,steps_json,created_at
FROM conversations WHERE id=?`, id)
	var c domain.Conversation
	var steps string
	err := row.Scan(&c.ID, &c.SessionID, &c.RunID, &c.Prompt, &c.Response, &c.Status, &steps, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Conversation{}, ErrNotFound
	}
	if err != nil {
		return domain.Conversation{}, err
	}
	if err := json.Unmarshal([]byte(steps), &c.Steps); err != nil {
		return domain.Conversation{}, fmt.Errorf("decode steps for %s: %w", c.ID, err)
	}
	return c, nil
}

// RecentTurns rebuilds the last n user/assistant turns of a session in chronological order.
func (r Repo) RecentTurns(ctx context.Context, sessionID string, n int) ([]domain.ConversationTurn, error) {
	if n <= 0 {
		return nil, nil
	}
	convs, err := r.ListConversations(ctx, HistoryFilters{SessionID: sessionID, Limit: (n + 1) / 2})
	if err != nil {
		return nil, err
	}
	var turns []domain.ConversationTurn
	for i := len(convs) - 1; i >= 0; i-- {
		c := convs[i]
		if c.Status != domain.StatusOK {
			continue
		}
		turns = append(turns,
			domain.ConversationTurn{Role: "user", Content: c.Prompt},
			domain.ConversationTurn{Role: "assistant", Content: c.Response},
		)
	}
	if len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return turns, nil
}
