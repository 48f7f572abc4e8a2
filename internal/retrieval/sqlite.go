package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"vita/internal/domain"
	"vita/internal/llm"
)

const (
	BackendFTS    = "fts"
	BackendVector = "vector"
)

// SQLiteIndex serves passages from the passages table. The fts backend ranks with FTS5 bm25;
// the vector backend ranks stored embeddings by cosine similarity to the embedded query.
type SQLiteIndex struct {
	DB       *sql.DB
	Backend  string
	Embedder llm.Embedder
	Log      zerolog.Logger
	Now      func() time.Time
}

func (x *SQLiteIndex) Retrieve(ctx context.Context, query string, ns Namespace, k int) ([]domain.Passage, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	if x.Backend == BackendVector && x.Embedder != nil {
		return x.vectorSearch(ctx, query, ns, k)
	}
	return x.textSearch(ctx, query, ns, k)
}

func (x *SQLiteIndex) textSearch(ctx context.Context, query string, ns Namespace, k int) ([]domain.Passage, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}
	rows, err := x.DB.QueryContext(ctx, `
		SELECT p.external_id, p.text, ifnull(p.source, ''), fts.rank
		FROM passages_fts fts
		JOIN passages p ON p.id = fts.rowid
		WHERE passages_fts MATCH ? AND p.namespace = ?
		ORDER BY fts.rank LIMIT ?`, ftsQuery, string(ns), k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ns, err)
	}
	defer rows.Close()
	var out []domain.Passage
	for rows.Next() {
		p := domain.Passage{Namespace: string(ns)}
		var rank float64
		if err := rows.Scan(&p.ID, &p.Text, &p.Source, &rank); err != nil {
			return nil, err
		}
		// bm25 is lower-is-better and negative
		p.Score = -rank
		out = append(out, p)
	}
	return out, rows.Err()
}

func (x *SQLiteIndex) vectorSearch(ctx context.Context, query string, ns Namespace, k int) ([]domain.Passage, error) {
	vecs, err := x.Embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, errors.New("embed query: empty response")
	}
	q := vecs[0]
	rows, err := x.DB.QueryContext(ctx, `SELECT external_id, text, ifnull(source, ''), embedding FROM passages
		WHERE namespace = ? AND embedding IS NOT NULL ORDER BY id`, string(ns))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", ns, err)
	}
	defer rows.Close()
	var out []domain.Passage
	for rows.Next() {
		p := domain.Passage{Namespace: string(ns)}
		var raw []byte
		if err := rows.Scan(&p.ID, &p.Text, &p.Source, &raw); err != nil {
			return nil, err
		}
		var emb []float32
		if err := json.Unmarshal(raw, &emb); err != nil {
			x.Log.Warn().Str("passage", p.ID).Err(err).Msg("skipping passage with unreadable embedding")
			continue
		}
		p.Score = cosineSimilarity(q, emb)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Add upserts entries. When an Embedder is configured every entry is embedded in one batch.
func (x *SQLiteIndex) Add(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	var embeddings [][]float32
	if x.Embedder != nil {
		texts := make([]string, len(entries))
		for i, e := range entries {
			texts[i] = e.Text
		}
		vecs, err := x.Embedder.Embed(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed passages: %w", err)
		}
		if len(vecs) != len(entries) {
			return 0, fmt.Errorf("embed passages: got %d vectors for %d passages", len(vecs), len(entries))
		}
		embeddings = vecs
	}
	now := time.Now
	if x.Now != nil {
		now = x.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	tx, err := x.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for i, e := range entries {
		if e.ID == "" || strings.TrimSpace(e.Text) == "" {
			return 0, fmt.Errorf("entry %d: id and text required", i)
		}
		if _, err := ParseNamespace(string(e.Namespace)); err != nil {
			return 0, fmt.Errorf("entry %s: %w", e.ID, err)
		}
		var emb any
		if embeddings != nil {
			data, err := json.Marshal(embeddings[i])
			if err != nil {
				return 0, fmt.Errorf("encode embedding: %w", err)
			}
			emb = data
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO passages(namespace, external_id, source, text, embedding, created_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(namespace, external_id) DO UPDATE SET source=excluded.source, text=excluded.text, embedding=excluded.embedding`,
			string(e.Namespace), e.ID, nullable(e.Source), e.Text, emb, ts)
		if err != nil {
			return 0, fmt.Errorf("insert passage %s: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Count returns the number of indexed passages per namespace.
func (x *SQLiteIndex) Count(ctx context.Context) (map[Namespace]int, error) {
	rows, err := x.DB.QueryContext(ctx, `SELECT namespace, COUNT(*) FROM passages GROUP BY namespace`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Namespace]int{}
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		out[Namespace(ns)] = n
	}
	return out, rows.Err()
}

// sanitizeFTS quotes each word and ORs them so any term can match; bm25 favors passages that
// match more of them. "high-protein breakfast?" -> `"high-protein" OR "breakfast"`
func sanitizeFTS(query string) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
