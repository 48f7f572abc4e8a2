package retrieval

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/db"
	"vita/internal/domain"
	"vita/internal/migrate"
)

// keywordEmbedder maps text to counts of a fixed vocabulary.
type keywordEmbedder struct{ calls int }

var vocab = []string{"protein", "sleep", "vitamin", "fiber"}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab))
		lower := strings.ToLower(t)
		for j, w := range vocab {
			v[j] = float32(strings.Count(lower, w))
		}
		out[i] = v
	}
	return out, nil
}

const corpus = `{"namespace":"usda","id":"eggs","text":"Eggs provide about 6 grams of protein each and are a classic breakfast.","source":"usda"}
{"namespace":"usda","id":"oats","text":"Oats are rich in soluble fiber and pair well with fruit.","source":"usda"}
# comment lines are skipped
{"namespace":"usda","id":"yogurt","text":"Greek yogurt is a high protein breakfast option with extra protein per cup."}
{"namespace":"wellness","id":"sleep","text":"Consistent sleep schedules improve sleep quality and recovery."}
{"id":"d3","text":"Vitamin D supports bone health; vitamin levels drop in winter."}
`

func newTestIndex(t *testing.T, backend string, emb *keywordEmbedder) *SQLiteIndex {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	idx := &SQLiteIndex{DB: conn, Backend: backend, Log: zerolog.Nop()}
	if emb != nil {
		idx.Embedder = emb
	}
	n, err := Load(context.Background(), idx, strings.NewReader(corpus), NamespacePubMed)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	return idx
}

func TestFTSRetrieveRanksAndScopes(t *testing.T) {
	idx := newTestIndex(t, BackendFTS, nil)
	ctx := context.Background()

	hits, err := idx.Retrieve(ctx, "What's a good high-protein breakfast?", NamespaceUSDA, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "yogurt", hits[0].ID)
	for _, h := range hits {
		assert.Equal(t, "usda", h.Namespace)
		assert.NotEqual(t, "sleep", h.ID)
	}
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}

	hits, err = idx.Retrieve(ctx, "protein", NamespaceWellness, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Retrieve(ctx, "?!", NamespaceUSDA, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestLoadAppliesNamespaceOverride(t *testing.T) {
	idx := newTestIndex(t, BackendFTS, nil)
	counts, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[Namespace]int{NamespaceUSDA: 3, NamespaceWellness: 1, NamespacePubMed: 1}, counts)
}

func TestVectorRetrieve(t *testing.T) {
	emb := &keywordEmbedder{}
	idx := newTestIndex(t, BackendVector, emb)
	hits, err := idx.Retrieve(context.Background(), "protein please", NamespaceUSDA, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "eggs", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "yogurt", hits[1].ID)
}

func TestAddRejectsBadEntries(t *testing.T) {
	idx := newTestIndex(t, BackendFTS, nil)
	_, err := idx.Add(context.Background(), []Entry{{Namespace: "recipes", ID: "x", Text: "y"}})
	require.Error(t, err)
	_, err = idx.Add(context.Background(), []Entry{{Namespace: NamespaceUSDA, ID: "x"}})
	require.Error(t, err)
}

func TestAddUpsertsByID(t *testing.T) {
	idx := newTestIndex(t, BackendFTS, nil)
	ctx := context.Background()
	_, err := idx.Add(ctx, []Entry{{Namespace: NamespaceUSDA, ID: "oats", Text: "Oats now mention quinoa."}})
	require.NoError(t, err)
	hits, err := idx.Retrieve(ctx, "quinoa", NamespaceUSDA, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "oats", hits[0].ID)
	hits, err = idx.Retrieve(ctx, "soluble", NamespaceUSDA, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSanitizeFTS(t *testing.T) {
	assert.Equal(t, `"high-protein" OR "breakfast"`, sanitizeFTS(`high-protein breakfast?`))
	assert.Equal(t, `"say" OR "hi"`, sanitizeFTS(`say "hi"`))
	assert.Equal(t, "", sanitizeFTS("  ?? "))
}

func TestParseNamespace(t *testing.T) {
	ns, err := ParseNamespace(" PubMed ")
	require.NoError(t, err)
	assert.Equal(t, NamespacePubMed, ns)
	_, err = ParseNamespace("recipes")
	require.Error(t, err)
}

type countingRetriever struct{ calls int }

func (c *countingRetriever) Retrieve(_ context.Context, query string, ns Namespace, k int) ([]domain.Passage, error) {
	c.calls++
	return []domain.Passage{{ID: "p1", Text: query, Score: 1, Namespace: string(ns)}}, nil
}

func TestCachedRetriever(t *testing.T) {
	addr := os.Getenv("VITA_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	query := "cache test " + t.Name() + time.Now().Format(time.RFC3339Nano)
	next := &countingRetriever{}
	c := NewCachedRetriever(next, rdb, time.Minute, zerolog.Nop())
	defer rdb.Del(context.Background(), cacheKey(query, NamespaceUSDA, 3))

	first, err := c.Retrieve(context.Background(), query, NamespaceUSDA, 3)
	require.NoError(t, err)
	second, err := c.Retrieve(context.Background(), query, NamespaceUSDA, 0)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, next.calls)
}
