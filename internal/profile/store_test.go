package profile

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/db"
	"vita/internal/domain"
	"vita/internal/migrate"
	"vita/internal/repo"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	p, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, p.Empty())

	age := 31
	in := domain.UserProfile{Name: "Noa", Age: &age, DietaryRestrictions: "vegan"}
	require.NoError(t, s.Put(ctx, "s1", in))
	got, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	other, err := s.Get(ctx, "s2")
	require.NoError(t, err)
	assert.True(t, other.Empty())

	require.NoError(t, s.Put(ctx, "", domain.UserProfile{Goals: "maintenance"}))
	def, err := s.Get(ctx, DefaultSession)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", def.Goals)

	require.NoError(t, s.Clear(ctx, "s1"))
	got, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, got.Empty())
	require.NoError(t, s.Clear(ctx, "s1"))
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLStore(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	exerciseStore(t, SQLStore{Repo: repo.Repo{DB: conn}})
}

func TestRedisStore(t *testing.T) {
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
	for _, s := range []string{"s1", "s2", DefaultSession} {
		rdb.Del(context.Background(), redisKeyPrefix+s)
	}
	exerciseStore(t, NewRedisStore(rdb))
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, DefaultSession, SessionKey("  "))
	assert.Equal(t, "abc", SessionKey(" abc "))
}
