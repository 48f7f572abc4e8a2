package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vita/internal/config"
	"vita/internal/metrics"
)

type fakePruner struct {
	calls  []time.Duration
	counts map[string]int64
	err    error
}

func (f *fakePruner) Prune(_ context.Context, maxAge time.Duration) (map[string]int64, error) {
	f.calls = append(f.calls, maxAge)
	return f.counts, f.err
}

func TestRunRetentionPrunesAndCounts(t *testing.T) {
	p := &fakePruner{counts: map[string]int64{"conversations": 3, "run_events": 12}}
	s, err := New(config.RetentionConfig{Schedule: "0 3 * * *", MaxAgeDays: 30}, p, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 1)

	before := testutil.ToFloat64(metrics.RetentionPruned.WithLabelValues("run_events"))
	s.RunRetention(context.Background())
	require.Len(t, p.calls, 1)
	assert.Equal(t, 30*24*time.Hour, p.calls[0])
	assert.Equal(t, before+12, testutil.ToFloat64(metrics.RetentionPruned.WithLabelValues("run_events")))
}

func TestRunRetentionSkipsWithoutMaxAge(t *testing.T) {
	p := &fakePruner{}
	s, err := New(config.RetentionConfig{}, p, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, s.cron.Entries())
	s.RunRetention(context.Background())
	assert.Empty(t, p.calls)
}

func TestRunRetentionLogsFailure(t *testing.T) {
	p := &fakePruner{err: errors.New("disk full")}
	s, err := New(config.RetentionConfig{MaxAgeDays: 1}, p, zerolog.Nop())
	require.NoError(t, err)
	s.RunRetention(context.Background())
	assert.Len(t, p.calls, 1)
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(config.RetentionConfig{Schedule: "every day", MaxAgeDays: 1}, &fakePruner{}, zerolog.Nop())
	require.Error(t, err)
}
