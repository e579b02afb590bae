package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelanni/studyledger/internal/cache"
	"github.com/pavelanni/studyledger/internal/ledger"
	"github.com/pavelanni/studyledger/internal/model"
)

func newTestDashboard(t *testing.T) *cache.Dashboard {
	t.Helper()
	addr := os.Getenv("STUDYLEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STUDYLEDGER_TEST_REDIS_ADDR not set")
	}
	cfg := cache.DefaultConfig()
	cfg.Addr = addr
	cfg.TTL = time.Minute
	d, err := cache.New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestReadThroughAndInvalidate(t *testing.T) {
	d := newTestDashboard(t)
	ctx := context.Background()
	profile := "test_" + uuid.NewString()
	t.Cleanup(func() { d.Invalidate(ctx, profile) })

	loads := 0
	load := func(context.Context, string) ([]model.AggregateEntry, error) {
		loads++
		return []model.AggregateEntry{{ProfileID: profile, TopicID: 1, TotalQuestions: loads, Tier: model.TierSolid}}, nil
	}

	first, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	second, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	assert.Equal(t, first, second)

	var obs ledger.Observer = d
	obs.LedgerChanged(ctx, profile, 1)

	third, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 2, third[0].TotalQuestions)
}

func TestFillRacingInvalidationIsDropped(t *testing.T) {
	d := newTestDashboard(t)
	ctx := context.Background()
	profile := "test_" + uuid.NewString()
	t.Cleanup(func() { d.Invalidate(ctx, profile) })

	loads := 0
	load := func(ctx context.Context, id string) ([]model.AggregateEntry, error) {
		loads++
		entries := []model.AggregateEntry{{ProfileID: id, TopicID: 1, TotalQuestions: loads}}
		if loads == 1 {
			// A mutation commits and invalidates after this read.
			require.NoError(t, d.Invalidate(ctx, id))
		}
		return entries, nil
	}

	stale, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	assert.Equal(t, 1, stale[0].TotalQuestions)

	fresh, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, 2, fresh[0].TotalQuestions)

	again, err := d.Aggregates(ctx, profile, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Equal(t, fresh, again)
}

func TestNewFailsWithoutServer(t *testing.T) {
	cfg := cache.DefaultConfig()
	cfg.Addr = "127.0.0.1:1"
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cache.New(ctx, cfg)
	assert.Error(t, err)
}
