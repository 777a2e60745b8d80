package procurement

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *ReportCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewReportCache(client, time.Minute)
}

func TestReportCacheServesAndBumps(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) ([]UnreceivedPOLine, error) {
		calls++
		return []UnreceivedPOLine{{POLineID: 1, OrderedQuantity: d("100"), RemainingQuantity: d("40")}}, nil
	}

	rows, err := cache.UnreceivedLines(ctx, 1, loader)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 1, calls)

	// second call is served from cache
	rows, err = cache.UnreceivedLines(ctx, 1, loader)
	require.NoError(t, err)
	require.True(t, rows[0].RemainingQuantity.Equal(d("40")))
	require.Equal(t, 1, calls)

	// a write bumps the version, so the next read reloads
	require.NoError(t, cache.Bump(ctx))
	_, err = cache.UnreceivedLines(ctx, 1, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestReportCacheNilDegradesToLoader(t *testing.T) {
	var cache *ReportCache
	calls := 0
	rows, err := cache.UnreceivedLines(context.Background(), 1, func(context.Context) ([]UnreceivedPOLine, error) {
		calls++
		return nil, nil
	})
	require.NoError(t, err)
	require.Nil(t, rows)
	require.Equal(t, 1, calls)
}
