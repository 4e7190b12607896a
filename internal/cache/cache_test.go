package cache

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"whatsapp-agent/internal/clock"
	"whatsapp-agent/internal/metrics"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, opts ...Option) (*Cache[string, string], *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(epoch)
	c, err := New[string, string]("test", append([]Option{WithClock(clk)}, opts...)...)
	require.NoError(t, err)
	return c, clk
}

func TestNew_RequiresName(t *testing.T) {
	_, err := New[string, int]("")
	require.Error(t, err)
}

func TestGet_HitImmediatelyAfterPut(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("k", "v", time.Minute)

	e, ok := c.Get("k")
	require.True(t, ok)
	require.False(t, e.Negative)
	require.Equal(t, "v", e.Value)
	require.Equal(t, epoch, e.StoredAt)
}

func TestGet_MissAfterTTL(t *testing.T) {
	c, clk := newTestCache(t)
	c.Put("k", "v", time.Minute)

	clk.Advance(59 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	clk.Advance(time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "entry must expire once age reaches ttl")
	require.Zero(t, c.Len(), "expired entry is dropped on read")
}

func TestNegativeEntry_ExpiresBeforePositive(t *testing.T) {
	c, clk := newTestCache(t)
	c.PutNegative("missing", 5*time.Minute)
	c.Put("present", "v", 30*time.Minute)

	e, ok := c.Get("missing")
	require.True(t, ok)
	require.True(t, e.Negative)
	require.Empty(t, e.Value)

	clk.Advance(5 * time.Minute)
	_, ok = c.Get("missing")
	require.False(t, ok)
	_, ok = c.Get("present")
	require.True(t, ok)
}

func TestNegativeEntry_ReplacedByPositive(t *testing.T) {
	c, _ := newTestCache(t)
	c.PutNegative("k", time.Minute)
	c.Put("k", "now-active", time.Hour)

	e, ok := c.Get("k")
	require.True(t, ok)
	require.False(t, e.Negative)
	require.Equal(t, "now-active", e.Value)
}

func TestPut_NonPositiveTTLRemoves(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("k", "v", time.Minute)
	c.Put("k", "v2", 0)

	_, ok := c.Get("k")
	require.False(t, ok)
}

func TestInvalidateAndClear(t *testing.T) {
	c, _ := newTestCache(t)
	c.Put("a", "1", time.Minute)
	c.Put("b", "2", time.Minute)

	require.True(t, c.Invalidate("a"))
	require.False(t, c.Invalidate("a"))
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	require.Zero(t, c.Len())
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	c, clk := newTestCache(t)
	c.Put("short", "1", time.Minute)
	c.PutNegative("neg", 2*time.Minute)
	c.Put("long", "3", time.Hour)

	clk.Advance(3 * time.Minute)
	require.Equal(t, 2, c.Sweep())
	require.Equal(t, 1, c.Len())
	_, ok := c.Get("long")
	require.True(t, ok)
}

func TestMaxEntries_EvictsLeastRecentlyUsed(t *testing.T) {
	c, _ := newTestCache(t, WithMaxEntries(2))
	c.Put("a", "1", time.Hour)
	c.Put("b", "2", time.Hour)
	_, _ = c.Get("a")
	c.Put("c", "3", time.Hour)

	_, ok := c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestReaper_SweepsInBackground(t *testing.T) {
	c, clk := newTestCache(t, WithSweepInterval(10*time.Millisecond))
	c.Put("k", "v", time.Minute)
	clk.Advance(2 * time.Minute)

	c.Start(context.Background())
	defer c.Stop()
	require.True(t, c.IsRunning())

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestReaper_StopIsIdempotent(t *testing.T) {
	c, _ := newTestCache(t, WithSweepInterval(time.Millisecond))
	c.Start(context.Background())
	c.Start(context.Background())
	c.Stop()
	c.Stop()
	require.False(t, c.IsRunning())
}

func TestGet_RecordsLookupMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	c, _ := newTestCache(t, WithMetrics(m))
	c.Put("k", "v", time.Minute)
	c.PutNegative("n", time.Minute)

	_, _ = c.Get("k")
	_, _ = c.Get("n")
	_, _ = c.Get("absent")

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "whatsapp_agent_cache_lookups_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" {
					got[lp.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	require.Equal(t, map[string]float64{
		metrics.ResultHit:      1,
		metrics.ResultNegative: 1,
		metrics.ResultMiss:     1,
	}, got)
}

func TestPeek_LeavesNoLookupTrace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	c, clk := newTestCache(t, WithMetrics(m))
	c.Put("k", "v", time.Minute)
	c.PutNegative("n", time.Minute)

	e, ok := c.Peek("k")
	require.True(t, ok)
	require.Equal(t, "v", e.Value)
	e, ok = c.Peek("n")
	require.True(t, ok)
	require.True(t, e.Negative)
	_, ok = c.Peek("absent")
	require.False(t, ok)

	clk.Advance(time.Minute)
	_, ok = c.Peek("k")
	require.False(t, ok)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		require.NotEqual(t, "whatsapp_agent_cache_lookups_total", mf.GetName())
	}
}
