package model

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingListener struct {
	mu      sync.Mutex
	candles []Candle
	ticks   []Tick
}

func (r *recordingListener) OnCandle(c Candle, t Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.candles = append(r.candles, c)
	r.ticks = append(r.ticks, t)
}

func (r *recordingListener) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.candles)
}

func tick(ts int64, last float64) Tick {
	return Tick{
		Symbol:    "BTC-USDT",
		Timestamp: ts,
		Last:      last,
		LastSize:  1,
		AskPrice:  last + 0.5,
		AskSize:   2,
		BidPrice:  last - 0.5,
		BidSize:   3,
	}
}

func TestAggregatorSeededFirstCandle(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 1000, StoredLength: 10, SeedZeroPrice: true})

	_, closed := agg.ProcessTick(tick(500, 10))
	require.False(t, closed)

	c, closed := agg.ProcessTick(tick(1500, 20))
	require.True(t, closed)
	// 预置的 0.0 参与了第一根 K 线的均值
	assert.InDelta(t, 5.0, c.Price, 1e-12)
	assert.Equal(t, int64(0), c.StartTs)
	assert.Equal(t, int64(1000), agg.CandleStart())
}

func TestAggregatorUnseededFirstCandle(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 1000, StoredLength: 10})

	_, closed := agg.ProcessTick(tick(500, 10))
	require.False(t, closed)
	assert.Equal(t, int64(0), agg.CandleStart())

	c, closed := agg.ProcessTick(tick(1500, 20))
	require.True(t, closed)
	assert.InDelta(t, 10.0, c.Price, 1e-12)
	assert.Equal(t, int64(1000), agg.CandleStart())
}

func TestAggregatorBoundaryIsExclusive(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 1000, StoredLength: 10})
	agg.ProcessTick(tick(1000, 10))

	// ts == candleStart+interval 仍然属于当前 K 线
	_, closed := agg.ProcessTick(tick(2000, 30))
	assert.False(t, closed)

	c, closed := agg.ProcessTick(tick(2001, 50))
	require.True(t, closed)
	assert.InDelta(t, 20.0, c.Price, 1e-12)
	assert.Equal(t, int64(1000), c.StartTs)
	assert.Equal(t, int64(2000), agg.CandleStart())
}

func TestAggregatorMeanAndCount(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 1000, StoredLength: 100})

	ticks := []Tick{
		tick(0, 1), tick(100, 2), tick(900, 3), // [0,1000)
		tick(1100, 10), tick(1200, 20), // [1000,2000)
		tick(5300, 7), // 中间没有成交的周期不会生成 K 线
		tick(6400, 9),
	}
	var closedCount int
	for _, tk := range ticks {
		if _, closed := agg.ProcessTick(tk); closed {
			closedCount++
		}
	}

	candles := agg.Candles()
	require.Len(t, candles, 3)
	assert.Equal(t, closedCount, len(candles))
	assert.InDelta(t, 2.0, candles[0].Price, 1e-12)
	assert.InDelta(t, 15.0, candles[1].Price, 1e-12)
	assert.InDelta(t, 7.0, candles[2].Price, 1e-12)
	assert.Equal(t, []int64{0, 1000, 5000}, []int64{candles[0].StartTs, candles[1].StartTs, candles[2].StartTs})
}

func TestAggregatorStoredLengthBound(t *testing.T) {
	const stored = 5
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 10, StoredLength: stored})

	var ts int64
	for n := 1; n <= 12; n++ {
		ts += 20
		agg.ProcessTick(tick(ts, float64(n)))
		expected := n - 1 // 第一笔 Tick 只开启 K 线
		if expected > stored {
			expected = stored
		}
		require.Len(t, agg.Candles(), expected)
	}

	candles := agg.Candles()
	// 保留的是最近的 stored 根
	for i, c := range candles {
		assert.InDelta(t, float64(7+i), c.Price, 1e-12)
	}
}

func TestAggregatorNotifiesListenersWithTriggeringTick(t *testing.T) {
	agg := NewCandleAggregator("BTC-USDT", EngineConfig{IntervalMs: 1000, StoredLength: 10})
	l := &recordingListener{}
	agg.AddListener(l)

	agg.OnTick(tick(100, 10))
	agg.OnTick(tick(200, 12))
	assert.Equal(t, 0, l.count())

	trigger := tick(1500, 40)
	agg.OnTick(trigger)
	require.Equal(t, 1, l.count())
	assert.InDelta(t, 11.0, l.candles[0].Price, 1e-12)
	assert.Equal(t, trigger, l.ticks[0])

	require.True(t, agg.RemoveListener(l))
	assert.False(t, agg.RemoveListener(l))
	agg.OnTick(tick(2600, 1))
	assert.Equal(t, 1, l.count())
}

func TestDataEngineRejectsMalformedTick(t *testing.T) {
	de := NewDataEngine(EngineConfig{IntervalMs: 1000, StoredLength: 10}, zap.NewNop(), nil)

	bad := tick(100, 10)
	bad.AskPrice = 0
	err := de.OnTick(bad)
	require.ErrorIs(t, err, ErrMalformedTick)

	bad = tick(100, 10)
	bad.Symbol = ""
	require.ErrorIs(t, de.OnTick(bad), ErrMalformedTick)

	require.NoError(t, de.OnTick(tick(100, 10)))
}

func TestDataEngineRunRoutesBySymbol(t *testing.T) {
	de := NewDataEngine(EngineConfig{IntervalMs: 1000, StoredLength: 10}, zap.NewNop(), nil)
	l := &recordingListener{}
	de.AddListener("BTC-USDT", l)

	ch := make(chan Tick, 8)
	other := tick(1500, 99)
	other.Symbol = "ETH-USDT"
	ch <- tick(100, 10)
	ch <- other
	ch <- tick(1500, 20)
	close(ch)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, de.Run(ctx, "BTC-USDT", ch))

	require.Equal(t, 1, l.count())
	assert.InDelta(t, 10.0, l.candles[0].Price, 1e-12)
	assert.Empty(t, de.Aggregator("ETH-USDT").Candles())
}
