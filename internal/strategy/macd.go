package strategy

import (
	"math"

	"candle-trader/internal/model"
	"candle-trader/internal/service"
	"candle-trader/pkg/ta"
)

// MACDParams MACD + Hurst 策略参数
type MACDParams struct {
	LongWindow     int     // 长周期 EWMA 的 span，同时是价格窗口长度
	ShortSpan      int     // 短周期 EWMA 的 span
	SignalSpan     int     // 信号线 span
	HurstWindow    int     // Hurst 指数的回看长度
	HurstThreshold float64 // 趋势过滤阈值
}

// MACDHurstStrategy MACD 给方向，Hurst 指数过滤非趋势行情
type MACDHurstStrategy struct {
	params  MACDParams
	prices  *model.Window[float64]
	history *model.Window[float64]

	lastMACD   float64
	lastSignal float64
	lastHurst  float64
}

func NewMACDHurstStrategy(p MACDParams) *MACDHurstStrategy {
	return &MACDHurstStrategy{
		params:    p,
		prices:    model.NewWindow[float64](p.LongWindow),
		history:   model.NewWindow[float64](p.HurstWindow),
		lastHurst: math.NaN(),
	}
}

func (s *MACDHurstStrategy) Name() string { return service.StrategyMACD }

// Indicators 返回最近一次计算的 MACD、信号线与 Hurst 指数
func (s *MACDHurstStrategy) Indicators() (macd, signal, hurst float64) {
	return s.lastMACD, s.lastSignal, s.lastHurst
}

func (s *MACDHurstStrategy) OnCandle(candle model.Candle, tick model.Tick) *model.Order {
	s.prices.Push(candle.Price)
	s.history.Push(candle.Price)

	if !s.prices.Full() {
		return nil
	}

	// 每根 K 线在整个窗口上重新计算 EWMA
	prices := s.prices.Values()
	short := ta.EWMA(prices, float64(s.params.ShortSpan))
	long := ta.EWMA(prices, float64(s.params.LongWindow))
	macd := make([]float64, len(prices))
	for i := range prices {
		macd[i] = short[i] - long[i]
	}
	signal := ta.EWMA(macd, float64(s.params.SignalSpan))

	s.lastMACD = macd[len(macd)-1]
	s.lastSignal = signal[len(signal)-1]
	s.lastHurst = ta.Hurst(s.history.Values(), ta.DefaultHurstMaxLag)

	// NaN 不会通过阈值比较
	trending := s.lastHurst > s.params.HurstThreshold
	switch {
	case trending && s.lastMACD > s.lastSignal:
		return buyAt(tick)
	case trending && s.lastMACD < s.lastSignal:
		return sellAt(tick)
	default:
		return rebalanceAt(tick)
	}
}
