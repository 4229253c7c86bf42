package strategy

import (
	"math"

	"candle-trader/internal/model"
	"candle-trader/internal/service"
)

// SMAStrategy 均值回归：价格高于 W 周期均线卖出，低于均线买入，相等时按风控减仓
type SMAStrategy struct {
	window *model.Window[float64]
	sum    float64
}

func NewSMAStrategy(window int) *SMAStrategy {
	return &SMAStrategy{window: model.NewWindow[float64](window)}
}

func (s *SMAStrategy) Name() string { return service.StrategySMA }

// Average 返回当前均线，窗口未满时 ok 为 false
func (s *SMAStrategy) Average() (avg float64, ok bool) {
	if !s.window.Full() {
		return 0, false
	}
	return s.sum / float64(s.window.Cap()), true
}

func (s *SMAStrategy) OnCandle(candle model.Candle, tick model.Tick) *model.Order {
	if evicted, ok := s.window.Push(candle.Price); ok {
		s.sum -= evicted
	}
	s.sum += candle.Price

	avg, ok := s.Average()
	if !ok {
		return nil
	}
	switch {
	case nearlyEqual(candle.Price, avg):
		return rebalanceAt(tick)
	case candle.Price > avg:
		return sellAt(tick)
	default:
		return buyAt(tick)
	}
}

// nearlyEqual 吸收滑动求和累积的浮点误差
func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-12*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}
