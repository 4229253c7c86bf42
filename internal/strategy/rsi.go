package strategy

import (
	"candle-trader/internal/model"
	"candle-trader/internal/service"
)

// avgDownFloor 平均下跌为 0 时的替代值，避免除零
const avgDownFloor = 0.1

// RSIStrategy RSI 高于卖出阈值卖出，低于买入阈值买入，其余按风控减仓
type RSIStrategy struct {
	deltas        *model.Window[float64]
	ups           float64 // 窗口内正变化之和
	downs         float64 // 窗口内负变化绝对值之和
	lastPrice     float64 // 0 表示还没有上一价格
	lastRSI       float64
	buyThreshold  float64
	sellThreshold float64
}

func NewRSIStrategy(window int, buyThreshold, sellThreshold float64) *RSIStrategy {
	return &RSIStrategy{
		deltas:        model.NewWindow[float64](window),
		buyThreshold:  buyThreshold,
		sellThreshold: sellThreshold,
	}
}

func (s *RSIStrategy) Name() string { return service.StrategyRSI }

// RSI 返回最近一次计算的 RSI，窗口未满时 ok 为 false
func (s *RSIStrategy) RSI() (float64, bool) {
	return s.lastRSI, s.deltas.Full()
}

func (s *RSIStrategy) OnCandle(candle model.Candle, tick model.Tick) *model.Order {
	// 没有上一价格时只记录价格；预置的 0.0 K 线也不会产生变化量
	if s.lastPrice == 0 {
		s.lastPrice = candle.Price
		return nil
	}

	delta := candle.Price - s.lastPrice
	s.lastPrice = candle.Price
	s.add(delta, 1)
	if evicted, ok := s.deltas.Push(delta); ok {
		s.add(evicted, -1)
	}

	if !s.deltas.Full() {
		return nil
	}
	s.lastRSI = s.compute()

	switch {
	case s.lastRSI >= s.sellThreshold:
		return sellAt(tick)
	case s.lastRSI <= s.buyThreshold:
		return buyAt(tick)
	default:
		return rebalanceAt(tick)
	}
}

// add 把 delta 计入 (sign=1) 或移出 (sign=-1) 涨跌合计
func (s *RSIStrategy) add(delta, sign float64) {
	if delta > 0 {
		s.ups += sign * delta
	} else {
		s.downs -= sign * delta
	}
	// 滑动加减的浮点误差不能让合计变成负数
	if s.ups < 0 {
		s.ups = 0
	}
	if s.downs < 0 {
		s.downs = 0
	}
}

func (s *RSIStrategy) compute() float64 {
	w := float64(s.deltas.Cap())
	avgUp := s.ups / w
	avgDown := s.downs / w
	if avgDown == 0 {
		avgDown = avgDownFloor
	}
	rsi := 100 - 100/(1+avgUp/avgDown)
	if rsi < 0 {
		return 0
	}
	if rsi > 100 {
		return 100
	}
	return rsi
}
