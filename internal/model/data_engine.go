package model

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// CandleListener 在 K 线收盘时被调用，同时拿到触发收盘的 Tick (执行价格取自它的盘口)
type CandleListener interface {
	OnCandle(candle Candle, tick Tick)
}

// Observer 接收数据层的统计事件，nil 表示不统计
type Observer interface {
	TickReceived(symbol string)
	CandleClosed(symbol string, price float64)
	InputRejected(symbol, reason string)
}

type nopObserver struct{}

func (nopObserver) TickReceived(string)          {}
func (nopObserver) CandleClosed(string, float64) {}
func (nopObserver) InputRejected(string, string) {}

// EngineConfig 定义 K 线聚合参数
type EngineConfig struct {
	IntervalMs    int64 // K 线周期 (毫秒)
	StoredLength  int   // 每个 Symbol 最多保留的 K 线数量
	SeedZeroPrice bool  // 第一根 K 线是否带一个预置的 0.0 价格
}

// DataEngine 负责把每个 Symbol 的 Tick 流聚合成 K 线，并通知注册在该 Symbol 上的策略
type DataEngine struct {
	mu          sync.RWMutex
	cfg         EngineConfig
	aggregators map[string]*CandleAggregator
	logger      *zap.Logger
	observer    Observer
}

// NewDataEngine 创建并初始化 DataEngine
func NewDataEngine(cfg EngineConfig, logger *zap.Logger, observer Observer) *DataEngine {
	if observer == nil {
		observer = nopObserver{}
	}
	return &DataEngine{
		cfg:         cfg,
		aggregators: make(map[string]*CandleAggregator),
		logger:      logger,
		observer:    observer,
	}
}

// Aggregator 返回 symbol 对应的聚合器，不存在则创建
func (de *DataEngine) Aggregator(symbol string) *CandleAggregator {
	de.mu.RLock()
	agg, ok := de.aggregators[symbol]
	de.mu.RUnlock()
	if ok {
		return agg
	}

	de.mu.Lock()
	defer de.mu.Unlock()
	if agg, ok = de.aggregators[symbol]; ok {
		return agg
	}
	agg = NewCandleAggregator(symbol, de.cfg)
	de.aggregators[symbol] = agg
	de.logger.Info("CandleAggregator created",
		zap.String("Symbol", symbol),
		zap.Int64("IntervalMs", de.cfg.IntervalMs),
		zap.Int("StoredLength", de.cfg.StoredLength))
	return agg
}

// AddListener 在 symbol 的 K 线源上注册策略
func (de *DataEngine) AddListener(symbol string, l CandleListener) {
	de.Aggregator(symbol).AddListener(l)
}

// RemoveListener 注销策略，返回是否找到
func (de *DataEngine) RemoveListener(symbol string, l CandleListener) bool {
	return de.Aggregator(symbol).RemoveListener(l)
}

// OnTick 校验并处理一笔 Tick；非法 Tick 在这里被拒绝，不会进入聚合器
func (de *DataEngine) OnTick(t Tick) error {
	if err := t.Validate(); err != nil {
		de.observer.InputRejected(t.Symbol, "tick")
		return err
	}
	de.observer.TickReceived(t.Symbol)
	if c, closed := de.Aggregator(t.Symbol).OnTick(t); closed {
		de.observer.CandleClosed(t.Symbol, c.Price)
	}
	return nil
}

// Run 消费单个 Symbol 的 Tick 通道，直到通道关闭或 ctx 结束。
// 每个 Symbol 一个 Goroutine，聚合和信号计算都在这个 Goroutine 里完成。
func (de *DataEngine) Run(ctx context.Context, symbol string, ticks <-chan Tick) error {
	de.logger.Info("Data Engine started, monitoring ticker stream...", zap.String("Symbol", symbol))
	defer de.logger.Info("Data Engine stopped", zap.String("Symbol", symbol))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			// 只处理与本 Symbol 匹配的数据
			if t.Symbol != symbol {
				continue
			}
			if err := de.OnTick(t); err != nil {
				de.logger.Warn("Dropping malformed tick", zap.String("Symbol", symbol), zap.Error(err))
			}
		}
	}
}

// CandleAggregator 根据 Tick 时间戳把 last 价格聚合成固定周期的均价 K 线
type CandleAggregator struct {
	mu          sync.Mutex
	Symbol      string
	IntervalMs  int64
	candleStart int64            // 当前 K 线起始时间 (按周期对齐)
	prices      []float64        // 当前周期内累积的 last
	candles     *Window[Candle]  // 已收盘 K 线，超出 StoredLength 时淘汰最旧的
	listeners   []CandleListener // 收盘时通知
}

// NewCandleAggregator 创建一个新的聚合器。
// SeedZeroPrice 为 true 时 candleStart 从 0 开始并预置一个 0.0 价格，
// 第一根 K 线的均价会因此被拉低。
func NewCandleAggregator(symbol string, cfg EngineConfig) *CandleAggregator {
	agg := &CandleAggregator{
		Symbol:     symbol,
		IntervalMs: cfg.IntervalMs,
		candles:    NewWindow[Candle](cfg.StoredLength),
	}
	if cfg.SeedZeroPrice {
		agg.prices = []float64{0.0}
	}
	return agg
}

// ProcessTick 把 Tick 聚合到当前 K 线；跨过周期边界时返回刚收盘的 K 线和 true
func (agg *CandleAggregator) ProcessTick(t Tick) (Candle, bool) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.process(t)
}

// OnTick 处理 Tick，收盘时在锁外通知所有监听者
func (agg *CandleAggregator) OnTick(t Tick) (Candle, bool) {
	agg.mu.Lock()
	c, closed := agg.process(t)
	var listeners []CandleListener
	if closed {
		listeners = make([]CandleListener, len(agg.listeners))
		copy(listeners, agg.listeners)
	}
	agg.mu.Unlock()

	for _, l := range listeners {
		l.OnCandle(c, t)
	}
	return c, closed
}

func (agg *CandleAggregator) process(t Tick) (Candle, bool) {
	// 未预置价格时，第一笔 Tick 只负责开启第一根 K 线
	if len(agg.prices) == 0 {
		agg.candleStart = alignTs(t.Timestamp, agg.IntervalMs)
		agg.prices = append(agg.prices, t.Last)
		return Candle{}, false
	}

	if t.Timestamp > agg.candleStart+agg.IntervalMs {
		completed := Candle{Price: mean(agg.prices), StartTs: agg.candleStart}
		agg.candles.Push(completed)

		// 以触发 Tick 为基准开启新 K 线
		agg.candleStart = alignTs(t.Timestamp, agg.IntervalMs)
		agg.prices = append(agg.prices[:0], t.Last)
		return completed, true
	}

	agg.prices = append(agg.prices, t.Last)
	return Candle{}, false
}

// AddListener 注册 K 线监听者
func (agg *CandleAggregator) AddListener(l CandleListener) {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	agg.listeners = append(agg.listeners, l)
}

// RemoveListener 注销 K 线监听者
func (agg *CandleAggregator) RemoveListener(l CandleListener) bool {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	for i, existing := range agg.listeners {
		if existing == l {
			agg.listeners = append(agg.listeners[:i], agg.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Candles 返回已收盘 K 线的副本 (从旧到新)
func (agg *CandleAggregator) Candles() []Candle {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.candles.Values()
}

// CandleStart 返回当前正在构建的 K 线起始时间
func (agg *CandleAggregator) CandleStart() int64 {
	agg.mu.Lock()
	defer agg.mu.Unlock()
	return agg.candleStart
}

func alignTs(ts, intervalMs int64) int64 {
	if intervalMs <= 0 {
		return ts
	}
	return ts / intervalMs * intervalMs
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
