package model

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrMalformedTick 表示 Ticker 缺字段或字段非法
	ErrMalformedTick = errors.New("malformed tick")
	// ErrMalformedCandle 表示 K 线数据非法
	ErrMalformedCandle = errors.New("malformed candle")
)

// Tick 代表归一化后的最小粒度市场数据 (最新成交 + 最优买卖价)
type Tick struct {
	Symbol    string  // 所属交易对，例如 "BTC-USDT"
	Timestamp int64   // 毫秒时间戳
	Last      float64 // 最新成交价
	LastSize  float64 // 最新成交量
	AskPrice  float64 // 卖一价
	AskSize   float64 // 卖一量
	BidPrice  float64 // 买一价
	BidSize   float64 // 买一量
}

// Validate 在 Tick 进入核心之前做边界检查
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("%w: empty symbol", ErrMalformedTick)
	}
	if t.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp %d", ErrMalformedTick, t.Timestamp)
	}
	fields := []struct {
		name     string
		v        float64
		positive bool
	}{
		{"last", t.Last, true},
		{"lastSz", t.LastSize, false},
		{"askPx", t.AskPrice, true},
		{"askSz", t.AskSize, false},
		{"bidPx", t.BidPrice, true},
		{"bidSz", t.BidSize, false},
	}
	for _, f := range fields {
		if !finite(f.v) || f.v < 0 || (f.positive && f.v == 0) {
			return fmt.Errorf("%w: %s=%v", ErrMalformedTick, f.name, f.v)
		}
	}
	return nil
}

// Candle 代表固定周期内所有成交价的算术平均
type Candle struct {
	Price   float64 // [StartTs, StartTs+interval) 内 last 的均值
	StartTs int64   // 周期起始毫秒时间戳
}

// Validate 检查 K 线价格是否为有限数
func (c Candle) Validate() error {
	if !finite(c.Price) {
		return fmt.Errorf("%w: price=%v", ErrMalformedCandle, c.Price)
	}
	if c.StartTs < 0 {
		return fmt.Errorf("%w: startTs=%d", ErrMalformedCandle, c.StartTs)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
