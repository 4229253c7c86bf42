package executor

import (
	"context"
	"errors"

	"candle-trader/internal/model"
)

// ErrInvalidOrder 表示指令字段非法，账本不会被修改
var ErrInvalidOrder = errors.New("invalid order")

// Executor 是策略信号的执行端，负责按风控规则记账
type Executor interface {
	// 执行一条指令，返回实际成交的股数
	ExecuteOrder(ctx context.Context, order model.Order) (float64, error)

	// 采样并返回当前 PnL (会追加到 PnL 序列)
	PnL() float64
}

// LedgerObserver 接收账本事件，用于指标上报
type LedgerObserver interface {
	OrderRouted(symbol, side string)
	SharesBooked(symbol, side string, shares, netPosition, balance float64)
	PnLSampled(pnl, balance float64)
}

type nopLedgerObserver struct{}

func (nopLedgerObserver) OrderRouted(string, string)                                {}
func (nopLedgerObserver) SharesBooked(string, string, float64, float64, float64) {}
func (nopLedgerObserver) PnLSampled(float64, float64)                              {}
