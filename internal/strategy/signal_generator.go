package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"candle-trader/internal/executor"
	"candle-trader/internal/model"

	"go.uber.org/zap"
)

// ErrSymbolMismatch 表示收到了不属于本实例的 Tick
var ErrSymbolMismatch = errors.New("tick symbol does not match strategy symbol")

// SignalGenerator 把一个策略挂到某个 Symbol 的 K 线源上：
// 校验输入、调用策略、把指令交给执行器，并在每次下单后采样 PnL。
// 输入校验失败会让该 (symbol, strategy) 停止工作，但不会影响共享账本。
type SignalGenerator struct {
	ctx      context.Context
	symbol   string
	strategy Strategy
	executor executor.Executor
	observer model.Observer
	logger   *zap.Logger

	mu      sync.Mutex
	halted  error
	candles int
	orders  int
}

// NewSignalGenerator 初始化信号生成器；ctx 取消后不再下单
func NewSignalGenerator(ctx context.Context, symbol string, s Strategy, exec executor.Executor, observer model.Observer, logger *zap.Logger) *SignalGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalGenerator{
		ctx:      ctx,
		symbol:   symbol,
		strategy: s,
		executor: exec,
		observer: observer,
		logger:   logger.With(zap.String("Symbol", symbol), zap.String("Strategy", s.Name())),
	}
}

// OnCandle 实现 model.CandleListener
func (sg *SignalGenerator) OnCandle(candle model.Candle, tick model.Tick) {
	sg.mu.Lock()
	defer sg.mu.Unlock()

	if sg.halted != nil {
		return
	}
	sg.candles++

	// 1. 校验输入，失败则停止本实例
	if err := sg.validate(candle, tick); err != nil {
		sg.halt(err, "candle")
		return
	}

	// 2. 生成信号，窗口未满时没有指令
	order := sg.strategy.OnCandle(candle, tick)
	if order == nil {
		return
	}

	// 3. 交给执行器记账
	shares, err := sg.executor.ExecuteOrder(sg.ctx, *order)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		sg.halt(err, "order")
		return
	}
	sg.orders++

	// 4. 采样 PnL
	pnl := sg.executor.PnL()
	sg.logger.Info("Order executed",
		zap.String("Side", order.Side.String()),
		zap.Float64("Price", order.Price),
		zap.Float64("Size", order.Size),
		zap.Float64("Filled", shares),
		zap.Float64("PnL", pnl))
}

func (sg *SignalGenerator) validate(candle model.Candle, tick model.Tick) error {
	if err := candle.Validate(); err != nil {
		return err
	}
	if err := tick.Validate(); err != nil {
		return err
	}
	if tick.Symbol != sg.symbol {
		return fmt.Errorf("%w: got %q", ErrSymbolMismatch, tick.Symbol)
	}
	return nil
}

func (sg *SignalGenerator) halt(err error, reason string) {
	sg.halted = err
	if sg.observer != nil {
		sg.observer.InputRejected(sg.symbol, reason)
	}
	sg.logger.Error("Strategy halted", zap.Error(err))
}

// Halted 返回导致停止的错误，正常运行时为 nil
func (sg *SignalGenerator) Halted() error {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.halted
}

// Stats 返回收到的 K 线数与成功下单数
func (sg *SignalGenerator) Stats() (candles, orders int) {
	sg.mu.Lock()
	defer sg.mu.Unlock()
	return sg.candles, sg.orders
}

// Strategy 返回被包装的策略
func (sg *SignalGenerator) Strategy() Strategy { return sg.strategy }
