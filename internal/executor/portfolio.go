package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"candle-trader/internal/model"
	"candle-trader/internal/risk"

	"go.uber.org/zap"
)

// Snapshot 是账本的只读副本
type Snapshot struct {
	InitialBalance       float64              `json:"initial_balance" yaml:"initial_balance"`
	Balance              float64              `json:"balance" yaml:"balance"`
	PnL                  float64              `json:"pnl" yaml:"pnl"`
	RiskKind             risk.Kind            `json:"risk_kind" yaml:"risk_kind"`
	Positions            map[string]float64   `json:"positions" yaml:"positions"`
	MarkPrices           map[string]float64   `json:"mark_prices" yaml:"mark_prices"`
	PnLHistory           []float64            `json:"pnl_history" yaml:"pnl_history"`
	PositionValueHistory map[string][]float64 `json:"position_value_history" yaml:"position_value_history"`
}

// Option 配置 PortfolioManager
type Option func(*PortfolioManager)

// WithObserver 设置账本事件的接收方 (通常是 Prometheus 指标)
func WithObserver(o LedgerObserver) Option {
	return func(pm *PortfolioManager) {
		if o != nil {
			pm.observer = o
		}
	}
}

// PortfolioManager 是所有策略共享的账本。
// 余额、净持仓、标记价格的每次修改都在同一把 (不可重入的) 锁内完成。
type PortfolioManager struct {
	mu sync.Mutex

	initialBalance float64
	balance        float64
	risk           risk.Manager

	netPosition          map[string]float64
	markPrice            map[string]float64
	pnlHistory           []float64
	positionValueHistory map[string][]float64
	closed               bool

	logger   *zap.Logger
	observer LedgerObserver

	// Rebalance 释放锁之后、调用 SellFixed 之前执行
	afterRiskCheck func()
}

// NewPortfolioManager 创建账本，symbols 中的品种以 0 持仓预先登记
func NewPortfolioManager(initialBalance float64, rm risk.Manager, symbols []string, logger *zap.Logger, opts ...Option) *PortfolioManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	pm := &PortfolioManager{
		initialBalance:       initialBalance,
		balance:              initialBalance,
		risk:                 rm,
		netPosition:          make(map[string]float64, len(symbols)),
		markPrice:            make(map[string]float64, len(symbols)),
		positionValueHistory: make(map[string][]float64, len(symbols)),
		logger:               logger,
		observer:             nopLedgerObserver{},
	}
	for _, s := range symbols {
		pm.netPosition[s] = 0
		pm.markPrice[s] = 0
	}
	for _, opt := range opts {
		opt(pm)
	}
	return pm
}

// ExecuteOrder 校验指令后按方向分派到 Buy / Sell / Rebalance
func (pm *PortfolioManager) ExecuteOrder(ctx context.Context, order model.Order) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateOrder(order); err != nil {
		return 0, err
	}
	pm.observer.OrderRouted(order.Symbol, order.Side.String())

	switch order.Side {
	case model.SideBuy:
		return pm.Buy(order.Price, order.Size, order.Symbol), nil
	case model.SideSell:
		return pm.Sell(order.Price, order.Size, order.Symbol), nil
	default:
		return pm.Rebalance(order.Price, order.Size, order.Symbol), nil
	}
}

func validateOrder(o model.Order) error {
	switch {
	case o.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case !o.Side.Valid():
		return fmt.Errorf("%w: unknown side %q", ErrInvalidOrder, o.Side)
	case math.IsNaN(o.Price) || math.IsInf(o.Price, 0) || o.Price <= 0:
		return fmt.Errorf("%w: price %v", ErrInvalidOrder, o.Price)
	case math.IsNaN(o.Size) || math.IsInf(o.Size, 0) || o.Size < 0:
		return fmt.Errorf("%w: size %v", ErrInvalidOrder, o.Size)
	}
	return nil
}

// Buy 按 min(size, 余额上限, 风控上限 - 当前持仓) 买入，返回成交股数
func (pm *PortfolioManager) Buy(price, size float64, symbol string) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.markPrice[symbol] = price

	balanceLimit := pm.balance / price
	riskLimit, ok := pm.riskLimitLocked(price)
	if !ok {
		riskLimit = balanceLimit
	}
	riskLimit -= pm.netPosition[symbol]

	shares := math.Max(0, math.Min(size, math.Min(balanceLimit, riskLimit)))
	pm.balance -= shares * price
	pm.netPosition[symbol] += shares

	pm.logger.Debug("Bought",
		zap.String("Symbol", symbol),
		zap.Float64("Shares", shares),
		zap.Float64("Price", price),
		zap.Float64("Balance", pm.balance))
	pm.observer.SharesBooked(symbol, model.SideBuy.String(), shares, pm.netPosition[symbol], pm.balance)
	return shares
}

// Sell 按 min(size, 风控上限 + 当前持仓) 卖出；无风控时上限为 0，只能平掉多头
func (pm *PortfolioManager) Sell(price, size float64, symbol string) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.markPrice[symbol] = price

	riskLimit, _ := pm.riskLimitLocked(price)
	riskLimit += pm.netPosition[symbol]

	shares := math.Max(0, math.Min(size, riskLimit))
	pm.sellLocked(price, shares, symbol)
	return shares
}

// SellFixed 不经过风控，直接卖出 shares 股 (负数按 0 处理)
func (pm *PortfolioManager) SellFixed(price, shares float64, symbol string) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.markPrice[symbol] = price
	shares = math.Max(0, shares)
	pm.sellLocked(price, shares, symbol)
	return shares
}

func (pm *PortfolioManager) sellLocked(price, shares float64, symbol string) {
	pm.balance += shares * price
	pm.netPosition[symbol] -= shares

	pm.logger.Debug("Sold",
		zap.String("Symbol", symbol),
		zap.Float64("Shares", shares),
		zap.Float64("Price", price),
		zap.Float64("Balance", pm.balance))
	pm.observer.SharesBooked(symbol, model.SideSell.String(), shares, pm.netPosition[symbol], pm.balance)
}

// Rebalance 在持仓超过风控上限时卖出超出部分 (至多 size 股)。
// 风控检查后先释放锁，再通过独立加锁的 SellFixed 卖出，
// 两步之间其他品种的买卖可能插入。无风控时不做任何修改。
func (pm *PortfolioManager) Rebalance(price, size float64, symbol string) float64 {
	pm.mu.Lock()
	pm.markPrice[symbol] = price

	riskLimit, ok := pm.riskLimitLocked(price)
	net := pm.netPosition[symbol]
	if !ok || net <= riskLimit {
		pm.mu.Unlock()
		pm.logger.Debug("Rebalance: no shares sold",
			zap.String("Symbol", symbol),
			zap.Float64("Position", net),
			zap.Float64("RiskLimit", riskLimit))
		return 0
	}
	fixed := math.Min(net-riskLimit, size)
	pm.mu.Unlock()

	if pm.afterRiskCheck != nil {
		pm.afterRiskCheck()
	}

	sold := pm.SellFixed(price, fixed, symbol)
	pm.logger.Debug("Rebalance: sold down to risk limit",
		zap.String("Symbol", symbol),
		zap.Float64("Shares", sold),
		zap.Float64("RiskLimit", riskLimit))
	return sold
}

// riskLimitLocked 返回以股数计的风控上限，调用方必须持有锁
func (pm *PortfolioManager) riskLimitLocked(price float64) (float64, bool) {
	allocated, ok := pm.risk.Allocated(risk.State{
		PnL:            pm.currentPnLLocked(),
		Balance:        pm.balance,
		InitialBalance: pm.initialBalance,
	})
	if !ok {
		return 0, false
	}
	return allocated / price, true
}

// PnL 计算并记录当前 PnL：每个品种的持仓市值追加到持仓价值序列，PnL 追加到 PnL 序列
func (pm *PortfolioManager) PnL() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.sampleLocked()
}

func (pm *PortfolioManager) sampleLocked() float64 {
	assetValue := 0.0
	for symbol, net := range pm.netPosition {
		value := net * pm.markPrice[symbol]
		pm.positionValueHistory[symbol] = append(pm.positionValueHistory[symbol], value)
		assetValue += value
	}
	pnl := pm.balance + assetValue - pm.initialBalance
	pm.pnlHistory = append(pm.pnlHistory, pnl)
	pm.observer.PnLSampled(pnl, pm.balance)
	return pnl
}

// CurrentPnL 返回当前 PnL，不追加任何序列
func (pm *PortfolioManager) CurrentPnL() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.currentPnLLocked()
}

func (pm *PortfolioManager) currentPnLLocked() float64 {
	assetValue := 0.0
	for symbol, net := range pm.netPosition {
		assetValue += net * pm.markPrice[symbol]
	}
	return pm.balance + assetValue - pm.initialBalance
}

// Balance 返回可用余额
func (pm *PortfolioManager) Balance() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.balance
}

// Position 返回品种的净持仓
func (pm *PortfolioManager) Position(symbol string) float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.netPosition[symbol]
}

// PnLHistory 返回 PnL 序列的副本
func (pm *PortfolioManager) PnLHistory() []float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]float64, len(pm.pnlHistory))
	copy(out, pm.pnlHistory)
	return out
}

// PositionValueHistory 返回各品种持仓价值序列的副本
func (pm *PortfolioManager) PositionValueHistory() map[string][]float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.copyPositionValuesLocked()
}

func (pm *PortfolioManager) copyPositionValuesLocked() map[string][]float64 {
	out := make(map[string][]float64, len(pm.positionValueHistory))
	for symbol, values := range pm.positionValueHistory {
		out[symbol] = append([]float64(nil), values...)
	}
	return out
}

// Symbols 返回账本中出现过的品种 (已排序)
func (pm *PortfolioManager) Symbols() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]string, 0, len(pm.netPosition))
	for s := range pm.netPosition {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshot 返回账本当前状态的副本，不追加序列
func (pm *PortfolioManager) Snapshot() Snapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.snapshotLocked()
}

func (pm *PortfolioManager) snapshotLocked() Snapshot {
	positions := make(map[string]float64, len(pm.netPosition))
	for s, v := range pm.netPosition {
		positions[s] = v
	}
	marks := make(map[string]float64, len(pm.markPrice))
	for s, v := range pm.markPrice {
		marks[s] = v
	}
	return Snapshot{
		InitialBalance:       pm.initialBalance,
		Balance:              pm.balance,
		PnL:                  pm.currentPnLLocked(),
		RiskKind:             pm.risk.Kind(),
		Positions:            positions,
		MarkPrices:           marks,
		PnLHistory:           append([]float64(nil), pm.pnlHistory...),
		PositionValueHistory: pm.copyPositionValuesLocked(),
	}
}

// Close 记录最后一次 PnL 采样并返回最终快照；重复调用不再采样
func (pm *PortfolioManager) Close() Snapshot {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if !pm.closed {
		pm.closed = true
		pnl := pm.sampleLocked()
		pm.logger.Info("Portfolio closed",
			zap.Float64("PnL", pnl),
			zap.Float64("Balance", pm.balance))
	}
	return pm.snapshotLocked()
}
