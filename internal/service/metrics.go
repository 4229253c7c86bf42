package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 用 Prometheus 记录数据层与账本的运行指标
type Metrics struct {
	ticksTotal    *prometheus.CounterVec
	rejectedTotal *prometheus.CounterVec
	candlesTotal  *prometheus.CounterVec
	candlePrice   *prometheus.GaugeVec
	ordersTotal   *prometheus.CounterVec
	sharesFilled  *prometheus.CounterVec
	position      *prometheus.GaugeVec
	balance       prometheus.Gauge
	pnl           prometheus.Gauge
}

// NewMetrics 在 reg 上注册全部指标；reg 为 nil 时使用默认注册表
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ticksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_ticks_total", Help: "Count of normalized ticks accepted"},
			[]string{"symbol"},
		),
		rejectedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_rejected_inputs_total", Help: "Malformed ticks, candles and orders rejected"},
			[]string{"symbol", "reason"},
		),
		candlesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_candles_total", Help: "Candles closed"},
			[]string{"symbol"},
		),
		candlePrice: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "trader_candle_price", Help: "Average price of the last closed candle"},
			[]string{"symbol"},
		),
		ordersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_orders_total", Help: "Orders routed to the portfolio ledger"},
			[]string{"symbol", "side"},
		),
		sharesFilled: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "trader_shares_filled_total", Help: "Shares booked by the portfolio ledger"},
			[]string{"symbol", "side"},
		),
		position: factory.NewGaugeVec(
			prometheus.GaugeOpts{Name: "trader_net_position", Help: "Net position per symbol"},
			[]string{"symbol"},
		),
		balance: factory.NewGauge(prometheus.GaugeOpts{Name: "trader_balance", Help: "Cash balance"}),
		pnl:     factory.NewGauge(prometheus.GaugeOpts{Name: "trader_pnl", Help: "Last sampled portfolio PnL"}),
	}
}

// TickReceived 记录一笔通过校验的 Tick
func (m *Metrics) TickReceived(symbol string) {
	m.ticksTotal.WithLabelValues(symbol).Inc()
}

// CandleClosed 记录一根收盘 K 线
func (m *Metrics) CandleClosed(symbol string, price float64) {
	m.candlesTotal.WithLabelValues(symbol).Inc()
	m.candlePrice.WithLabelValues(symbol).Set(price)
}

// InputRejected 记录被拒绝的输入
func (m *Metrics) InputRejected(symbol, reason string) {
	m.rejectedTotal.WithLabelValues(symbol, reason).Inc()
}

// OrderRouted 记录一条送到账本的指令
func (m *Metrics) OrderRouted(symbol, side string) {
	m.ordersTotal.WithLabelValues(symbol, side).Inc()
}

// SharesBooked 记录账本实际成交的股数
func (m *Metrics) SharesBooked(symbol, side string, shares, netPosition, balance float64) {
	m.sharesFilled.WithLabelValues(symbol, side).Add(shares)
	m.position.WithLabelValues(symbol).Set(netPosition)
	m.balance.Set(balance)
}

// PnLSampled 记录最新的 PnL 采样
func (m *Metrics) PnLSampled(pnl, balance float64) {
	m.pnl.Set(pnl)
	m.balance.Set(balance)
}
