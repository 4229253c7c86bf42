package strategy

import (
	"fmt"

	"candle-trader/internal/model"
	"candle-trader/internal/service"
)

// Strategy 根据收盘 K 线给出一条指令；窗口未满时返回 nil
type Strategy interface {
	Name() string
	OnCandle(candle model.Candle, tick model.Tick) *model.Order
}

// Build 根据配置创建策略实例，每个 (symbol, strategy) 一个，不共享状态
func Build(cfg service.StrategyConfig) (Strategy, error) {
	cfg = cfg.WithDefaults()
	switch cfg.Kind {
	case service.StrategySMA:
		return NewSMAStrategy(cfg.SMA.Window), nil
	case service.StrategyRSI:
		return NewRSIStrategy(cfg.RSI.Window, cfg.RSI.BuyThreshold, cfg.RSI.SellThreshold), nil
	case service.StrategyMACD:
		return NewMACDHurstStrategy(MACDParams{
			LongWindow:     cfg.MACD.LongWindow,
			ShortSpan:      cfg.MACD.ShortSpan,
			SignalSpan:     cfg.MACD.SignalSpan,
			HurstWindow:    cfg.MACD.HurstWindow,
			HurstThreshold: cfg.MACD.HurstThreshold,
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", service.ErrInvalidConfig, cfg.Kind)
	}
}

// buyAt 以卖一价买入
func buyAt(t model.Tick) *model.Order {
	return &model.Order{Side: model.SideBuy, Price: t.AskPrice, Size: t.AskSize, Symbol: t.Symbol}
}

// sellAt 以买一价卖出
func sellAt(t model.Tick) *model.Order {
	return &model.Order{Side: model.SideSell, Price: t.BidPrice, Size: t.BidSize, Symbol: t.Symbol}
}

func rebalanceAt(t model.Tick) *model.Order {
	return &model.Order{Side: model.SideRebalance, Price: t.AskPrice, Size: t.AskSize, Symbol: t.Symbol}
}
