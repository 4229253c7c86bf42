package model

import "fmt"

// Side 定义了策略层向账本发出的指令类型
type Side string

const (
	SideBuy       Side = "BUY"       // 买入
	SideSell      Side = "SELL"      // 卖出
	SideRebalance Side = "REBALANCE" // 按风控上限减仓
)

func (s Side) String() string {
	return string(s)
}

// Valid 判断是否为已知指令类型
func (s Side) Valid() bool {
	switch s {
	case SideBuy, SideSell, SideRebalance:
		return true
	}
	return false
}

// Order 是策略产生、账本同步消费的一次性指令，不做持久化
type Order struct {
	Side   Side
	Price  float64 // 执行价格 (买用 ask，卖用 bid)
	Size   float64 // 盘口可成交数量上限
	Symbol string
}

func (o Order) String() string {
	return fmt.Sprintf("ORDER [%s] %s @ %.4f | Size: %.4f", o.Side, o.Symbol, o.Price, o.Size)
}
