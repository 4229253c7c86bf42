// Package risk 实现组合账本使用的仓位分配规则 (CPPI / TIPP / Ratio / None)。
// 所有函数都是当前 PnL 与余额的纯函数，返回以货币计价的可分配资金，
// 调用方再除以执行价格换算成股数。
package risk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParams 表示风控参数非法
var ErrInvalidParams = errors.New("invalid risk parameters")

// Kind 是风控规则的标签，构造时确定
type Kind string

const (
	KindNone  Kind = "none"
	KindCPPI  Kind = "cppi"
	KindTIPP  Kind = "tipp"
	KindRatio Kind = "ratio"
)

// ParseKind 解析风控类型；无法识别的类型按 KindNone 处理，ok 为 false
func ParseKind(s string) (Kind, bool) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCPPI, KindTIPP, KindRatio, KindNone:
		return k, true
	case "":
		return KindNone, true
	default:
		return KindNone, false
	}
}

// Config 风控规则及其参数
type Config struct {
	Kind             Kind    `mapstructure:"Kind" yaml:"kind"`
	MaxLossPercent   float64 `mapstructure:"MaxLossPercent" yaml:"max_loss_percent"`     // 允许的最大亏损比例 (CPPI/TIPP)
	MaxAssetDownside float64 `mapstructure:"MaxAssetDownside" yaml:"max_asset_downside"` // 资产最大下跌幅度，乘数 = 1/MaxAssetDownside
	Ratio            float64 `mapstructure:"Ratio" yaml:"ratio"`                         // 余额分配比例 (Ratio)
}

// DefaultConfig 返回默认参数
func DefaultConfig(kind Kind) Config {
	return Config{
		Kind:             kind,
		MaxLossPercent:   0.1,
		MaxAssetDownside: 0.2,
		Ratio:            0.3,
	}
}

// State 是计算分配资金所需的账本快照
type State struct {
	PnL            float64
	Balance        float64
	InitialBalance float64
}

// Manager 是构造时解析好的风控规则
type Manager struct {
	cfg Config
}

// NewManager 校验参数并创建 Manager。
// 无法识别的类型不报错，按 KindNone 处理 (买入只受余额限制，卖出上限为 0)。
func NewManager(cfg Config) (Manager, error) {
	kind, _ := ParseKind(string(cfg.Kind))
	cfg.Kind = kind

	switch kind {
	case KindCPPI, KindTIPP:
		if cfg.MaxAssetDownside <= 0 {
			return Manager{}, fmt.Errorf("%w: MaxAssetDownside must be > 0, got %v", ErrInvalidParams, cfg.MaxAssetDownside)
		}
		if cfg.MaxLossPercent < 0 {
			return Manager{}, fmt.Errorf("%w: MaxLossPercent must be >= 0, got %v", ErrInvalidParams, cfg.MaxLossPercent)
		}
	case KindRatio:
		if cfg.Ratio < 0 {
			return Manager{}, fmt.Errorf("%w: Ratio must be >= 0, got %v", ErrInvalidParams, cfg.Ratio)
		}
	}
	return Manager{cfg: cfg}, nil
}

// Kind 返回规则类型
func (m Manager) Kind() Kind {
	if m.cfg.Kind == "" {
		return KindNone
	}
	return m.cfg.Kind
}

// Config 返回规则参数
func (m Manager) Config() Config { return m.cfg }

// Allocated 返回可分配资金；KindNone 时 ok 为 false，由调用方决定回退规则
func (m Manager) Allocated(s State) (allocated float64, ok bool) {
	switch m.Kind() {
	case KindCPPI:
		return CPPI(s.PnL, s.InitialBalance, m.cfg.MaxLossPercent, m.cfg.MaxAssetDownside), true
	case KindTIPP:
		return TIPP(s.PnL, s.InitialBalance, m.cfg.MaxLossPercent, m.cfg.MaxAssetDownside), true
	case KindRatio:
		return Ratio(s.Balance, m.cfg.Ratio), true
	default:
		return 0, false
	}
}

// CPPI (Constant Proportion Portfolio Insurance):
// cushion = pnl + initial*maxLoss，allocated = cushion / maxDownside
func CPPI(pnl, initialBalance, maxLossPercent, maxAssetDownside float64) float64 {
	multiplier := 1 / maxAssetDownside
	cushion := pnl + initialBalance*maxLossPercent
	return cushion * multiplier
}

// TIPP (Time Invariant Protection Portfolio):
// cushion = (pnl + initial)*maxLoss，allocated = cushion / maxDownside
func TIPP(pnl, initialBalance, maxLossPercent, maxAssetDownside float64) float64 {
	multiplier := 1 / maxAssetDownside
	cushion := (pnl + initialBalance) * maxLossPercent
	return cushion * multiplier
}

// Ratio 按剩余余额的固定比例分配
func Ratio(balance, ratio float64) float64 {
	return balance * ratio
}
