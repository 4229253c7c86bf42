// internal/service/config.go
package service

import (
	"errors"
	"fmt"
	"strings"

	"candle-trader/internal/risk"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrInvalidConfig 表示运行配置不合法
var ErrInvalidConfig = errors.New("invalid config")

// 运行模式
const (
	ModeLive     = "live"
	ModeHistoric = "historic"
	ModeDownload = "download"
	ModeBook     = "book"
)

// 支持的交易所
const (
	ExchangeOKX      = "okx"
	ExchangeBinance  = "binance"
	ExchangeCoinbase = "coinbase"
)

// 支持的策略
const (
	StrategySMA  = "sma"
	StrategyRSI  = "rsi"
	StrategyMACD = "macd"
)

// 策略默认参数
const (
	DefaultSMAWindow      = 14
	DefaultRSIWindow      = 14
	DefaultRSIBuy         = 30.0
	DefaultRSISell        = 70.0
	DefaultMACDLong       = 26
	DefaultMACDShort      = 12
	DefaultMACDSignal     = 9
	DefaultHurstWindow    = 100
	DefaultHurstThreshold = 0.6
)

type InstanceConfig struct {
	Exchange string
	Symbol   string
	Strategy StrategyConfig
}

type Config struct {
	Mode           string                    `mapstructure:"Mode"`
	LogLevel       string                    `mapstructure:"LogLevel"`
	InitialBalance float64                   `mapstructure:"InitialBalance"`
	HistoricalDir  string                    `mapstructure:"HistoricalDir"`
	Candle         CandleConfig              `mapstructure:"Candle"`
	Risk           risk.Config               `mapstructure:"Risk"`
	Exchanges      map[string]ExchangeConfig `mapstructure:"Exchanges"`
	Instances      map[string]InstanceConfig `mapstructure:"Instances"`
	Server         ServerConfig              `mapstructure:"Server"`
	Report         ReportConfig              `mapstructure:"Report"`
	Book           BookConfig                `mapstructure:"Book"`
}

// CandleConfig 定义了 K 线聚合参数
type CandleConfig struct {
	Interval      string // 可选，如 "1s"、"500ms"，设置后覆盖 IntervalMs
	IntervalMs    int64
	StoredLength  int
	SeedZeroPrice bool // 第一根 K 线是否带预置的 0.0 价格
}

// ExchangeConfig 定义了交易所的连接信息
type ExchangeConfig struct {
	WSURL string
}

// StrategyConfig 定义了策略启动参数
type StrategyConfig struct {
	Kind string
	SMA  struct {
		Window int
	}
	RSI struct {
		Window        int
		BuyThreshold  float64
		SellThreshold float64
	}
	MACD struct {
		LongWindow     int
		ShortSpan      int
		SignalSpan     int
		HurstWindow    int
		HurstThreshold float64
	}
}

// ServerConfig 定义报告 HTTP 服务
type ServerConfig struct {
	Enabled bool
	Addr    string
}

// ReportConfig 定义退出时写出的报告
type ReportConfig struct {
	Path string
}

// BookConfig 定义 book 模式订阅的深度行情
type BookConfig struct {
	Exchange string
	Symbol   string
}

// WithDefaults 为未设置 (零值) 的策略参数填充默认值
func (s StrategyConfig) WithDefaults() StrategyConfig {
	s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
	if s.SMA.Window == 0 {
		s.SMA.Window = DefaultSMAWindow
	}
	if s.RSI.Window == 0 {
		s.RSI.Window = DefaultRSIWindow
	}
	if s.RSI.BuyThreshold == 0 {
		s.RSI.BuyThreshold = DefaultRSIBuy
	}
	if s.RSI.SellThreshold == 0 {
		s.RSI.SellThreshold = DefaultRSISell
	}
	if s.MACD.LongWindow == 0 {
		s.MACD.LongWindow = DefaultMACDLong
	}
	if s.MACD.ShortSpan == 0 {
		s.MACD.ShortSpan = DefaultMACDShort
	}
	if s.MACD.SignalSpan == 0 {
		s.MACD.SignalSpan = DefaultMACDSignal
	}
	if s.MACD.HurstWindow == 0 {
		s.MACD.HurstWindow = DefaultHurstWindow
	}
	if s.MACD.HurstThreshold == 0 {
		s.MACD.HurstThreshold = DefaultHurstThreshold
	}
	return s
}

// SetDefaults 注册全部默认值
func SetDefaults(v *viper.Viper) {
	v.SetDefault("Mode", ModeLive)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("InitialBalance", 1000000.0)
	v.SetDefault("HistoricalDir", "historical_data")
	v.SetDefault("Candle.IntervalMs", 1000)
	v.SetDefault("Candle.StoredLength", 10000)
	v.SetDefault("Candle.SeedZeroPrice", true)
	v.SetDefault("Risk.Kind", string(risk.KindNone))
	v.SetDefault("Risk.MaxLossPercent", 0.1)
	v.SetDefault("Risk.MaxAssetDownside", 0.2)
	v.SetDefault("Risk.Ratio", 0.3)
	v.SetDefault("Exchanges.okx.WSURL", "wss://ws.okx.com:8443/ws/v5/public")
	v.SetDefault("Exchanges.binance.WSURL", "wss://stream.binance.com:9443/stream")
	v.SetDefault("Exchanges.coinbase.WSURL", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("Server.Enabled", false)
	v.SetDefault("Server.Addr", ":8080")
	v.SetDefault("Report.Path", "report.yaml")
	v.SetDefault("Book.Exchange", ExchangeOKX)
	v.SetDefault("Book.Symbol", "BTC-USDT")
}

// BindFlags 注册命令行参数，并绑定到 viper 对应的配置项 (命令行优先于配置文件)
func BindFlags(fs *pflag.FlagSet, v *viper.Viper) error {
	fs.String("config", "config", "directory containing config.yaml")
	fs.String("mode", ModeLive, "run mode: live|historic|download|book")
	fs.StringSlice("exchanges", nil, "comma separated exchanges, one per instance")
	fs.StringSlice("symbols", nil, "comma separated symbols, one per instance")
	fs.StringSlice("strategies", nil, "comma separated strategies (sma|rsi|macd), one per instance")
	fs.String("risk", string(risk.KindNone), "risk manager: none|cppi|tipp|ratio")
	fs.Float64("balance", 1000000, "initial balance")
	fs.String("log-level", "info", "log level")
	fs.String("book-symbol", "BTC-USDT", "symbol for book mode")

	bindings := map[string]string{
		"Mode":           "mode",
		"Risk.Kind":      "risk",
		"InitialBalance": "balance",
		"LogLevel":       "log-level",
		"Book.Symbol":    "book-symbol",
		"exchanges":      "exchanges",
		"symbols":        "symbols",
		"strategies":     "strategies",
		"config":         "config",
	}
	for key, name := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// EnvPrefix 环境变量前缀，例如 TRADER_RISK_KIND=cppi
const EnvPrefix = "TRADER"

// LoadConfig 读取 configPath 目录下的 config.yaml (可缺省) 并解析为 Config。
// 优先级: 命令行 > 环境变量 > 配置文件 > 默认值。
// 命令行给出的 exchanges/symbols/strategies 列表会替换配置文件中的 Instances。
func LoadConfig(v *viper.Viper, configPath string) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 设置配置文件的名称、类型和路径
	v.SetConfigName("config") // 文件名是 config
	v.SetConfigType("yaml")   // 文件类型是 yaml
	v.AddConfigPath(configPath)

	// 查找并读取配置文件，找不到时只使用默认值与命令行
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	exchanges := v.GetStringSlice("exchanges")
	symbols := v.GetStringSlice("symbols")
	strategies := v.GetStringSlice("strategies")
	if len(exchanges)+len(symbols)+len(strategies) > 0 {
		instances, err := InstancesFromLists(exchanges, symbols, strategies)
		if err != nil {
			return nil, err
		}
		cfg.Instances = instances
	}

	if cfg.Candle.Interval != "" {
		d, err := ParseIntervalDuration(cfg.Candle.Interval)
		if err != nil {
			return nil, fmt.Errorf("%w: Candle.Interval: %v", ErrInvalidConfig, err)
		}
		cfg.Candle.IntervalMs = d.Milliseconds()
	}

	for name, inst := range cfg.Instances {
		inst.Exchange = strings.ToLower(strings.TrimSpace(inst.Exchange))
		inst.Symbol = NormalizeSymbol(inst.Exchange, inst.Symbol)
		inst.Strategy = inst.Strategy.WithDefaults()
		cfg.Instances[name] = inst
	}
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))

	return &cfg, nil
}

// NormalizeSymbol 去掉空白；Binance 推送的 Symbol 是大写，配置里统一转成大写
func NormalizeSymbol(exchange, symbol string) string {
	symbol = strings.TrimSpace(symbol)
	if exchange == ExchangeBinance {
		return strings.ToUpper(symbol)
	}
	return symbol
}

// InstancesFromLists 把等长的三个列表组装成实例配置，第 i 个实例命名为 "<exchange>-<symbol>-<strategy>"
func InstancesFromLists(exchanges, symbols, strategies []string) (map[string]InstanceConfig, error) {
	if len(exchanges) != len(symbols) || len(symbols) != len(strategies) {
		return nil, fmt.Errorf("%w: exchanges (%d), symbols (%d) and strategies (%d) must have equal length",
			ErrInvalidConfig, len(exchanges), len(symbols), len(strategies))
	}
	out := make(map[string]InstanceConfig, len(symbols))
	for i := range symbols {
		inst := InstanceConfig{
			Exchange: strings.ToLower(strings.TrimSpace(exchanges[i])),
			Strategy: StrategyConfig{Kind: strategies[i]}.WithDefaults(),
		}
		inst.Symbol = NormalizeSymbol(inst.Exchange, symbols[i])
		name := strings.ToLower(fmt.Sprintf("%s-%s-%s", inst.Exchange, inst.Symbol, inst.Strategy.Kind))
		if _, dup := out[name]; dup {
			return nil, fmt.Errorf("%w: duplicate instance %s", ErrInvalidConfig, name)
		}
		out[name] = inst
	}
	return out, nil
}

// Symbols 返回全部实例涉及的 Symbol (去重)
func (c *Config) Symbols() []string {
	seen := make(map[string]bool)
	var out []string
	for _, inst := range c.Instances {
		if !seen[inst.Symbol] {
			seen[inst.Symbol] = true
			out = append(out, inst.Symbol)
		}
	}
	return out
}

// Validate 检查配置的合法性，所有错误都包装 ErrInvalidConfig
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeLive, ModeHistoric, ModeDownload, ModeBook:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: InitialBalance must be > 0", ErrInvalidConfig)
	}
	if c.Candle.IntervalMs <= 0 {
		return fmt.Errorf("%w: Candle.IntervalMs must be > 0", ErrInvalidConfig)
	}
	if c.Candle.StoredLength <= 0 {
		return fmt.Errorf("%w: Candle.StoredLength must be > 0", ErrInvalidConfig)
	}
	if _, err := risk.NewManager(c.Risk); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Mode == ModeBook {
		if c.Book.Symbol == "" {
			return fmt.Errorf("%w: Book.Symbol is required in book mode", ErrInvalidConfig)
		}
		return nil
	}
	if len(c.Instances) == 0 {
		return fmt.Errorf("%w: no instances configured", ErrInvalidConfig)
	}
	for name, inst := range c.Instances {
		if err := inst.validate(); err != nil {
			return fmt.Errorf("%w: instance %s: %v", ErrInvalidConfig, name, err)
		}
	}
	return nil
}

func (inst InstanceConfig) validate() error {
	switch inst.Exchange {
	case ExchangeOKX, ExchangeBinance, ExchangeCoinbase:
	default:
		return fmt.Errorf("unknown exchange %q", inst.Exchange)
	}
	if inst.Symbol == "" {
		return errors.New("empty symbol")
	}
	s := inst.Strategy
	switch s.Kind {
	case StrategySMA:
		if s.SMA.Window <= 0 {
			return errors.New("SMA.Window must be > 0")
		}
	case StrategyRSI:
		if s.RSI.Window <= 0 {
			return errors.New("RSI.Window must be > 0")
		}
		if s.RSI.BuyThreshold >= s.RSI.SellThreshold {
			return errors.New("RSI.BuyThreshold must be below RSI.SellThreshold")
		}
	case StrategyMACD:
		if s.MACD.LongWindow < 2 || s.MACD.ShortSpan <= 0 || s.MACD.SignalSpan <= 0 {
			return errors.New("MACD windows must be positive and LongWindow >= 2")
		}
		if s.MACD.HurstWindow <= 0 {
			return errors.New("MACD.HurstWindow must be > 0")
		}
	default:
		return fmt.Errorf("unknown strategy %q", s.Kind)
	}
	return nil
}
