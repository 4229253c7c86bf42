package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"candle-trader/internal/risk"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	require.NoError(t, BindFlags(fs, v))
	require.NoError(t, fs.Parse(args))
	return v
}

func TestLoadConfigDefaultsWithoutFile(t *testing.T) {
	v := newViper(t, "--exchanges=okx", "--symbols=BTC-USDT", "--strategies=sma")

	cfg, err := LoadConfig(v, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeLive, cfg.Mode)
	assert.Equal(t, 1000000.0, cfg.InitialBalance)
	assert.Equal(t, int64(1000), cfg.Candle.IntervalMs)
	assert.Equal(t, 10000, cfg.Candle.StoredLength)
	assert.True(t, cfg.Candle.SeedZeroPrice)
	assert.Equal(t, risk.KindNone, cfg.Risk.Kind)
	assert.Equal(t, 0.2, cfg.Risk.MaxAssetDownside)
	assert.Equal(t, "report.yaml", cfg.Report.Path)

	require.Len(t, cfg.Instances, 1)
	inst := cfg.Instances["okx-btc-usdt-sma"]
	assert.Equal(t, "okx", inst.Exchange)
	assert.Equal(t, "BTC-USDT", inst.Symbol)
	assert.Equal(t, DefaultSMAWindow, inst.Strategy.SMA.Window)
	assert.Equal(t, []string{"BTC-USDT"}, cfg.Symbols())
}

const configYAML = `
Mode: historic
InitialBalance: 100000
Candle:
  Interval: 500ms
  StoredLength: 50
  SeedZeroPrice: false
Risk:
  Kind: cppi
  MaxLossPercent: 0.05
Instances:
  btc:
    Exchange: OKX
    Symbol: BTC-USDT
    Strategy:
      Kind: rsi
      RSI:
        Window: 7
  eth:
    Exchange: binance
    Symbol: ethusdt
    Strategy:
      Kind: macd
`

func TestLoadConfigFromFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644))
	v := newViper(t, "--balance=5000")

	cfg, err := LoadConfig(v, dir)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ModeHistoric, cfg.Mode)
	assert.Equal(t, 5000.0, cfg.InitialBalance, "flag overrides file")
	assert.Equal(t, int64(500), cfg.Candle.IntervalMs)
	assert.Equal(t, 50, cfg.Candle.StoredLength)
	assert.False(t, cfg.Candle.SeedZeroPrice)
	assert.Equal(t, risk.KindCPPI, cfg.Risk.Kind)
	assert.Equal(t, 0.05, cfg.Risk.MaxLossPercent)
	assert.Equal(t, 0.2, cfg.Risk.MaxAssetDownside)

	btc := cfg.Instances["btc"]
	assert.Equal(t, "okx", btc.Exchange)
	assert.Equal(t, 7, btc.Strategy.RSI.Window)
	assert.Equal(t, DefaultRSISell, btc.Strategy.RSI.SellThreshold)
	eth := cfg.Instances["eth"]
	assert.Equal(t, "ETHUSDT", eth.Symbol, "binance symbols upper-cased")
	assert.Equal(t, DefaultMACDLong, eth.Strategy.MACD.LongWindow)
	assert.Equal(t, DefaultHurstThreshold, eth.Strategy.MACD.HurstThreshold)
}

func TestLoadConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("TRADER_INITIALBALANCE", "5000")
	t.Setenv("TRADER_RISK_KIND", "ratio")

	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadConfig(v, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.InitialBalance)
	assert.Equal(t, risk.KindRatio, cfg.Risk.Kind)
}

func TestLoadConfigRejectsUnequalLists(t *testing.T) {
	v := newViper(t, "--exchanges=okx,binance", "--symbols=BTC-USDT", "--strategies=sma")

	_, err := LoadConfig(v, t.TempDir())

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestInstancesFromListsNormalizesSymbols(t *testing.T) {
	got, err := InstancesFromLists([]string{"Binance", "okx"}, []string{"btcusdt", " BTC-USDT "}, []string{"sma", "sma"})
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", got["binance-btcusdt-sma"].Symbol)
	assert.Equal(t, "BTC-USDT", got["okx-btc-usdt-sma"].Symbol)
}

func TestInstancesFromListsRejectsDuplicates(t *testing.T) {
	_, err := InstancesFromLists([]string{"okx", "okx"}, []string{"X", "X"}, []string{"sma", "sma"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	got, err := InstancesFromLists([]string{"okx", "okx"}, []string{"X", "X"}, []string{"sma", "rsi"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func validConfig() *Config {
	return &Config{
		Mode:           ModeLive,
		InitialBalance: 1000,
		Candle:         CandleConfig{IntervalMs: 1000, StoredLength: 10},
		Risk:           risk.DefaultConfig(risk.KindNone),
		Instances: map[string]InstanceConfig{
			"a": {Exchange: ExchangeOKX, Symbol: "X", Strategy: StrategyConfig{Kind: StrategySMA}.WithDefaults()},
		},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"mode", func(c *Config) { c.Mode = "paper" }},
		{"balance", func(c *Config) { c.InitialBalance = 0 }},
		{"interval", func(c *Config) { c.Candle.IntervalMs = 0 }},
		{"stored length", func(c *Config) { c.Candle.StoredLength = -1 }},
		{"risk params", func(c *Config) { c.Risk = risk.Config{Kind: risk.KindCPPI} }},
		{"no instances", func(c *Config) { c.Instances = nil }},
		{"exchange", func(c *Config) {
			c.Instances["a"] = InstanceConfig{Exchange: "kraken", Symbol: "X", Strategy: StrategyConfig{Kind: StrategySMA}.WithDefaults()}
		}},
		{"strategy", func(c *Config) {
			c.Instances["a"] = InstanceConfig{Exchange: ExchangeOKX, Symbol: "X", Strategy: StrategyConfig{Kind: "vwap"}.WithDefaults()}
		}},
		{"rsi thresholds", func(c *Config) {
			s := StrategyConfig{Kind: StrategyRSI}
			s.RSI.BuyThreshold, s.RSI.SellThreshold = 80, 20
			c.Instances["a"] = InstanceConfig{Exchange: ExchangeOKX, Symbol: "X", Strategy: s.WithDefaults()}
		}},
	}
	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestValidateAcceptsUnknownRiskKind(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.Kind = "kelly"

	assert.NoError(t, cfg.Validate())
}

func TestValidateBookModeNeedsNoInstances(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = ModeBook
	cfg.Instances = nil
	cfg.Book.Symbol = "BTC-USDT"

	assert.NoError(t, cfg.Validate())
}

func TestRequireFloat(t *testing.T) {
	v, err := RequireFloat("px", "1.5")
	require.NoError(t, err)
	assert.Equal(t, 1.5, v)

	_, err = RequireFloat("px", " ")
	assert.ErrorContains(t, err, `missing field "px"`)
	_, err = RequireFloat("px", "abc")
	assert.Error(t, err)
	_, err = RequireInt64("ts", "")
	assert.Error(t, err)
}

func TestIntervals(t *testing.T) {
	for s, d := range map[string]time.Duration{
		"250ms": 250 * time.Millisecond,
		"1s":    time.Second,
		"5m":    5 * time.Minute,
		"1h":    time.Hour,
		"1d":    24 * time.Hour,
	} {
		got, err := ParseIntervalDuration(s)
		require.NoError(t, err, s)
		assert.Equal(t, d, got)
	}
	_, err := ParseIntervalDuration("0s")
	assert.Error(t, err)
	_, err = ParseIntervalDuration("10x")
	assert.Error(t, err)

	assert.Equal(t, "1s", FormatInterval(time.Second))
	assert.Equal(t, "500ms", FormatInterval(500*time.Millisecond))
	assert.Equal(t, "2h", FormatInterval(2*time.Hour))
}

func TestMetricsRecordEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.TickReceived("X")
	m.TickReceived("X")
	m.CandleClosed("X", 12.5)
	m.InputRejected("X", "tick")
	m.OrderRouted("X", "BUY")
	m.SharesBooked("X", "BUY", 3, 3, 970)
	m.PnLSampled(-1.5, 970)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticksTotal.WithLabelValues("X")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.candlesTotal.WithLabelValues("X")))
	assert.Equal(t, 12.5, testutil.ToFloat64(m.candlePrice.WithLabelValues("X")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejectedTotal.WithLabelValues("X", "tick")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ordersTotal.WithLabelValues("X", "BUY")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sharesFilled.WithLabelValues("X", "BUY")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.position.WithLabelValues("X")))
	assert.Equal(t, -1.5, testutil.ToFloat64(m.pnl))
	assert.Equal(t, 970.0, testutil.ToFloat64(m.balance))
}

type reportFixture struct {
	Balance   float64            `yaml:"balance"`
	Positions map[string]float64 `yaml:"positions"`
	History   []float64          `yaml:"history"`
}

func TestWriteReportRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "report.yaml")
	in := reportFixture{Balance: 950, Positions: map[string]float64{"X": 5}, History: []float64{0, 10}}

	require.NoError(t, WriteReport(path, in))

	var out reportFixture
	require.NoError(t, ReadReport(path, &out))
	assert.Equal(t, in, out)
	_, err := os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestInitLogger(t *testing.T) {
	InitLogger("debug")
	require.NotNil(t, Logger)
	assert.True(t, Logger.Core().Enabled(-1))

	InitLogger("not-a-level")
	assert.False(t, Logger.Core().Enabled(-1))
}
