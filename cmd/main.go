package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"candle-trader/internal/api"
	"candle-trader/internal/executor"
	"candle-trader/internal/model"
	"candle-trader/internal/orderbook"
	"candle-trader/internal/risk"
	"candle-trader/internal/service"
	"candle-trader/internal/strategy"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. 命令行 + 环境变量 (.env 可缺省) + 配置文件
	_ = godotenv.Load()
	v := viper.New()
	service.SetDefaults(v)
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	if err := service.BindFlags(fs, v); err != nil {
		log.Fatalf("Unable to bind flags: %s", err)
	}
	_ = fs.Parse(os.Args[1:])

	cfg, err := service.LoadConfig(v, v.GetString("config"))
	if err != nil {
		log.Fatalf("Unable to load config: %s", err)
	}

	service.InitLogger(cfg.LogLevel)
	defer service.Logger.Sync()

	if err := cfg.Validate(); err != nil {
		service.Logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. 指标注册表 (/metrics 使用)
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(reg)

	service.Logger.Info("Starting",
		zap.String("Mode", cfg.Mode),
		zap.String("CandleInterval", service.FormatInterval(time.Duration(cfg.Candle.IntervalMs)*time.Millisecond)),
		zap.Int("Instances", len(cfg.Instances)))

	switch cfg.Mode {
	case service.ModeBook:
		err = runBook(ctx, cfg, reg)
	case service.ModeDownload:
		err = runDownload(ctx, cfg, metrics)
	default:
		err = runTrading(ctx, cfg, metrics, reg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		service.Logger.Error("Exited with error", zap.Error(err))
		os.Exit(1)
	}
}

// runTrading 运行 live / historic 模式：Tick -> K 线 -> 信号 -> 共享账本
func runTrading(ctx context.Context, cfg *service.Config, metrics *service.Metrics, reg *prometheus.Registry) error {
	// 1. 风控与共享账本
	if _, ok := risk.ParseKind(string(cfg.Risk.Kind)); !ok {
		service.Logger.Warn("Unknown risk manager, trading without one", zap.String("Risk", string(cfg.Risk.Kind)))
	}
	rm, err := risk.NewManager(cfg.Risk)
	if err != nil {
		return err
	}
	portfolio := executor.NewPortfolioManager(cfg.InitialBalance, rm, cfg.Symbols(), service.Logger, executor.WithObserver(metrics))

	// 2. 每个交易所一个 K 线引擎，不同交易所的同名 Symbol 不会混在一根 K 线里
	engines := newEngines(cfg, metrics)

	// 3. 每个 (exchange, symbol, strategy) 一个信号生成器，挂到对应的 K 线源上
	if _, err := registerInstances(ctx, cfg, engines, portfolio, metrics); err != nil {
		return err
	}

	// 4. 报告服务
	var server *api.ReportServer
	if cfg.Server.Enabled {
		server = api.NewReportServer(cfg.Server.Addr, portfolio, reg, service.Logger)
		server.Start()
	}

	// 5. 行情源：每个 Symbol 一个 Goroutine
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Mode == service.ModeHistoric {
		for exchange, symbols := range symbolsByExchange(cfg) {
			engine := engines[exchange]
			for _, symbol := range symbols {
				ticks := make(chan model.Tick, 1024)
				replayer := api.NewReplayer(cfg.HistoricalDir, symbol, 0, service.Logger)
				g.Go(func() error { return replayer.Run(gctx, ticks) })
				g.Go(func() error { return engine.Run(gctx, symbol, ticks) })
			}
		}
	} else {
		connectors, err := newConnectors(cfg, metrics)
		if err != nil {
			return err
		}
		for _, c := range connectors {
			engine := engines[c.exchange]
			g.Go(func() error { return c.connector.Run(gctx) })
			for _, symbol := range c.symbols {
				g.Go(func() error { return engine.Run(gctx, symbol, c.connector.Ticks(symbol)) })
			}
		}
	}
	runErr := g.Wait()

	// 6. 退出：最后一次 PnL 采样并写报告
	snapshot := portfolio.Close()
	service.Logger.Info("Final portfolio",
		zap.Float64("PnL", snapshot.PnL),
		zap.Float64("Balance", snapshot.Balance),
		zap.Any("Positions", snapshot.Positions))
	if err := service.WriteReport(cfg.Report.Path, snapshot); err != nil {
		service.Logger.Error("Failed to write report", zap.Error(err))
	} else {
		service.Logger.Info("Report written", zap.String("Path", cfg.Report.Path))
	}

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			service.Logger.Warn("Report server shutdown", zap.Error(err))
		}
	}
	return runErr
}

// runDownload 把实时 Tick 记录到 <HistoricalDir>/<symbol>_data.csv
func runDownload(ctx context.Context, cfg *service.Config, metrics *service.Metrics) error {
	connectors, err := newConnectors(cfg, metrics)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range connectors {
		g.Go(func() error { return c.connector.Run(gctx) })
		for _, symbol := range c.symbols {
			rec, err := api.NewRecorder(cfg.HistoricalDir, symbol, service.Logger)
			if err != nil {
				return err
			}
			g.Go(func() error { return rec.Run(gctx, c.connector.Ticks(symbol)) })
		}
	}
	return g.Wait()
}

// runBook 维护 OKX 全深度订单簿，通过报告服务只读暴露
func runBook(ctx context.Context, cfg *service.Config, reg *prometheus.Registry) error {
	book := orderbook.NewLocalBook(cfg.Book.Symbol)
	bc := api.NewBookConnector(cfg.Exchanges[service.ExchangeOKX].WSURL, book, service.Logger)

	server := api.NewReportServer(cfg.Server.Addr, nil, reg, service.Logger)
	server.AddBook(book)
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(shutdownCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bc.Run(gctx) })
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				bid, okBid := book.BestBid()
				ask, okAsk := book.BestAsk()
				if okBid && okAsk {
					service.Logger.Info("Book",
						zap.String("Symbol", cfg.Book.Symbol),
						zap.Float64("BestBid", bid.Price),
						zap.Float64("BestAsk", ask.Price),
						zap.Int("Updates", book.Updates()))
				}
			}
		}
	})
	return g.Wait()
}

// newEngines 为每个配置了实例的交易所创建独立的 K 线引擎
func newEngines(cfg *service.Config, metrics *service.Metrics) map[string]*model.DataEngine {
	engineCfg := model.EngineConfig{
		IntervalMs:    cfg.Candle.IntervalMs,
		StoredLength:  cfg.Candle.StoredLength,
		SeedZeroPrice: cfg.Candle.SeedZeroPrice,
	}
	engines := make(map[string]*model.DataEngine)
	for exchange := range symbolsByExchange(cfg) {
		engines[exchange] = model.NewDataEngine(engineCfg, service.Logger.With(zap.String("Exchange", exchange)), metrics)
	}
	return engines
}

// registerInstances 为每个实例构建策略和信号生成器，并注册到所属交易所的引擎上
func registerInstances(ctx context.Context, cfg *service.Config, engines map[string]*model.DataEngine,
	exec executor.Executor, metrics *service.Metrics) (map[string]*strategy.SignalGenerator, error) {
	generators := make(map[string]*strategy.SignalGenerator, len(cfg.Instances))
	for _, name := range instanceNames(cfg) {
		inst := cfg.Instances[name]
		strat, err := strategy.Build(inst.Strategy)
		if err != nil {
			return nil, err
		}
		instanceLogger := service.Logger.With(zap.String("Instance", name), zap.String("Exchange", inst.Exchange))
		sg := strategy.NewSignalGenerator(ctx, inst.Symbol, strat, exec, metrics, instanceLogger)
		engines[inst.Exchange].AddListener(inst.Symbol, sg)
		generators[name] = sg
		instanceLogger.Info("Strategy registered", zap.String("Symbol", inst.Symbol), zap.String("Strategy", strat.Name()))
	}
	return generators, nil
}

type venueConnector struct {
	exchange  string
	connector *api.Connector
	symbols   []string
}

// newConnectors 按交易所分组，每个交易所一条连接
func newConnectors(cfg *service.Config, metrics *service.Metrics) ([]venueConnector, error) {
	var out []venueConnector
	for exchange, symbols := range symbolsByExchange(cfg) {
		c, err := api.NewConnector(exchange, cfg.Exchanges[exchange].WSURL, symbols, metrics, service.Logger)
		if err != nil {
			return nil, err
		}
		out = append(out, venueConnector{exchange: exchange, connector: c, symbols: symbols})
	}
	return out, nil
}

// symbolsByExchange 返回每个交易所去重后的 Symbol 列表
func symbolsByExchange(cfg *service.Config) map[string][]string {
	byExchange := make(map[string][]string)
	for _, name := range instanceNames(cfg) {
		inst := cfg.Instances[name]
		if !contains(byExchange[inst.Exchange], inst.Symbol) {
			byExchange[inst.Exchange] = append(byExchange[inst.Exchange], inst.Symbol)
		}
	}
	return byExchange
}

func instanceNames(cfg *service.Config) []string {
	names := make([]string, 0, len(cfg.Instances))
	for name := range cfg.Instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
