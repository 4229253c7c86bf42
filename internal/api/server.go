package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"candle-trader/internal/executor"
	"candle-trader/internal/orderbook"
	"candle-trader/internal/service"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// PortfolioView 是报告服务需要的只读账本接口
type PortfolioView interface {
	Snapshot() executor.Snapshot
}

// PnLQuery GET /pnl 参数，Last 为 0 时返回全部序列
type PnLQuery struct {
	Last int `query:"last" default:"0" validate:"gte=0,lte=1000000"`
}

// BookQuery GET /book/:symbol 参数
type BookQuery struct {
	Symbol string `param:"symbol" validate:"required"`
	Depth  int    `query:"depth" default:"20" validate:"gte=1,lte=400"`
}

// PnLResponse /pnl 响应
type PnLResponse struct {
	PnL     float64   `json:"pnl"`
	Balance float64   `json:"balance"`
	History []float64 `json:"history"`
}

// PositionsResponse /positions 响应
type PositionsResponse struct {
	Positions            map[string]float64   `json:"positions"`
	MarkPrices           map[string]float64   `json:"mark_prices"`
	PositionValueHistory map[string][]float64 `json:"position_value_history"`
}

// ReportServer 用 Echo 暴露账本、订单簿与 Prometheus 指标，只读
type ReportServer struct {
	echo      *echo.Echo
	addr      string
	portfolio PortfolioView
	validate  *validator.Validate
	logger    *zap.Logger

	mu    sync.RWMutex
	books map[string]*orderbook.LocalBook
}

// NewReportServer 创建服务；portfolio 为 nil 时账本接口返回 404 (book 模式)，
// gatherer 为 nil 时 /metrics 使用默认注册表
func NewReportServer(addr string, portfolio PortfolioView, gatherer prometheus.Gatherer, logger *zap.Logger) *ReportServer {
	if logger == nil {
		logger = service.Logger
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &ReportServer{
		echo:      e,
		addr:      addr,
		portfolio: portfolio,
		validate:  validator.New(),
		logger:    logger,
		books:     make(map[string]*orderbook.LocalBook),
	}

	e.GET("/healthz", s.healthz)
	e.GET("/pnl", s.pnl)
	e.GET("/positions", s.positions)
	e.GET("/book/:symbol", s.book)

	metricsHandler := promhttp.Handler()
	if gatherer != nil {
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}
	e.GET("/metrics", echo.WrapHandler(metricsHandler))
	return s
}

// AddBook 暴露一个本地订单簿
func (s *ReportServer) AddBook(book *orderbook.LocalBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[book.Symbol()] = book
}

// Start 在后台监听
func (s *ReportServer) Start() {
	go func() {
		s.logger.Info("Report server listening", zap.String("Addr", s.addr))
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Report server error", zap.Error(err))
		}
	}()
}

// Stop 优雅关闭
func (s *ReportServer) Stop(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	s.logger.Info("Report server stopped")
	return nil
}

// Handler 返回底层 http.Handler
func (s *ReportServer) Handler() http.Handler { return s.echo }

// bind 绑定参数、填充默认值并校验
func (s *ReportServer) bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := defaults.Set(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := s.validate.StructCtx(c.Request().Context(), req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func (s *ReportServer) healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *ReportServer) pnl(c echo.Context) error {
	if s.portfolio == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no portfolio in this mode")
	}
	var q PnLQuery
	if err := s.bind(c, &q); err != nil {
		return err
	}
	snap := s.portfolio.Snapshot()
	history := snap.PnLHistory
	if q.Last > 0 && q.Last < len(history) {
		history = history[len(history)-q.Last:]
	}
	return c.JSON(http.StatusOK, PnLResponse{PnL: snap.PnL, Balance: snap.Balance, History: history})
}

func (s *ReportServer) positions(c echo.Context) error {
	if s.portfolio == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no portfolio in this mode")
	}
	snap := s.portfolio.Snapshot()
	return c.JSON(http.StatusOK, PositionsResponse{
		Positions:            snap.Positions,
		MarkPrices:           snap.MarkPrices,
		PositionValueHistory: snap.PositionValueHistory,
	})
}

func (s *ReportServer) book(c echo.Context) error {
	var q BookQuery
	if err := s.bind(c, &q); err != nil {
		return err
	}
	s.mu.RLock()
	lb, ok := s.books[q.Symbol]
	s.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("no book for %s", q.Symbol))
	}
	b := lb.Book()
	if len(b.Bids) > q.Depth {
		b.Bids = b.Bids[:q.Depth]
	}
	if len(b.Asks) > q.Depth {
		b.Asks = b.Asks[:q.Depth]
	}
	return c.JSON(http.StatusOK, b)
}

// Books 返回已注册订单簿的 Symbol (已排序)
func (s *ReportServer) Books() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
