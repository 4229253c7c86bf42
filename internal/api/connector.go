package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"candle-trader/internal/model"
	"candle-trader/internal/service"

	"go.uber.org/zap"
)

// ErrVenueMessage 表示交易所推送无法转换为合法 Tick
var ErrVenueMessage = errors.New("malformed venue message")

// tickerBuffer 每个 Symbol 通道的缓冲区，应对高频数据
const tickerBuffer = 2048

// venue 是交易所相关的部分：订阅方式与 ticker 推送的解析
type venue interface {
	name() string
	url(base string, symbols []string) string
	subscriptions(symbols []string) []any
	// parse 返回消息中的 Tick；订阅确认、心跳等控制消息返回 nil, nil
	parse(message []byte) ([]model.Tick, error)
}

func newVenue(exchange string) (venue, error) {
	switch strings.ToLower(exchange) {
	case service.ExchangeOKX:
		return okxVenue{}, nil
	case service.ExchangeBinance:
		return binanceVenue{}, nil
	case service.ExchangeCoinbase:
		return coinbaseVenue{}, nil
	default:
		return nil, fmt.Errorf("unsupported exchange %q", exchange)
	}
}

// Connector 订阅一个交易所的 ticker 推送，归一化后按 Symbol 分发到各自的通道
type Connector struct {
	venue    venue
	wsURL    string
	symbols  []string
	channels map[string]chan model.Tick
	observer model.Observer
	logger   *zap.Logger
	once     sync.Once
}

// NewConnector 为 symbols 创建连接器；observer 可为 nil
func NewConnector(exchange, wsURL string, symbols []string, observer model.Observer, logger *zap.Logger) (*Connector, error) {
	v, err := newVenue(exchange)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%s connector requires at least one symbol", v.name())
	}
	if logger == nil {
		logger = service.Logger
	}
	channels := make(map[string]chan model.Tick, len(symbols))
	for _, s := range symbols {
		channels[s] = make(chan model.Tick, tickerBuffer)
	}

	logger.Info("Connector initialized", zap.String("Exchange", v.name()), zap.Strings("Symbols", symbols))

	return &Connector{
		venue:    v,
		wsURL:    wsURL,
		symbols:  append([]string(nil), symbols...),
		channels: channels,
		observer: observer,
		logger:   logger.With(zap.String("Exchange", v.name())),
	}, nil
}

// Ticks 返回 symbol 的 Tick 通道，Run 结束后通道关闭
func (c *Connector) Ticks(symbol string) <-chan model.Tick {
	return c.channels[symbol]
}

// Run 连接并持续读取，断线自动重连，直到 ctx 结束
func (c *Connector) Run(ctx context.Context) error {
	defer c.close()

	s := &stream{
		url:       c.venue.url(c.wsURL, c.symbols),
		subscribe: c.venue.subscriptions(c.symbols),
		handle:    c.handle,
		logger:    c.logger,
	}
	return s.run(ctx)
}

func (c *Connector) close() {
	c.once.Do(func() {
		for _, ch := range c.channels {
			close(ch)
		}
	})
}

func (c *Connector) handle(message []byte) {
	ticks, err := c.venue.parse(message)
	if err != nil {
		c.logger.Warn("Dropping malformed message", zap.Error(err))
		if c.observer != nil {
			c.observer.InputRejected(c.venue.name(), "venue")
		}
		return
	}
	for _, t := range ticks {
		c.dispatch(t)
	}
}

// dispatch 非阻塞地投递 Tick，通道满时丢弃
func (c *Connector) dispatch(t model.Tick) {
	ch, ok := c.channels[t.Symbol]
	if !ok {
		c.logger.Warn("Dropping ticker for unsubscribed symbol", zap.String("Symbol", t.Symbol))
		return
	}
	select {
	case ch <- t:
	default:
		c.logger.Warn("Ticker channel full! Dropping ticker for", zap.String("Symbol", t.Symbol))
	}
}

// parseTick 按字段名解析字符串数值，任何字段缺失或非数字都返回错误
func parseTick(symbol string, ts int64, fields [6]string) (model.Tick, error) {
	names := [6]string{"last", "lastSz", "askPx", "askSz", "bidPx", "bidSz"}
	var vals [6]float64
	for i, raw := range fields {
		v, err := service.RequireFloat(names[i], raw)
		if err != nil {
			return model.Tick{}, fmt.Errorf("%w: %s: %v", ErrVenueMessage, symbol, err)
		}
		vals[i] = v
	}
	t := model.Tick{
		Symbol:    symbol,
		Timestamp: ts,
		Last:      vals[0],
		LastSize:  vals[1],
		AskPrice:  vals[2],
		AskSize:   vals[3],
		BidPrice:  vals[4],
		BidSize:   vals[5],
	}
	if err := t.Validate(); err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", ErrVenueMessage, err)
	}
	return t, nil
}

// ---------------------------------------------------------------- OKX

// okxWsData 适用于 Okx V5 的通用响应结构
type okxWsData struct {
	Arg struct {
		Channel string `json:"channel"`
		InstId  string `json:"instId"`
	} `json:"arg"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"` // 按频道延迟解析
	Event  string          `json:"event"`
	Msg    string          `json:"msg"`
}

// okxTickerData tickers 频道数据
type okxTickerData struct {
	InstId string `json:"instId"`
	Last   string `json:"last"`
	LastSz string `json:"lastSz"`
	AskPx  string `json:"askPx"`
	AskSz  string `json:"askSz"`
	BidPx  string `json:"bidPx"`
	BidSz  string `json:"bidSz"`
	Ts     string `json:"ts"`
}

type okxVenue struct{}

func (okxVenue) name() string { return service.ExchangeOKX }

func (okxVenue) url(base string, _ []string) string { return base }

func okxSubscribe(channel string, symbols []string) []any {
	args := make([]map[string]string, 0, len(symbols))
	for _, s := range symbols {
		args = append(args, map[string]string{"channel": channel, "instId": s})
	}
	return []any{map[string]any{"op": "subscribe", "args": args}}
}

func (okxVenue) subscriptions(symbols []string) []any {
	return okxSubscribe("tickers", symbols)
}

func (okxVenue) parse(message []byte) ([]model.Tick, error) {
	var resp okxWsData
	if err := json.Unmarshal(message, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueMessage, err)
	}
	if resp.Event == "error" {
		return nil, fmt.Errorf("%w: okx error: %s", ErrVenueMessage, resp.Msg)
	}
	if resp.Event != "" || resp.Arg.Channel != "tickers" {
		return nil, nil // 订阅确认等事件
	}

	var tickers []okxTickerData
	if err := json.Unmarshal(resp.Data, &tickers); err != nil {
		return nil, fmt.Errorf("%w: okx tickers: %v", ErrVenueMessage, err)
	}
	// 仅处理最新的快照
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: okx tickers: empty data", ErrVenueMessage)
	}
	d := tickers[0]
	symbol := resp.Arg.InstId
	if symbol == "" {
		symbol = d.InstId
	}
	ts, err := service.RequireInt64("ts", d.Ts)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVenueMessage, symbol, err)
	}
	t, err := parseTick(symbol, ts, [6]string{d.Last, d.LastSz, d.AskPx, d.AskSz, d.BidPx, d.BidSz})
	if err != nil {
		return nil, err
	}
	return []model.Tick{t}, nil
}

// ---------------------------------------------------------------- Binance

type binanceEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// binanceTicker <symbol>@ticker 推送。
// 大小写只差一位的键 (e/E, c/C ...) 全部显式声明，避免 encoding/json 的大小写折叠串位。
type binanceTicker struct {
	EventType   string `json:"e"`
	EventTime   *int64 `json:"E"`
	Symbol      string `json:"s"`
	Last        string `json:"c"`
	CloseTime   int64  `json:"C"`
	LastQty     string `json:"Q"`
	QuoteVolume string `json:"q"`
	AskPx       string `json:"a"`
	AskSz       string `json:"A"`
	BidPx       string `json:"b"`
	BidSz       string `json:"B"`
}

type binanceVenue struct{}

func (binanceVenue) name() string { return service.ExchangeBinance }

// url 使用组合流：<base>?streams=btcusdt@ticker/ethusdt@ticker
func (binanceVenue) url(base string, symbols []string) string {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@ticker"
	}
	return base + "?streams=" + strings.Join(streams, "/")
}

func (binanceVenue) subscriptions([]string) []any { return nil }

func (binanceVenue) parse(message []byte) ([]model.Tick, error) {
	var env binanceEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueMessage, err)
	}
	if len(env.Data) == 0 {
		return nil, nil
	}
	var d binanceTicker
	if err := json.Unmarshal(env.Data, &d); err != nil {
		return nil, fmt.Errorf("%w: binance ticker: %v", ErrVenueMessage, err)
	}
	symbol := parseBinanceSymbol(env.Stream)
	if symbol == "" {
		symbol = strings.ToUpper(d.Symbol)
	}
	if d.EventTime == nil {
		return nil, fmt.Errorf("%w: %s: missing field %q", ErrVenueMessage, symbol, "E")
	}
	t, err := parseTick(symbol, *d.EventTime, [6]string{d.Last, d.LastQty, d.AskPx, d.AskSz, d.BidPx, d.BidSz})
	if err != nil {
		return nil, err
	}
	return []model.Tick{t}, nil
}

// parseBinanceSymbol "btcusdt@ticker" -> "BTCUSDT"
func parseBinanceSymbol(stream string) string {
	parts := strings.Split(stream, "@")
	return strings.ToUpper(parts[0])
}

// ---------------------------------------------------------------- Coinbase

type coinbaseTicker struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	ProductID   string `json:"product_id"`
	Price       string `json:"price"`
	LastSize    string `json:"last_size"`
	Time        string `json:"time"`
	BestAsk     string `json:"best_ask"`
	BestAskSize string `json:"best_ask_size"`
	BestBid     string `json:"best_bid"`
	BestBidSize string `json:"best_bid_size"`
}

type coinbaseVenue struct{}

func (coinbaseVenue) name() string { return service.ExchangeCoinbase }

func (coinbaseVenue) url(base string, _ []string) string { return base }

func (coinbaseVenue) subscriptions(symbols []string) []any {
	return []any{map[string]any{
		"type":        "subscribe",
		"product_ids": symbols,
		"channels":    []string{"ticker"},
	}}
}

func (coinbaseVenue) parse(message []byte) ([]model.Tick, error) {
	var d coinbaseTicker
	if err := json.Unmarshal(message, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVenueMessage, err)
	}
	switch d.Type {
	case "ticker":
	case "error":
		return nil, fmt.Errorf("%w: coinbase error: %s", ErrVenueMessage, d.Message)
	default:
		return nil, nil // subscriptions / heartbeat
	}
	if d.Time == "" {
		return nil, fmt.Errorf("%w: %s: missing field %q", ErrVenueMessage, d.ProductID, "time")
	}
	ts, err := time.Parse(time.RFC3339Nano, d.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: field %q: %v", ErrVenueMessage, d.ProductID, "time", err)
	}
	t, err := parseTick(d.ProductID, ts.UnixMilli(), [6]string{d.Price, d.LastSize, d.BestAsk, d.BestAskSize, d.BestBid, d.BestBidSize})
	if err != nil {
		return nil, err
	}
	return []model.Tick{t}, nil
}
