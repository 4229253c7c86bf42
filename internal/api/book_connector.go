package api

import (
	"context"
	"encoding/json"
	"fmt"

	"candle-trader/internal/orderbook"
	"candle-trader/internal/service"

	"go.uber.org/zap"
)

// okxBookData books 频道数据，每个价位为 [px, sz, "0", numOrders]
type okxBookData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	Ts   string     `json:"ts"`
}

// BookConnector 订阅 OKX 全深度 books 频道，把 snapshot / update 应用到本地订单簿
type BookConnector struct {
	wsURL  string
	book   *orderbook.LocalBook
	logger *zap.Logger
}

func NewBookConnector(wsURL string, book *orderbook.LocalBook, logger *zap.Logger) *BookConnector {
	if logger == nil {
		logger = service.Logger
	}
	return &BookConnector{
		wsURL:  wsURL,
		book:   book,
		logger: logger.With(zap.String("Exchange", service.ExchangeOKX), zap.String("Symbol", book.Symbol())),
	}
}

// Run 连接并持续维护订单簿，直到 ctx 结束
func (bc *BookConnector) Run(ctx context.Context) error {
	s := &stream{
		url:       bc.wsURL,
		subscribe: okxSubscribe("books", []string{bc.book.Symbol()}),
		handle:    bc.handle,
		logger:    bc.logger,
	}
	return s.run(ctx)
}

func (bc *BookConnector) handle(message []byte) {
	action, book, err := parseOkxBook(message)
	if err != nil {
		bc.logger.Warn("Dropping malformed book message", zap.Error(err))
		return
	}
	if action == "" {
		return
	}
	if err := bc.book.Apply(action, book); err != nil {
		bc.logger.Warn("Book update rejected", zap.Error(err))
		return
	}
	if bid, ok := bc.book.BestBid(); ok {
		if ask, ok := bc.book.BestAsk(); ok {
			bc.logger.Debug("Book updated",
				zap.String("Action", action),
				zap.Float64("BestBid", bid.Price),
				zap.Float64("BestAsk", ask.Price))
		}
	}
}

// parseOkxBook 返回推送类型与深度；控制消息返回空 action
func parseOkxBook(message []byte) (string, orderbook.Book, error) {
	var resp okxWsData
	if err := json.Unmarshal(message, &resp); err != nil {
		return "", orderbook.Book{}, fmt.Errorf("%w: %v", ErrVenueMessage, err)
	}
	if resp.Event == "error" {
		return "", orderbook.Book{}, fmt.Errorf("%w: okx error: %s", ErrVenueMessage, resp.Msg)
	}
	if resp.Event != "" || resp.Arg.Channel != "books" {
		return "", orderbook.Book{}, nil
	}

	var data []okxBookData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", orderbook.Book{}, fmt.Errorf("%w: okx books: %v", ErrVenueMessage, err)
	}
	if len(data) == 0 {
		return "", orderbook.Book{}, fmt.Errorf("%w: okx books: empty data", ErrVenueMessage)
	}
	bids, err := parseLevels(data[0].Bids)
	if err != nil {
		return "", orderbook.Book{}, err
	}
	asks, err := parseLevels(data[0].Asks)
	if err != nil {
		return "", orderbook.Book{}, err
	}
	return resp.Action, orderbook.Book{Bids: bids, Asks: asks}, nil
}

func parseLevels(raw [][]string) ([]orderbook.Level, error) {
	levels := make([]orderbook.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			return nil, fmt.Errorf("%w: book level %v", ErrVenueMessage, l)
		}
		px, err := service.RequireFloat("px", l[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVenueMessage, err)
		}
		sz, err := service.RequireFloat("sz", l[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVenueMessage, err)
		}
		levels = append(levels, orderbook.Level{Price: px, Size: sz})
	}
	return levels, nil
}
