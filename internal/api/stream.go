package api

import (
	"context"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 30 * time.Second
	pingInterval     = 15 * time.Second
	writeTimeout     = 5 * time.Second
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
)

// stream 是一条带心跳的 WebSocket 订阅：连上后依次发送 subscribe 消息，
// 每条文本消息交给 handle。连接断开时按指数退避重连，直到 ctx 结束。
type stream struct {
	url       string
	subscribe []any
	handle    func(message []byte)
	logger    *zap.Logger
	backoff   time.Duration // 首次重连等待，0 表示 minBackoff
}

func (s *stream) run(ctx context.Context) error {
	initial := s.backoff
	if initial <= 0 {
		initial = minBackoff
	}
	backoff := initial
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := s.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 成功订阅过的连接断开后从初始等待重新退避
		if connected {
			backoff = initial
		}
		s.logger.Warn("WS disconnected, retrying", zap.String("URL", s.url), zap.Duration("Backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	return time.Duration(math.Min(float64(maxBackoff), float64(d)*1.8))
}

// consume 连接、订阅并读取直到出错；connected 表示订阅消息已全部发出
func (s *stream) consume(ctx context.Context) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// ctx 结束时关闭连接，让阻塞中的 ReadMessage 返回
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	for _, msg := range s.subscribe {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			return false, err
		}
	}
	s.logger.Info("WS connected", zap.String("URL", s.url), zap.Int("Subscriptions", len(s.subscribe)))

	conn.SetReadLimit(1 << 22)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
					s.logger.Debug("WS ping failed", zap.Error(err))
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		s.handle(message)
	}
}
