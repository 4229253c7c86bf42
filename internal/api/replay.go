package api

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"candle-trader/internal/model"
	"candle-trader/internal/service"

	"go.uber.org/zap"
)

// csvHeader 历史数据文件的列，与下载模式写出的一致
var csvHeader = []string{"last", "lastSz", "ts", "askPx", "askSz", "bidPx", "bidSz"}

// HistoricalPath 返回 symbol 的历史数据文件路径: <dir>/<symbol>_data.csv
func HistoricalPath(dir, symbol string) string {
	return filepath.Join(dir, symbol+"_data.csv")
}

// Replayer 把历史 CSV 文件按行回放成 Tick 流
type Replayer struct {
	path   string
	symbol string
	delay  time.Duration // 每条 Tick 之间的间隔，0 表示不等待
	logger *zap.Logger
}

func NewReplayer(dir, symbol string, delay time.Duration, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = service.Logger
	}
	return &Replayer{
		path:   HistoricalPath(dir, symbol),
		symbol: symbol,
		delay:  delay,
		logger: logger.With(zap.String("Symbol", symbol)),
	}
}

// Run 按文件顺序阻塞地投递 Tick，读完后关闭 out。
// 任何一行缺字段或非数字都会中止回放并返回错误。
func (r *Replayer) Run(ctx context.Context, out chan<- model.Tick) error {
	defer close(out)

	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("open historical data: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header of %s: %w", r.path, err)
	}
	index, err := columnIndex(header)
	if err != nil {
		return fmt.Errorf("%s: %w", r.path, err)
	}

	r.logger.Info("Replaying historical data", zap.String("Path", r.path))
	count := 0
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s line %d: %w", r.path, line, err)
		}
		t, err := r.parseRow(record, index)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", r.path, line, err)
		}

		select {
		case out <- t:
			count++
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	r.logger.Info("Replay finished", zap.Int("Ticks", count))
	return nil
}

func columnIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}
	for _, col := range csvHeader {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", model.ErrMalformedTick, col)
		}
	}
	return index, nil
}

func (r *Replayer) parseRow(record []string, index map[string]int) (model.Tick, error) {
	field := func(name string) string {
		if i := index[name]; i < len(record) {
			return record[i]
		}
		return ""
	}
	ts, err := service.RequireInt64("ts", field("ts"))
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformedTick, err)
	}
	t, err := parseTick(r.symbol, ts, [6]string{
		field("last"), field("lastSz"), field("askPx"), field("askSz"), field("bidPx"), field("bidSz"),
	})
	if err != nil {
		return model.Tick{}, fmt.Errorf("%w: %v", model.ErrMalformedTick, err)
	}
	return t, nil
}
