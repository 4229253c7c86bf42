package api

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"candle-trader/internal/model"
	"candle-trader/internal/service"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Recorder 把实时 Tick 追加写入 <dir>/<symbol>_data.csv，文件新建时写表头
type Recorder struct {
	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
	logger *zap.Logger
}

func NewRecorder(dir, symbol string, logger *zap.Logger) (*Recorder, error) {
	if logger == nil {
		logger = service.Logger
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	path := HistoricalPath(dir, symbol)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	rec := &Recorder{
		file:   f,
		writer: csv.NewWriter(f),
		path:   filepath.Clean(path),
		logger: logger.With(zap.String("Symbol", symbol)),
	}
	if info.Size() == 0 {
		if err := rec.writer.Write(csvHeader); err != nil {
			f.Close()
			return nil, err
		}
	}
	return rec, nil
}

// Record 写入一行
func (r *Recorder) Record(t model.Tick) error {
	row := []string{
		formatFloat(t.Last),
		formatFloat(t.LastSize),
		strconv.FormatInt(t.Timestamp, 10),
		formatFloat(t.AskPrice),
		formatFloat(t.AskSize),
		formatFloat(t.BidPrice),
		formatFloat(t.BidSize),
	}
	if err := r.writer.Write(row); err != nil {
		return err
	}
	r.rows++
	return nil
}

// Run 持续记录 ticks 直到通道关闭或 ctx 结束，返回前刷盘并关闭文件
func (r *Recorder) Run(ctx context.Context, ticks <-chan model.Tick) (err error) {
	defer func() {
		err = multierr.Append(err, r.Close())
	}()
	r.logger.Info("Recording ticks", zap.String("Path", r.path))
	for {
		select {
		case <-ctx.Done():
			return nil
		case t, ok := <-ticks:
			if !ok {
				return nil
			}
			if err := t.Validate(); err != nil {
				r.logger.Warn("Skipping malformed tick", zap.Error(err))
				continue
			}
			if err := r.Record(t); err != nil {
				return fmt.Errorf("write %s: %w", r.path, err)
			}
		}
	}
}

// Close 刷盘并关闭文件
func (r *Recorder) Close() error {
	r.writer.Flush()
	err := multierr.Combine(r.writer.Error(), r.file.Close())
	r.logger.Info("Recorder closed", zap.Int("Rows", r.rows))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
