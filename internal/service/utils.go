package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func StringToFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func StringToInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// RequireFloat 解析交易所下发的数值字段，缺失 (空串) 或非数字都视为错误
func RequireFloat(field, s string) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("missing field %q", field)
	}
	v, err := StringToFloat(s)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", field, err)
	}
	return v, nil
}

// RequireInt64 与 RequireFloat 相同，用于毫秒时间戳
func RequireInt64(field, s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("missing field %q", field)
	}
	v, err := StringToInt64(s)
	if err != nil {
		return 0, fmt.Errorf("field %q: %w", field, err)
	}
	return v, nil
}

// 将 time.Duration 格式化为标准的 K 线周期字符串，如 "500ms", "1s", "1m", "1h"
func FormatInterval(d time.Duration) string {
	// 优先处理小时 (h)
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%dh", d/time.Hour)
	}

	// 接着处理分钟 (m)
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}

	// 接着处理秒 (s)
	if d >= time.Second && d%time.Second == 0 {
		return fmt.Sprintf("%ds", d/time.Second)
	}

	if d > 0 && d%time.Millisecond == 0 {
		return fmt.Sprintf("%dms", d/time.Millisecond)
	}

	return d.String()
}

// 将 K 线周期字符串解析为 time.Duration
// 例如 "1m" -> 1*time.Minute, "250ms" -> 250*time.Millisecond
func ParseIntervalDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid interval format: %s", s)
	}

	var unitDuration time.Duration
	var valueStr string
	switch {
	case strings.HasSuffix(s, "ms"):
		unitDuration = time.Millisecond
		valueStr = s[:len(s)-2]
	case strings.HasSuffix(s, "s"):
		unitDuration = time.Second
		valueStr = s[:len(s)-1]
	case strings.HasSuffix(s, "m"):
		unitDuration = time.Minute
		valueStr = s[:len(s)-1]
	case strings.HasSuffix(s, "h"):
		unitDuration = time.Hour
		valueStr = s[:len(s)-1]
	case strings.HasSuffix(s, "d"):
		unitDuration = 24 * time.Hour
		valueStr = s[:len(s)-1]
	default:
		return 0, fmt.Errorf("unsupported interval unit: %s", s)
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid interval value: %s", valueStr)
	}

	return time.Duration(value) * unitDuration, nil
}
