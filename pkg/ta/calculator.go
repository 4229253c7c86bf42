// Package ta 提供策略使用的窗口化数值计算
package ta

import (
	"math"

	"github.com/markcheno/go-talib"
)

// DefaultHurstMaxLag 对应 lags = 2..19
const DefaultHurstMaxLag = 20

// EWMA 计算带偏差修正的指数加权均值序列 (span 口径，alpha = 2/(span+1))。
// 第 t 个值为 Σ(1-alpha)^i·x[t-i] / Σ(1-alpha)^i，i 从 0 到 t。
func EWMA(xs []float64, span float64) []float64 {
	out := make([]float64, len(xs))
	if len(xs) == 0 || span < 1 {
		return out
	}
	alpha := 2.0 / (span + 1.0)
	decay := 1.0 - alpha

	var num, den float64
	for i, x := range xs {
		num = x + decay*num
		den = 1.0 + decay*den
		out[i] = num / den
	}
	return out
}

// Hurst 用滞后差分的标准差回归估计 Hurst 指数：
// tau[lag] = std(x[lag:] - x[:-lag])，对 log(tau) ~ log(lag) 做一次最小二乘，斜率即为结果。
// 序列长度不足 maxLag+1 时返回 NaN。
func Hurst(xs []float64, maxLag int) float64 {
	if maxLag < 3 || len(xs) <= maxLag {
		return math.NaN()
	}

	logLags := make([]float64, 0, maxLag-2)
	logTau := make([]float64, 0, maxLag-2)
	for lag := 2; lag < maxLag; lag++ {
		diffs := make([]float64, len(xs)-lag)
		for i := range diffs {
			diffs[i] = xs[i+lag] - xs[i]
		}
		logLags = append(logLags, math.Log(float64(lag)))
		logTau = append(logTau, math.Log(PopulationStdDev(diffs)))
	}

	slope, _ := PolyFit1(logLags, logTau)
	return slope
}

// PopulationStdDev 返回总体标准差 (ddof=0)
func PopulationStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	std := talib.StdDev(xs, len(xs), 1.0)
	return std[len(std)-1]
}

// PolyFit1 对 (x, y) 做一次多项式最小二乘拟合，返回斜率和截距
func PolyFit1(x, y []float64) (slope, intercept float64) {
	n := len(x)
	if n == 0 || n != len(y) {
		return math.NaN(), math.NaN()
	}

	var mx, my float64
	for i := 0; i < n; i++ {
		mx += x[i]
		my += y[i]
	}
	mx /= float64(n)
	my /= float64(n)

	var sxy, sxx float64
	for i := 0; i < n; i++ {
		dx := x[i] - mx
		sxy += dx * (y[i] - my)
		sxx += dx * dx
	}
	if sxx == 0 {
		return math.NaN(), math.NaN()
	}
	slope = sxy / sxx
	return slope, my - slope*mx
}
