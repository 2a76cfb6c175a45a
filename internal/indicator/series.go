package indicator

import (
	"fmt"
	"math"

	"signal-workshop/internal/domain"
)

// neutralADX is reported when the ADX series has not warmed up yet.
const neutralADX = 25.0

func extractCloses(candles []domain.Candle) []float64 {
	values := make([]float64, len(candles))
	for i := range candles {
		values[i] = candles[i].Close
	}
	return values
}

func extractVolumes(candles []domain.Candle) []float64 {
	values := make([]float64, len(candles))
	for i := range candles {
		values[i] = candles[i].Volume
	}
	return values
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// rollingMean averages values[i-period+1..i] for every i >= from+period-1. Entries before that are NaN.
func rollingMean(values []float64, period, from int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	var sum float64
	for i := from; i < len(values); i++ {
		sum += values[i]
		if i-from >= period {
			sum -= values[i-period]
		}
		if i-from >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

func trueRanges(candles []domain.Candle) []float64 {
	out := make([]float64, len(candles))
	for i := range candles {
		c := candles[i]
		if i == 0 {
			out[i] = c.High - c.Low
			continue
		}
		prevClose := candles[i-1].Close
		out[i] = math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}
	return out
}

func directionalMovement(candles []domain.Candle) (plus, minus []float64) {
	plus = make([]float64, len(candles))
	minus = make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		if up > down && up > 0 {
			plus[i] = up
		}
		if down > up && down > 0 {
			minus[i] = down
		}
	}
	return plus, minus
}

func atrSeries(candles []domain.Candle, period int) []float64 {
	return rollingMean(trueRanges(candles), period, 1)
}

// ATR is the period-mean of the true range at the last candle.
func ATR(candles []domain.Candle, period int) (float64, error) {
	if len(candles) < period+1 {
		return 0, fmt.Errorf("atr needs %d candles, got %d: %w", period+1, len(candles), domain.ErrInsufficientHistory)
	}
	series := atrSeries(candles, period)
	return series[len(series)-1], nil
}

func adxSeries(candles []domain.Candle, period int) []float64 {
	atr := atrSeries(candles, period)
	plusDM, minusDM := directionalMovement(candles)
	plusSmoothed := rollingMean(plusDM, period, 1)
	minusSmoothed := rollingMean(minusDM, period, 1)

	dx := nanSeries(len(candles))
	for i := range candles {
		if math.IsNaN(atr[i]) {
			continue
		}
		var plusDI, minusDI float64
		if atr[i] > 0 {
			plusDI = 100 * plusSmoothed[i] / atr[i]
			minusDI = 100 * minusSmoothed[i] / atr[i]
		}
		if plusDI+minusDI == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}
	return rollingMean(dx, period, period)
}

// ADX returns the last Average Directional Index value, or 25 when the series is not defined yet.
func ADX(candles []domain.Candle, period int) (float64, error) {
	if len(candles) < period+1 {
		return 0, fmt.Errorf("adx needs %d candles, got %d: %w", period+1, len(candles), domain.ErrInsufficientHistory)
	}
	series := adxSeries(candles, period)
	last := series[len(series)-1]
	if math.IsNaN(last) {
		return neutralADX, nil
	}
	return last, nil
}

func rsiSeries(closes []float64, period int) []float64 {
	if len(closes) <= period {
		return nil
	}
	series := nanSeries(len(closes))

	var gainSum float64
	var lossSum float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum -= delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	series[period] = rsiFromAvg(avgGain, avgLoss)

	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain := math.Max(delta, 0)
		loss := math.Max(-delta, 0)
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		series[i] = rsiFromAvg(avgGain, avgLoss)
	}

	return series
}

func rsiFromAvg(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// RSI returns the last Wilder RSI value, 50 when there is not enough history.
func RSI(closes []float64, period int) float64 {
	series := rsiSeries(closes, period)
	if len(series) == 0 || math.IsNaN(series[len(series)-1]) {
		return 50
	}
	return series[len(series)-1]
}

// VolumeRatio compares the last volume with the mean of the preceding window.
func VolumeRatio(volumes []float64, window int) float64 {
	if len(volumes) < 2 || window <= 0 {
		return 1
	}
	start := len(volumes) - 1 - window
	if start < 0 {
		start = 0
	}
	mean, _ := meanStd(volumes[start : len(volumes)-1])
	if mean == 0 {
		return 1
	}
	return volumes[len(volumes)-1] / mean
}

// Momentum is the percent change of the close over period bars.
func Momentum(closes []float64, period int) float64 {
	if period <= 0 || len(closes) <= period {
		return 0
	}
	base := closes[len(closes)-1-period]
	if base == 0 {
		return 0
	}
	return (closes[len(closes)-1] - base) / base * 100
}

func meanStd(values []float64) (mean, std float64) {
	if len(values) == 0 {
		return 0, 0
	}
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	if len(values) == 1 {
		return mean, 0
	}
	for _, v := range values {
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(len(values)))
	return mean, std
}
