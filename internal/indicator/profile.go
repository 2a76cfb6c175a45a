package indicator

import (
	"math"

	"signal-workshop/internal/domain"
)

// VolumeProfile bins the traded volume of the window by price. Each candle's volume is
// spread evenly over the bins its [low, high] range touches. The value area grows
// from the POC bin towards the heavier neighbour until it holds valueAreaPct of the volume.
func VolumeProfile(candles []domain.Candle, bins int, valueAreaPct float64, price float64) domain.VolumeProfile {
	if len(candles) == 0 {
		return domain.VolumeProfile{}
	}
	if bins <= 0 {
		bins = 1
	}

	lo, hi := candles[0].Low, candles[0].High
	var pv, totalVolume float64
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
		pv += c.Close * c.Volume
		totalVolume += c.Volume
	}

	vwap := candles[len(candles)-1].Close
	if totalVolume > 0 {
		vwap = pv / totalVolume
	}

	if hi <= lo || totalVolume <= 0 {
		return domain.VolumeProfile{
			POC:                lo,
			VAH:                hi,
			VAL:                lo,
			VWAP:               vwap,
			DistanceFromPOCPct: distancePct(price, lo),
		}
	}

	width := (hi - lo) / float64(bins)
	volume := make([]float64, bins)
	for _, c := range candles {
		if c.Volume <= 0 {
			continue
		}
		first := binIndex(c.Low, lo, width, bins)
		last := binIndex(c.High, lo, width, bins)
		share := c.Volume / float64(last-first+1)
		for b := first; b <= last; b++ {
			volume[b] += share
		}
	}

	poc := 0
	for b := 1; b < bins; b++ {
		if volume[b] > volume[poc] {
			poc = b
		}
	}

	low, high := poc, poc
	covered := volume[poc]
	target := valueAreaPct * totalVolume
	for covered < target && (low > 0 || high < bins-1) {
		below, above := -1.0, -1.0
		if low > 0 {
			below = volume[low-1]
		}
		if high < bins-1 {
			above = volume[high+1]
		}
		if above >= below {
			high++
			covered += volume[high]
		} else {
			low--
			covered += volume[low]
		}
	}

	pocPrice := lo + (float64(poc)+0.5)*width
	return domain.VolumeProfile{
		POC:                pocPrice,
		VAH:                lo + float64(high+1)*width,
		VAL:                lo + float64(low)*width,
		VWAP:               vwap,
		DistanceFromPOCPct: distancePct(price, pocPrice),
	}
}

func binIndex(price, lo, width float64, bins int) int {
	idx := int(math.Floor((price - lo) / width))
	if idx < 0 {
		return 0
	}
	if idx >= bins {
		return bins - 1
	}
	return idx
}

func distancePct(price, poc float64) float64 {
	if poc == 0 {
		return 0
	}
	return math.Abs(price-poc) / poc * 100
}

// CumulativeDelta approximates buy-minus-sell volume from where each bar closed inside its range.
// It returns nil when the window carries no volume.
func CumulativeDelta(candles []domain.Candle, window int) *domain.CVD {
	if len(candles) == 0 {
		return nil
	}
	start := 0
	if window > 0 && len(candles) > window {
		start = len(candles) - window
	}
	recent := candles[start:]

	var value, total float64
	for _, c := range recent {
		total += c.Volume
		rng := c.High - c.Low
		if rng <= 0 {
			continue
		}
		value += c.Volume * ((c.Close - c.Low) - (c.High - c.Close)) / rng
	}
	if total <= 0 {
		return nil
	}

	move := recent[len(recent)-1].Close - recent[0].Open
	confirms := (value > 0 && move > 0) || (value < 0 && move < 0)
	return &domain.CVD{Value: value, Confirms: confirms}
}
