package indicators

import "math"

// Volatility computes the rolling standard deviation of the series over the
// given window. Defined from index window-1 onward.
func Volatility(values []float64, window int) Series {
	out := undefined(len(values))
	if window <= 0 || len(values) < window {
		return out
	}

	for i := window - 1; i < len(values); i++ {
		var sum float64
		for j := i - window + 1; j <= i; j++ {
			sum += values[j]
		}
		mean := sum / float64(window)

		var variance float64
		for j := i - window + 1; j <= i; j++ {
			d := values[j] - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(window))
	}
	return out
}

// ROC computes the rate of change in percent against the value window
// points back. Defined from index window onward.
func ROC(values []float64, window int) Series {
	out := undefined(len(values))
	if window <= 0 || len(values) <= window {
		return out
	}

	for i := window; i < len(values); i++ {
		base := values[i-window]
		if base == 0 {
			continue // leave undefined rather than dividing by zero
		}
		out[i] = (values[i] - base) / base * 100
	}
	return out
}
