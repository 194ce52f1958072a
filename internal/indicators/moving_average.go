package indicators

// SMA computes the simple moving average over the given window.
// The value at index i is defined once i+1 >= window, i.e. once the window
// is full including the current point.
func SMA(values []float64, window int) Series {
	out := undefined(len(values))
	if window <= 0 || len(values) < window {
		return out
	}

	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA computes the exponential moving average over the given window,
// seeded with the SMA of the first window points. Defined from index
// window-1 onward.
func EMA(values []float64, window int) Series {
	out := undefined(len(values))
	if window <= 0 || len(values) < window {
		return out
	}

	var seed float64
	for i := 0; i < window; i++ {
		seed += values[i]
	}
	ema := seed / float64(window)
	out[window-1] = ema

	multiplier := 2.0 / float64(window+1)
	for i := window; i < len(values); i++ {
		ema = (values[i]-ema)*multiplier + ema
		out[i] = ema
	}
	return out
}
