package indicators

import "math"

// MACDResult holds the three series produced by the MACD computation.
type MACDResult struct {
	Line      Series // fast EMA minus slow EMA
	Signal    Series // EMA of the line
	Histogram Series // line minus signal
}

// MACD computes Moving Average Convergence Divergence with the given fast,
// slow and signal windows (conventionally 12/26/9). The line is defined from
// index slow-1; the signal and histogram need a further signal-1 defined
// line values.
func MACD(values []float64, fast, slow, signal int) MACDResult {
	n := len(values)
	res := MACDResult{Line: undefined(n), Signal: undefined(n), Histogram: undefined(n)}
	if fast <= 0 || slow <= fast || signal <= 0 || n < slow {
		return res
	}

	fastEMA := EMA(values, fast)
	slowEMA := EMA(values, slow)
	for i := slow - 1; i < n; i++ {
		res.Line[i] = fastEMA[i] - slowEMA[i]
	}

	// Signal line: EMA over the defined portion of the MACD line.
	defined := res.Line[slow-1:]
	sig := EMA(defined, signal)
	for i, v := range sig {
		res.Signal[slow-1+i] = v
	}

	for i := 0; i < n; i++ {
		if !math.IsNaN(res.Line[i]) && !math.IsNaN(res.Signal[i]) {
			res.Histogram[i] = res.Line[i] - res.Signal[i]
		}
	}
	return res
}
