package indicators

import "math"

// NotAvailable is the sentinel for positions where a windowed indicator is
// not yet defined. It is NaN rather than zero so an undefined value can
// never be mistaken for a real one.
var NotAvailable = math.NaN()

// Series is an indicator output aligned index-for-index with its input
// data. Positions before the indicator's warm-up period hold NotAvailable.
type Series []float64

// Defined reports whether the value at index i is available.
func (s Series) Defined(i int) bool {
	return i >= 0 && i < len(s) && !math.IsNaN(s[i])
}

// Last returns the most recent defined value and whether one exists.
func (s Series) Last() (float64, bool) {
	for i := len(s) - 1; i >= 0; i-- {
		if !math.IsNaN(s[i]) {
			return s[i], true
		}
	}
	return 0, false
}

// undefined builds a series of the given length with every position marked
// not yet available.
func undefined(n int) Series {
	s := make(Series, n)
	for i := range s {
		s[i] = NotAvailable
	}
	return s
}
