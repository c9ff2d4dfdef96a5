package indicator

import (
	"fmt"
	"math"

	"jupitor/internal/domain"
)

func closes(bars []domain.Bar) []float64 { return field(bars, func(b domain.Bar) float64 { return b.C }) }
func highs(bars []domain.Bar) []float64  { return field(bars, func(b domain.Bar) float64 { return b.H }) }
func lows(bars []domain.Bar) []float64   { return field(bars, func(b domain.Bar) float64 { return b.L }) }

func field(bars []domain.Bar, get func(domain.Bar) float64) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = get(b)
	}
	return out
}

func requireBars(name string, bars []domain.Bar, minLen int) error {
	if len(bars) == 0 {
		return fmt.Errorf("%s: empty bar window", name)
	}
	if len(bars) < minLen {
		return fmt.Errorf("%s: insufficient data, need %d bars, got %d", name, minLen, len(bars))
	}
	return nil
}

// ewm computes an exponential moving average with the pandas adjust=False
// convention: seed with the first value, then recurse y[i] = y[i-1] + alpha*(x[i]-y[i-1]).
func ewm(x []float64, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	return ewmAlpha(x, alpha)
}

func ewmAlpha(x []float64, alpha float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	out[0] = x[0]
	for i := 1; i < len(x); i++ {
		out[i] = out[i-1] + alpha*(x[i]-out[i-1])
	}
	return out
}

// rollingMean computes a simple moving average with min_periods=1 semantics
// (the window shrinks at the start instead of producing no value).
func rollingMean(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	sum := 0.0
	for i := range x {
		sum += x[i]
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		} else if lo > 0 {
			sum -= x[lo-1]
		}
		n := i - lo + 1
		out[i] = sum / float64(n)
	}
	return out
}

// rollingStd computes the population-free (ddof=1) rolling standard
// deviation matching pandas' default Series.std(), with min_periods=1 (a
// single-sample window yields 0, matching pandas' fillna(0) idiom upstream).
func rollingStd(x []float64, window int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		w := x[lo : i+1]
		if len(w) < 2 {
			out[i] = 0
			continue
		}
		mean := 0.0
		for _, v := range w {
			mean += v
		}
		mean /= float64(len(w))
		ss := 0.0
		for _, v := range w {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(len(w)-1))
	}
	return out
}

func rollingMin(x []float64, window int) []float64 {
	return rollingExtreme(x, window, math.Min, math.Inf(1))
}

func rollingMax(x []float64, window int) []float64 {
	return rollingExtreme(x, window, math.Max, math.Inf(-1))
}

func rollingExtreme(x []float64, window int, pick func(a, b float64) float64, seed float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		lo := i - window + 1
		if lo < 0 {
			lo = 0
		}
		v := seed
		for j := lo; j <= i; j++ {
			v = pick(v, x[j])
		}
		out[i] = v
	}
	return out
}

// diff returns x[i]-x[i-1], with the undefined first element set to 0 (the
// original's NaN there always lands on the "no movement" branch of the
// gain/loss and +DM/-DM splits that consume it, so 0 is equivalent).
func diff(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 {
			out[i] = 0
			continue
		}
		out[i] = x[i] - x[i-1]
	}
	return out
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
