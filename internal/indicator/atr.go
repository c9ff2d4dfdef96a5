package indicator

import "jupitor/internal/domain"

// newATRFunc ports original_source/indicators/atr.py's calculate_atr: true
// range as the max of the three standard spreads, smoothed with a simple
// rolling mean (min_periods=1, matching the original's behaviour for the
// first period-1 bars).
func newATRFunc(params map[string]string) Func {
	period := intParam(params, "period", 14)
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("atr", bars, 1); err != nil {
			return nil, err
		}
		h, l, c := highs(bars), lows(bars), closes(bars)
		tr := make([]float64, len(bars))
		for i := range bars {
			tr1 := h[i] - l[i]
			tr2, tr3 := 0.0, 0.0
			if i > 0 {
				tr2 = abs(h[i] - c[i-1])
				tr3 = abs(l[i] - c[i-1])
			} else {
				tr2, tr3 = tr1, tr1
			}
			tr[i] = max3(tr1, tr2, tr3)
		}
		return []Series{{Name: "atr", Values: rollingMean(tr, period)}}, nil
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
