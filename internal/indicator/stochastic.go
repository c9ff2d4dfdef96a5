package indicator

import "jupitor/internal/domain"

// newStochasticFunc ports original_source/indicators/stochastic.py's
// Stochastic.calculate: raw %K from the rolling high/low range, smoothed
// into %K and %D, defaulting to the midpoint (50) wherever the rolling
// high-low range is zero.
func newStochasticFunc(params map[string]string) Func {
	kPeriod := intParam(params, "k_period", 14)
	dPeriod := intParam(params, "d_period", 3)
	smoothK := intParam(params, "smooth_k", 3)
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("stochastic", bars, kPeriod+smoothK+dPeriod); err != nil {
			return nil, err
		}
		h, l, c := highs(bars), lows(bars), closes(bars)
		n := len(bars)

		lowestLow := rollingMin(l, kPeriod)
		highestHigh := rollingMax(h, kPeriod)

		rawK := make([]float64, n)
		for i := 0; i < n; i++ {
			span := highestHigh[i] - lowestLow[i]
			if span == 0 {
				rawK[i] = 50.0
				continue
			}
			rawK[i] = clip(100.0*(c[i]-lowestLow[i])/span, 0, 100)
		}

		stochK := rollingMean(rawK, smoothK)
		stochD := rollingMean(stochK, dPeriod)

		return []Series{
			{Name: "stoch_k", Values: stochK},
			{Name: "stoch_d", Values: stochD},
		}, nil
	}
}
