package indicator

import "jupitor/internal/domain"

// newBollingerFunc ports original_source/indicators/bollinger.py's
// BollingerBands.calculate: SMA middle band, std-dev envelope, plus the
// derived width and %B columns.
func newBollingerFunc(params map[string]string) Func {
	period := intParam(params, "period", 20)
	stdDev := floatParam(params, "std_dev", 2.0)
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("bollinger", bars, period); err != nil {
			return nil, err
		}
		c := closes(bars)
		middle := rollingMean(c, period)
		std := rollingStd(c, period)

		upper := make([]float64, len(c))
		lower := make([]float64, len(c))
		width := make([]float64, len(c))
		percent := make([]float64, len(c))
		for i := range c {
			upper[i] = middle[i] + std[i]*stdDev
			lower[i] = middle[i] - std[i]*stdDev
			if middle[i] != 0 {
				width[i] = (upper[i] - lower[i]) / middle[i]
			}
			span := upper[i] - lower[i]
			if span != 0 {
				percent[i] = (c[i] - lower[i]) / span
			} else {
				percent[i] = 0.5
			}
		}
		return []Series{
			{Name: "bb_upper", Values: upper},
			{Name: "bb_middle", Values: middle},
			{Name: "bb_lower", Values: lower},
			{Name: "bb_width", Values: width},
			{Name: "bb_percent", Values: percent},
		}, nil
	}
}
