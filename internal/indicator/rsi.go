package indicator

import "jupitor/internal/domain"

// newRSIFunc ports original_source/indicators/rsi.py's RSI.calculate:
// Wilder-style RS over an EMA of gains/losses, with RSI forced to 100 when
// the average loss is exactly zero.
func newRSIFunc(params map[string]string) Func {
	period := intParam(params, "period", 14)
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("rsi", bars, period+1); err != nil {
			return nil, err
		}
		c := closes(bars)
		delta := diff(c)

		gain := make([]float64, len(delta))
		loss := make([]float64, len(delta))
		for i, d := range delta {
			if d > 0 {
				gain[i] = d
			} else {
				loss[i] = -d
			}
		}

		avgGain := ewm(gain, period)
		avgLoss := ewm(loss, period)

		rsi := make([]float64, len(c))
		for i := range rsi {
			if avgLoss[i] == 0 {
				rsi[i] = 100.0
				continue
			}
			rs := avgGain[i] / avgLoss[i]
			rsi[i] = clip(100.0-(100.0/(1.0+rs)), 0, 100)
		}
		return []Series{{Name: "rsi", Values: rsi}}, nil
	}
}
