package indicator

import "jupitor/internal/domain"

// newMACDFunc ports original_source/indicators/macd.py's MACD.calculate:
// fast/slow EMA spread, its own EMA as the signal line, and the histogram
// between them.
func newMACDFunc(params map[string]string) Func {
	fast := intParam(params, "fast_period", 12)
	slow := intParam(params, "slow_period", 26)
	signal := intParam(params, "signal_period", 9)
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("macd", bars, slow+signal); err != nil {
			return nil, err
		}
		c := closes(bars)
		emaFast := ewm(c, fast)
		emaSlow := ewm(c, slow)

		macdLine := make([]float64, len(c))
		for i := range macdLine {
			macdLine[i] = emaFast[i] - emaSlow[i]
		}
		signalLine := ewm(macdLine, signal)

		histogram := make([]float64, len(c))
		for i := range histogram {
			histogram[i] = macdLine[i] - signalLine[i]
		}

		return []Series{
			{Name: "macd", Values: macdLine},
			{Name: "macd_signal", Values: signalLine},
			{Name: "macd_histogram", Values: histogram},
		}, nil
	}
}
