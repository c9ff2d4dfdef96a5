package indicator

import (
	"fmt"
	"strconv"
	"strings"

	"jupitor/internal/domain"
)

// newSMAFunc computes one simple moving average column per period listed in
// the comma-separated "periods" param (e.g. "20,50"), named sma_<period>.
// Not present in original_source as a standalone module — SmaCrossover
// computes its SMAs inline — but the pipeline's declarative column model
// needs it split out as its own indicator so the strategy can read
// `sma_<period>` columns by name like the original's `bar[f'sma_{window}']`.
func newSMAFunc(params map[string]string) Func {
	periods := parsePeriods(params["periods"], []int{20, 50})
	return func(bars []domain.Bar) ([]Series, error) {
		if err := requireBars("sma", bars, 1); err != nil {
			return nil, err
		}
		c := closes(bars)
		out := make([]Series, 0, len(periods))
		for _, p := range periods {
			out = append(out, Series{Name: fmt.Sprintf("sma_%d", p), Values: rollingMean(c, p)})
		}
		return out, nil
	}
}

func parsePeriods(raw string, def []int) []int {
	if raw == "" {
		return def
	}
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return def
	}
	return out
}
