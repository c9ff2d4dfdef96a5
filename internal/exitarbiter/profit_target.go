package exitarbiter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"jupitor/internal/domain"
	"jupitor/internal/indicator"
)

const profitTargetPriority = 40

// TargetLevel is one (profit percent, close percent) rung of a
// multi-level scale-out ladder.
type TargetLevel struct {
	PercentGain float64
	ClosePct    float64
}

// ProfitTarget closes a position once unrealized profit reaches a
// percentage of entry capital, either in one shot or across a ladder of
// partial closes. Grounded on original_source/exit/profit_target.py's
// ProfitTargetExit.
type ProfitTarget struct {
	targetPct          float64
	partialCloseEnabled bool
	levels             []TargetLevel
	scaleWithVolatility bool

	targetsHit map[int64]map[int]bool
}

// NewProfitTarget builds the rule from params. target_levels, when set, is
// a comma-separated "percent:closePct" list, e.g. "1.0:50,2.0:50" for a
// 50%-at-+1%%-then-remainder-at-+2%% ladder.
func NewProfitTarget(params map[string]string) *ProfitTarget {
	return &ProfitTarget{
		targetPct:           floatParam(params, "target_pct", 2.0),
		partialCloseEnabled: boolParam(params, "partial_close_enabled", false),
		levels:              parseTargetLevels(params["target_levels"]),
		scaleWithVolatility: boolParam(params, "scale_with_volatility", false),
		targetsHit:          make(map[int64]map[int]bool),
	}
}

func (r *ProfitTarget) Name() string  { return "profit_target" }
func (r *ProfitTarget) Priority() int { return profitTargetPriority }
func (r *ProfitTarget) Forget(ticket int64) { delete(r.targetsHit, ticket) }

func (r *ProfitTarget) Evaluate(pos domain.PositionRecord, clock Clock, snap indicator.Snapshot) *domain.ExitDecision {
	volume, _ := pos.Volume.Float64()
	if volume == 0 || pos.OpenPrice == 0 {
		return nil
	}
	unrealized, _ := pos.UnrealizedPnL.Float64()
	profitPct := (unrealized / (volume * pos.OpenPrice)) * 100

	targetMetric := r.targetPct
	if r.scaleWithVolatility {
		if atr, ok := snap.Value("atr"); ok {
			atrPct := (atr / pos.OpenPrice) * 100
			scaling := clampFloat(atrPct, 0.5, 2.0)
			targetMetric *= scaling
		}
	}

	if r.partialCloseEnabled && len(r.levels) > 0 {
		return r.evaluateLadder(pos, clock, profitPct)
	}

	if profitPct >= targetMetric {
		return &domain.ExitDecision{
			Ticket:             pos.Ticket,
			Reason:             fmt.Sprintf("profit target reached (%.2f%%)", profitPct),
			DesiredCloseVolume: decimal.Zero,
			TriggerTime:        clock.Now,
			Confidence:         1.0,
			Metadata:           map[string]string{"exit_type": "profit_target", "profit_pct": fmt.Sprintf("%.4f", profitPct)},
		}
	}
	return nil
}

func (r *ProfitTarget) evaluateLadder(pos domain.PositionRecord, clock Clock, profitPct float64) *domain.ExitDecision {
	hit, ok := r.targetsHit[pos.Ticket]
	if !ok {
		hit = make(map[int]bool)
		r.targetsHit[pos.Ticket] = hit
	}

	for i, level := range r.levels {
		if hit[i] {
			continue
		}
		if profitPct < level.PercentGain {
			continue
		}
		hit[i] = true
		isFinal := i == len(r.levels)-1
		desired := pos.Volume.Mul(decimal.NewFromFloat(level.ClosePct / 100.0))
		if isFinal {
			desired = decimal.Zero
		}
		return &domain.ExitDecision{
			Ticket:             pos.Ticket,
			Reason:             fmt.Sprintf("partial target %d/%d (%.2f%%)", i+1, len(r.levels), profitPct),
			DesiredCloseVolume: desired,
			TriggerTime:        clock.Now,
			Confidence:         1.0,
			Metadata: map[string]string{
				"exit_type":    "profit_target_partial",
				"target_level": fmt.Sprintf("%d", i+1),
				"is_final":     strconv.FormatBool(isFinal),
			},
		}
	}
	return nil
}

func parseTargetLevels(raw string) []TargetLevel {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []TargetLevel
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 2)
		if len(parts) != 2 {
			continue
		}
		pct, errP := strconv.ParseFloat(parts[0], 64)
		closePct, errC := strconv.ParseFloat(parts[1], 64)
		if errP != nil || errC != nil {
			continue
		}
		out = append(out, TargetLevel{PercentGain: pct, ClosePct: closePct})
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
