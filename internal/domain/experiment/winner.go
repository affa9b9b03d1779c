package experiment

import (
	"math/rand"

	"github.com/propelkit/experiments/internal/stats"
)

// WinnerDecision is the outcome of one winner evaluation.
type WinnerDecision struct {
	HasWinner  bool   `json:"has_winner"`
	WinnerID   string `json:"winner_id,omitempty"`
	WinnerName string `json:"winner_name,omitempty"`
}

// snapshots converts the experiment's variants into analyzer inputs,
// preserving stored order.
func snapshots(exp *Experiment) []stats.VariantSnapshot {
	out := make([]stats.VariantSnapshot, len(exp.Variants))
	for i, v := range exp.Variants {
		out[i] = stats.VariantSnapshot{
			VariantID:   v.ID,
			Name:        v.Name,
			IsControl:   v.IsControl,
			Impressions: v.Impressions,
			Conversions: v.Conversions,
			Clicks:      v.Clicks,
			TotalValue:  v.TotalValue,
		}
	}
	return out
}

// evaluate runs the full analysis over the experiment's current counters and
// applies the winner policy.
func (s *Service) evaluate(exp *Experiment) WinnerDecision {
	return EvaluateWinner(s.analysisRand(), exp)
}

// EvaluateWinner decides whether the experiment has a winner at its current
// counters.
//
// Policy: no verdict until the control arm has reached the experiment's
// minimum sample size in conversions.  Among the challengers that are both
// statistically significant and above the control rate, the highest
// conversion rate wins, with stored order breaking exact ties.  When every
// challenger is significant and below the control rate, the control itself
// wins.  Anything else is no winner yet.
//
// The control-wins branch gates only on the control's sample size, so an
// under-sampled challenger can in principle trigger a control verdict.
func EvaluateWinner(r *rand.Rand, exp *Experiment) WinnerDecision {
	control := exp.Control()
	if control == nil || control.Conversions < exp.MinSampleSize {
		return WinnerDecision{}
	}

	results := stats.Analyze(r, snapshots(exp), exp.ConfidenceLevel)

	var controlResult *stats.VariantResult
	for i := range results {
		if results[i].IsControl {
			controlResult = &results[i]
			break
		}
	}
	if controlResult == nil {
		return WinnerDecision{}
	}

	var best *stats.VariantResult
	challengers := 0
	significantLosers := 0
	for i := range results {
		res := &results[i]
		if res.IsControl {
			continue
		}
		challengers++
		switch {
		case res.Significant && res.ConversionRate > controlResult.ConversionRate:
			if best == nil || res.ConversionRate > best.ConversionRate {
				best = res
			}
		case res.Significant && res.ConversionRate < controlResult.ConversionRate:
			significantLosers++
		}
	}

	if best != nil {
		return WinnerDecision{HasWinner: true, WinnerID: best.VariantID, WinnerName: best.Name}
	}
	if challengers > 0 && significantLosers == challengers {
		return WinnerDecision{HasWinner: true, WinnerID: controlResult.VariantID, WinnerName: controlResult.Name}
	}
	return WinnerDecision{}
}

// Evaluate exposes the winner decision for one experiment without mutating
// any state.
func (s *Service) Evaluate(exp *Experiment) WinnerDecision {
	return s.evaluate(exp)
}
