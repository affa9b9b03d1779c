package experiment

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/propelkit/experiments/internal/stats"
)

// powerZ is the one-sided critical value for the 80% power target used by
// the sample size projection.
const powerZ = 0.84

// Results is the aggregated read model for one experiment: per-variant
// inferential statistics, the current winner verdict, and a human-readable
// recommendation.
type Results struct {
	ExperimentID       string               `json:"experiment_id"`
	Name               string               `json:"name"`
	Status             Status               `json:"status"`
	ConfidenceLevel    float64              `json:"confidence_level"`
	MinSampleSize      int64                `json:"min_sample_size"`
	Variants           []stats.VariantResult `json:"variants"`
	TotalImpressions   int64                `json:"total_impressions"`
	TotalConversions   int64                `json:"total_conversions"`
	StatisticalPower   float64              `json:"statistical_power"`
	HasWinner          bool                 `json:"has_winner"`
	WinnerID           *string              `json:"winner_id,omitempty"`
	WinnerName         string               `json:"winner_name,omitempty"`
	Recommendation     string               `json:"recommendation"`
	DaysToSignificance *int                 `json:"days_to_significance,omitempty"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// Results computes the full statistical read model for one experiment from a
// best-effort snapshot of its counters.  Empty experiments degrade to
// neutral statistics rather than erroring, so the endpoint stays usable
// before any traffic arrives.
func (s *Service) Results(ctx context.Context, id string) (*Results, error) {
	exp, err := s.experiments.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	snaps := snapshots(exp)
	analyzed := stats.Analyze(s.analysisRand(), snaps, exp.ConfidenceLevel)
	power := stats.StatisticalPower(snaps)

	var totalImpressions, totalConversions int64
	for _, v := range exp.Variants {
		totalImpressions += v.Impressions
		totalConversions += v.Conversions
	}

	res := &Results{
		ExperimentID:     exp.ID,
		Name:             exp.Name,
		Status:           exp.Status,
		ConfidenceLevel:  exp.ConfidenceLevel,
		MinSampleSize:    exp.MinSampleSize,
		Variants:         analyzed,
		TotalImpressions: totalImpressions,
		TotalConversions: totalConversions,
		StatisticalPower: power,
		GeneratedAt:      s.now(),
	}

	if exp.WinnerID != nil {
		res.HasWinner = true
		res.WinnerID = exp.WinnerID
		if w := exp.Variant(*exp.WinnerID); w != nil {
			res.WinnerName = w.Name
		}
	} else {
		decision := EvaluateWinner(s.analysisRand(), exp)
		if decision.HasWinner {
			res.HasWinner = true
			res.WinnerID = &decision.WinnerID
			res.WinnerName = decision.WinnerName
		}
	}

	res.DaysToSignificance = estimateDaysToSignificance(exp, analyzed, s.now())
	res.Recommendation = buildRecommendation(exp, res, analyzed)
	return res, nil
}

// estimateDaysToSignificance projects how many more days of traffic at the
// current rate are needed before the leading challenger reaches
// significance.  Returns nil when the projection is undefined: already
// significant, not started, no observable effect, or no traffic yet.
func estimateDaysToSignificance(exp *Experiment, results []stats.VariantResult, now time.Time) *int {
	if exp.StartDate == nil {
		return nil
	}

	var control *stats.VariantResult
	var best *stats.VariantResult
	for i := range results {
		res := &results[i]
		if res.IsControl {
			control = res
			continue
		}
		if res.Significant {
			return nil
		}
		if best == nil || res.ConversionRate > best.ConversionRate {
			best = res
		}
	}
	if control == nil || best == nil || control.Impressions == 0 || best.Impressions == 0 {
		return nil
	}

	p1 := control.ConversionRate
	p2 := best.ConversionRate
	effect := math.Abs(p2 - p1)
	if effect == 0 {
		return nil
	}

	// Required per-arm sample size for the observed effect at the
	// experiment's confidence level and 80% power.
	z := stats.ZScore(exp.ConfidenceLevel)
	needed := math.Pow(z+powerZ, 2) * (p1*(1-p1) + p2*(1-p2)) / (effect * effect)

	currentPerArm := float64(control.Impressions+best.Impressions) / 2
	if currentPerArm >= needed {
		return nil
	}

	elapsed := now.Sub(*exp.StartDate).Hours() / 24
	if elapsed < 1 {
		elapsed = 1
	}
	dailyPerArm := currentPerArm / elapsed
	if dailyPerArm <= 0 {
		return nil
	}

	days := int(math.Ceil((needed - currentPerArm) / dailyPerArm))
	if days < 1 {
		days = 1
	}
	return &days
}

// buildRecommendation renders a short human-readable summary of where the
// experiment stands.  Presentation only; every number it mentions comes from
// the statistical read model.
func buildRecommendation(exp *Experiment, res *Results, results []stats.VariantResult) string {
	if res.HasWinner {
		if exp.Status.IsTerminal() {
			return fmt.Sprintf("%q won this experiment. Roll out the winning variant.", res.WinnerName)
		}
		return fmt.Sprintf("%q is the statistically significant winner. Consider completing the experiment.", res.WinnerName)
	}

	control := findControl(results)
	if control == nil {
		return "No control variant found. Review the experiment configuration."
	}
	if control.Conversions < res.MinSampleSize {
		return fmt.Sprintf("Collecting data: %d of %d control conversions needed before a winner can be declared.",
			control.Conversions, res.MinSampleSize)
	}
	if res.DaysToSignificance != nil {
		return fmt.Sprintf("No significant difference yet. At the current traffic rate, roughly %d more days are needed.",
			*res.DaysToSignificance)
	}
	return "No significant difference between variants so far. Keep the experiment running."
}

func findControl(results []stats.VariantResult) *stats.VariantResult {
	for i := range results {
		if results[i].IsControl {
			return &results[i]
		}
	}
	return nil
}
