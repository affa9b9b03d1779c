package stats

import (
	"math"
	"math/rand"
)

// bayesianTrials is the number of Monte Carlo trials per win-probability
// simulation.
const bayesianTrials = 10000

// minControlConversionsForPower is the minimum number of control conversions
// required before a power estimate is meaningful.
const minControlConversionsForPower = 10

// VariantSnapshot is a point-in-time read of one variant's counters, taken
// from the store.  Statistical reads operate on best-effort snapshots and
// tolerate slightly stale counts.
type VariantSnapshot struct {
	VariantID   string
	Name        string
	IsControl   bool
	Impressions int64
	Conversions int64
	Clicks      int64
	TotalValue  float64
}

// ConversionRate returns conversions/impressions, or 0 with no impressions.
func (s VariantSnapshot) ConversionRate() float64 {
	if s.Impressions == 0 {
		return 0
	}
	return float64(s.Conversions) / float64(s.Impressions)
}

// VariantResult is the fully analyzed form of one variant: its snapshot plus
// the derived inferential statistics against the control arm.
type VariantResult struct {
	VariantSnapshot

	ConversionRate float64
	ClickRate      float64
	StandardError  float64
	CILower        float64
	CIUpper        float64

	// PValue is the two-tailed two-proportion p-value against the control
	// variant.  It is 1 for the control itself and for degenerate samples.
	PValue      float64
	Significant bool

	// RelativeImprovement is (rate−controlRate)/controlRate.  Nil for the
	// control variant and whenever the control rate is zero.
	RelativeImprovement *float64

	// WinProbability is the Bayesian probability that this variant has the
	// highest true conversion rate, estimated by Monte Carlo simulation.
	WinProbability float64
}

// StandardError returns sqrt(p·(1−p)/n), the standard error of an observed
// proportion p over n trials.  Zero-sample inputs yield 0 rather than NaN so
// read paths stay resilient with no traffic.
func StandardError(p float64, n int64) float64 {
	if n == 0 {
		return 0
	}
	return math.Sqrt(p * (1 - p) / float64(n))
}

// ConfidenceInterval returns the z·SE margin interval around p at the given
// confidence level, clamped to [0, 1].  With n = 0 the interval is [0, 0].
func ConfidenceInterval(p float64, n int64, confidenceLevel float64) (lower, upper float64) {
	if n == 0 {
		return 0, 0
	}
	margin := ZScore(confidenceLevel) * StandardError(p, n)
	lower = math.Max(0, p-margin)
	upper = math.Min(1, p+margin)
	return lower, upper
}

// TwoProportionPValue computes the two-tailed p-value of the pooled
// two-proportion z-test between samples (convA of nA) and (convB of nB).
// Empty samples and zero pooled variance yield 1 (no evidence).
func TwoProportionPValue(convA, nA, convB, nB int64) float64 {
	if nA == 0 || nB == 0 {
		return 1
	}

	p1 := float64(convA) / float64(nA)
	p2 := float64(convB) / float64(nB)
	pooled := float64(convA+convB) / float64(nA+nB)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(nA) + 1/float64(nB)))
	if se == 0 {
		return 1
	}

	z := math.Abs(p1-p2) / se
	p := 2 * (1 - NormalCDF(z))
	return math.Min(1, math.Max(0, p))
}

// RelativeImprovement returns (rate−controlRate)/controlRate and true, or
// (0, false) when the control rate is zero and the ratio is undefined.
func RelativeImprovement(rate, controlRate float64) (float64, bool) {
	if controlRate == 0 {
		return 0, false
	}
	return (rate - controlRate) / controlRate, true
}

// StatisticalPower estimates the probability of detecting the currently
// observed effect size at the current sample sizes, using Cohen's h and a
// normal approximation of the non-central distribution.  It returns 0 until
// the control arm has accumulated enough conversions to make the estimate
// meaningful.
func StatisticalPower(variants []VariantSnapshot) float64 {
	var control *VariantSnapshot
	var treatments []VariantSnapshot
	for i := range variants {
		if variants[i].IsControl {
			control = &variants[i]
		} else {
			treatments = append(treatments, variants[i])
		}
	}
	if control == nil || control.Conversions < minControlConversionsForPower || len(treatments) == 0 {
		return 0
	}

	var rateSum, impSum float64
	for _, t := range treatments {
		rateSum += t.ConversionRate()
		impSum += float64(t.Impressions)
	}
	avgTreatmentRate := rateSum / float64(len(treatments))
	avgImpressions := impSum / float64(len(treatments))

	// Cohen's h via the arcsine variance-stabilizing transform.
	h := 2*math.Asin(math.Sqrt(avgTreatmentRate)) - 2*math.Asin(math.Sqrt(control.ConversionRate()))
	ncp := math.Abs(h) * math.Sqrt(avgImpressions/2)

	power := NormalCDF(ncp - 1.96)
	return math.Min(1, math.Max(0, power))
}

// BayesianWinProbability estimates, for each variant, the probability that
// its true conversion rate is the highest among all variants.  Each Monte
// Carlo trial draws one rate per variant from its posterior
// Beta(conversions+1, impressions−conversions+1) and credits the variant
// with the highest draw.  The returned slice is aligned with the input and
// sums to 1 within simulation noise.
func BayesianWinProbability(r *rand.Rand, variants []VariantSnapshot) []float64 {
	wins := make([]int, len(variants))
	if len(variants) == 0 {
		return nil
	}

	for trial := 0; trial < bayesianTrials; trial++ {
		best := 0
		bestSample := -1.0
		for i, v := range variants {
			alpha := float64(v.Conversions) + 1
			beta := float64(v.Impressions-v.Conversions) + 1
			sample := SampleBeta(r, alpha, beta)
			if sample > bestSample {
				bestSample = sample
				best = i
			}
		}
		wins[best]++
	}

	probs := make([]float64, len(variants))
	for i, w := range wins {
		probs[i] = float64(w) / float64(bayesianTrials)
	}
	return probs
}

// Analyze derives the full per-variant statistics for one experiment from a
// set of counter snapshots.  Significance is judged against the control arm
// at alpha = 1 − confidenceLevel.  The result slice preserves input order.
func Analyze(r *rand.Rand, variants []VariantSnapshot, confidenceLevel float64) []VariantResult {
	if len(variants) == 0 {
		return nil
	}

	var control *VariantSnapshot
	for i := range variants {
		if variants[i].IsControl {
			control = &variants[i]
			break
		}
	}

	winProbs := BayesianWinProbability(r, variants)
	alpha := 1 - confidenceLevel

	results := make([]VariantResult, len(variants))
	for i, v := range variants {
		rate := v.ConversionRate()
		se := StandardError(rate, v.Impressions)
		lower, upper := ConfidenceInterval(rate, v.Impressions, confidenceLevel)

		clickRate := 0.0
		if v.Impressions > 0 {
			clickRate = float64(v.Clicks) / float64(v.Impressions)
		}

		res := VariantResult{
			VariantSnapshot: v,
			ConversionRate:  rate,
			ClickRate:       clickRate,
			StandardError:   se,
			CILower:         lower,
			CIUpper:         upper,
			PValue:          1,
			WinProbability:  winProbs[i],
		}

		if control != nil && !v.IsControl {
			res.PValue = TwoProportionPValue(v.Conversions, v.Impressions, control.Conversions, control.Impressions)
			res.Significant = res.PValue < alpha
			if imp, ok := RelativeImprovement(rate, control.ConversionRate()); ok {
				res.RelativeImprovement = &imp
			}
		}

		results[i] = res
	}
	return results
}
