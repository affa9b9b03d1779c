package stats

import (
	"math"
	"math/rand"
)

// SampleNormal draws one standard normal value using the Box–Muller
// transform.  The generator is passed in explicitly so callers can seed it
// for reproducible simulations.
func SampleNormal(r *rand.Rand) float64 {
	var u1 float64
	for u1 == 0 {
		u1 = r.Float64()
	}
	u2 := r.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// SampleGamma draws one value from a Gamma(shape, 1) distribution using the
// Marsaglia–Tsang squeeze method.  Shapes below 1 are handled with the usual
// boost: Gamma(shape) = Gamma(shape+1) · U^(1/shape).
func SampleGamma(r *rand.Rand, shape float64) float64 {
	if shape <= 0 {
		return 0
	}
	if shape < 1 {
		u := r.Float64()
		for u == 0 {
			u = r.Float64()
		}
		return SampleGamma(r, shape+1) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9*d)
	for {
		x := SampleNormal(r)
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := r.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// SampleBeta draws one value from a Beta(alpha, beta) distribution as the
// normalized ratio of two gamma draws.
func SampleBeta(r *rand.Rand, alpha, beta float64) float64 {
	ga := SampleGamma(r, alpha)
	gb := SampleGamma(r, beta)
	if ga+gb == 0 {
		return 0.5
	}
	return ga / (ga + gb)
}
