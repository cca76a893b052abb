package bandit

import (
	"math"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mathext/prng"
)

// Sampler draws Normal, Gamma and Beta variates from a single uniform
// source. It is not safe for concurrent use; callers serialize access.
type Sampler struct {
	rng *rand.Rand
}

// NewSampler returns a Sampler over src. Pass a seeded source (for example
// rand.NewPCG) for reproducible sequences.
func NewSampler(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// DefaultSource returns a Mersenne Twister seeded from the wall clock. The
// samples drive exploration only, so no cryptographic strength is needed.
func DefaultSource() rand.Source {
	src := prng.NewMT19937()
	src.Seed(uint64(time.Now().UnixNano()))
	return src
}

// Uniform returns a uniform variate in [0,1).
func (s *Sampler) Uniform() float64 {
	return s.rng.Float64()
}

// Normal returns a standard normal deviate using the Box-Muller transform.
// The paired sine deviate is discarded.
func (s *Sampler) Normal() float64 {
	u := 1 - s.rng.Float64()
	v := 1 - s.rng.Float64()
	return math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v)
}

// Gamma returns a Gamma(shape, 1) variate using Marsaglia and Tsang's
// method. Shapes below one are boosted to 1+shape and scaled back by
// U^(1/shape).
func (s *Sampler) Gamma(shape float64) (float64, error) {
	if !validParam(shape) {
		return 0, &InvalidParameterError{Param: "shape", Value: shape}
	}
	return s.gamma(shape), nil
}

func (s *Sampler) gamma(shape float64) float64 {
	if shape < 1 {
		return s.gamma(1+shape) * math.Pow(s.rng.Float64(), 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)

	for {
		var x, v float64
		for {
			x = s.Normal()
			v = 1 + c*x
			if v > 0 {
				break
			}
		}

		v = v * v * v
		u := s.rng.Float64()

		if u < 1-0.0331*(x*x)*(x*x) {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Beta returns a Beta(alpha, beta) variate in [0,1] as X/(X+Y) with
// X ~ Gamma(alpha) and Y ~ Gamma(beta). If both draws underflow to zero the
// result is 0.5.
func (s *Sampler) Beta(alpha, beta float64) (float64, error) {
	if !validParam(alpha) {
		return 0, &InvalidParameterError{Param: "alpha", Value: alpha}
	}
	if !validParam(beta) {
		return 0, &InvalidParameterError{Param: "beta", Value: beta}
	}

	x := s.gamma(alpha)
	y := s.gamma(beta)
	if x+y == 0 {
		return 0.5, nil
	}
	return x / (x + y), nil
}

func validParam(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// ConfidenceWidth is the normal approximation to the 95% credible interval
// half-width of Beta(alpha, beta).
func ConfidenceWidth(alpha, beta float64) float64 {
	n := alpha + beta
	variance := (alpha * beta) / (n * n * (n + 1))
	return 1.96 * math.Sqrt(variance)
}
