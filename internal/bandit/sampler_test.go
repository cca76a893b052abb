package bandit

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(seed uint64) *Sampler {
	return NewSampler(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func TestBetaStaysInUnitInterval(t *testing.T) {
	s := seeded(1)
	params := [][2]float64{
		{2, 2}, {0.01, 0.01}, {0.5, 3}, {1, 1}, {52, 2}, {2, 54}, {1e4, 1e4}, {0.001, 500},
	}
	for _, p := range params {
		for i := 0; i < 5000; i++ {
			v, err := s.Beta(p[0], p[1])
			require.NoError(t, err)
			require.Falsef(t, math.IsNaN(v), "Beta(%v,%v) returned NaN", p[0], p[1])
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 1.0)
		}
	}
}

func TestBetaMeanMatchesPosterior(t *testing.T) {
	s := seeded(7)
	const n = 20000
	var sum float64
	for i := 0; i < n; i++ {
		v, err := s.Beta(8, 2)
		require.NoError(t, err)
		sum += v
	}
	assert.InDelta(t, 0.8, sum/n, 0.01)
}

func TestGammaMoments(t *testing.T) {
	s := seeded(42)
	const n = 20000
	for _, shape := range []float64{0.5, 1, 3, 10} {
		var sum float64
		for i := 0; i < n; i++ {
			v, err := s.Gamma(shape)
			require.NoError(t, err)
			require.GreaterOrEqual(t, v, 0.0)
			sum += v
		}
		assert.InDeltaf(t, shape, sum/n, 0.05*math.Max(1, shape), "mean of Gamma(%v)", shape)
	}
}

func TestNormalMoments(t *testing.T) {
	s := seeded(3)
	const n = 20000
	var sum, sumSq float64
	for i := 0; i < n; i++ {
		v := s.Normal()
		sum += v
		sumSq += v * v
	}
	mean := sum / n
	assert.InDelta(t, 0, mean, 0.05)
	assert.InDelta(t, 1, sumSq/n-mean*mean, 0.05)
}

func TestGammaRejectsInvalidShape(t *testing.T) {
	s := seeded(1)
	for _, shape := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := s.Gamma(shape)
		var ipe *InvalidParameterError
		require.Truef(t, errors.As(err, &ipe), "shape %v should fail with InvalidParameterError", shape)
		assert.Equal(t, "shape", ipe.Param)
	}
}

func TestBetaRejectsInvalidParameters(t *testing.T) {
	s := seeded(1)
	_, err := s.Beta(0, 2)
	var ipe *InvalidParameterError
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "alpha", ipe.Param)

	_, err = s.Beta(2, -3)
	require.ErrorAs(t, err, &ipe)
	assert.Equal(t, "beta", ipe.Param)
}

func TestSamplerIsReproducibleForSameSeed(t *testing.T) {
	a, b := seeded(99), seeded(99)
	for i := 0; i < 100; i++ {
		va, err := a.Beta(2, 3)
		require.NoError(t, err)
		vb, err := b.Beta(2, 3)
		require.NoError(t, err)
		require.Equal(t, va, vb)
	}
}

func TestConfidenceWidthShrinksWithEvidence(t *testing.T) {
	for _, ratio := range []float64{1, 3, 0.25} {
		prev := math.Inf(1)
		for k := 1.0; k <= 200; k++ {
			w := ConfidenceWidth(k*ratio, k)
			require.Lessf(t, w, prev, "width must shrink at k=%v ratio=%v", k, ratio)
			prev = w
		}
	}
}

func TestConfidenceWidthPrior(t *testing.T) {
	// Beta(2,2): variance = 4 / (16 * 5) = 0.05.
	assert.InDelta(t, 1.96*math.Sqrt(0.05), ConfidenceWidth(2, 2), 1e-12)
}

func TestDefaultSourceProducesUniforms(t *testing.T) {
	s := NewSampler(DefaultSource())
	for i := 0; i < 1000; i++ {
		u := s.Uniform()
		require.GreaterOrEqual(t, u, 0.0)
		require.Less(t, u, 1.0)
	}
}
