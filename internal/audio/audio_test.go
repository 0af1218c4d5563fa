package audio

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediadupfinder/internal/models"
)

const testRate = 8000

func tone(freq float64, seconds float64, amp float64) []float64 {
	n := int(seconds * testRate)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/testRate)
	}
	return out
}

func withNoise(x []float64, level float64, seed int64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v + level*(r.Float64()*2-1)
	}
	return out
}

func TestExtractor_VectorShape(t *testing.T) {
	e := NewExtractor(testRate)
	vec, err := e.Compute(tone(440, 1, 0.5))
	require.NoError(t, err)
	assert.Len(t, vec, VectorLen)
	for _, v := range vec {
		assert.False(t, math.IsNaN(v) || math.IsInf(v, 0), "vector must be finite: %v", vec)
	}
}

func TestExtractor_Deterministic(t *testing.T) {
	e := NewExtractor(testRate)
	a, err := e.Compute(tone(440, 1, 0.5))
	require.NoError(t, err)
	b, err := e.Compute(tone(440, 1, 0.5))
	require.NoError(t, err)
	assert.Equal(t, 0.0, Euclidean(a, b))
}

func TestExtractor_SimilarVersusDistinct(t *testing.T) {
	e := NewExtractor(testRate)

	base, err := e.Compute(tone(440, 2, 0.5))
	require.NoError(t, err)
	noisy, err := e.Compute(withNoise(tone(440, 2, 0.5), 0.005, 1))
	require.NoError(t, err)
	other, err := e.Compute(tone(2500, 2, 0.5))
	require.NoError(t, err)

	near := Euclidean(base, noisy)
	far := Euclidean(base, other)
	assert.Less(t, near, far, "a lightly noisy copy must be closer than a different tone")
}

func TestExtractor_TooShortOrSilent(t *testing.T) {
	e := NewExtractor(testRate)

	_, err := e.Compute(make([]float64, frameSize-1))
	assert.True(t, errors.Is(err, models.ErrNoAudioTrack))

	_, err = e.Compute(make([]float64, testRate))
	assert.True(t, errors.Is(err, models.ErrNoAudioTrack))
}

func TestMelFilterbank(t *testing.T) {
	bank := melFilterbank(numFilters, frameSize, 16000)
	require.Len(t, bank, numFilters)
	for m, row := range bank {
		assert.Len(t, row, frameSize/2+1)
		var sum float64
		for _, w := range row {
			assert.GreaterOrEqual(t, w, 0.0)
			assert.LessOrEqual(t, w, 1.0)
			sum += w
		}
		assert.Greater(t, sum, 0.0, "filter %d is empty", m)
	}
}

func TestMetrics(t *testing.T) {
	a := []float64{1, 0, 0}
	b := []float64{0, 1, 0}

	assert.InDelta(t, math.Sqrt2, Euclidean(a, b), 1e-12)
	assert.InDelta(t, 1.0, Cosine(a, b), 1e-12)
	assert.InDelta(t, 0.0, Cosine(a, []float64{3, 0, 0}), 1e-12)
	assert.InDelta(t, 2.0, Cosine(a, []float64{-1, 0, 0}), 1e-12)
	assert.True(t, math.IsInf(Euclidean(a, []float64{1}), 1))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{0, 0}))
}

func TestMetricFor(t *testing.T) {
	a := []float64{1, 0}
	b := []float64{0, 2}
	assert.InDelta(t, Cosine(a, b), MetricFor("cosine")(a, b), 1e-12)
	assert.InDelta(t, Euclidean(a, b), MetricFor("euclidean")(a, b), 1e-12)
	assert.InDelta(t, Euclidean(a, b), MetricFor("")(a, b), 1e-12)
}

type fakePCM struct {
	samples []float64
	err     error
}

func (f fakePCM) Audio(_ context.Context, _ string, _ int, _ float64) ([]float64, error) {
	return f.samples, f.err
}

func TestFingerprinter(t *testing.T) {
	ctx := context.Background()

	fp, err := NewFingerprinter(fakePCM{samples: tone(440, 3, 0.5)}, testRate, 2).Fingerprint(ctx, "clip.mp4")
	require.NoError(t, err)
	assert.Len(t, fp.Vector, VectorLen)
	assert.InDelta(t, 2.0, fp.Seconds, 1e-9, "samples beyond the cap are ignored")

	_, err = NewFingerprinter(fakePCM{err: models.ErrNoAudioTrack}, testRate, 2).Fingerprint(ctx, "silent.mp4")
	assert.True(t, errors.Is(err, models.ErrNoAudioTrack))
	assert.Equal(t, models.ErrorNoAudio, models.ErrorKindOf(err))
}
