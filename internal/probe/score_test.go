package probe

import (
	"testing"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/stretchr/testify/require"
)

func samples(ms ...float64) []model.ProbeSample {
	out := make([]model.ProbeSample, 0, len(ms))
	for _, m := range ms {
		if m < 0 {
			out = append(out, model.ProbeSample{})
			continue
		}
		out = append(out, model.ProbeSample{LatencyMS: m, OK: true})
	}
	return out
}

func TestScoring_Quality(t *testing.T) {
	s := DefaultScoring()

	q := s.Quality(samples(100, 100, 100), true)
	require.NotNil(t, q)
	require.InDelta(t, 96.0, q.Score, 1e-9)
	require.InDelta(t, 100.0, q.MeanLatencyMS, 1e-9)
	require.Zero(t, q.StdDevMS)

	q = s.Quality(samples(100, 100, 100), false)
	require.InDelta(t, 56.0, q.Score, 1e-9)

	// mean 200, stddev 100: 100*(0.4 + 0.4*0.8 + 0.2*(2/3))
	q = s.Quality(samples(100, 300, -1), true)
	require.Equal(t, 2, q.Successes)
	require.Equal(t, 3, q.Attempts)
	require.InDelta(t, 100.0, q.StdDevMS, 1e-9)
	require.InDelta(t, 85.33, q.Score, 1e-9)

	// Latency past the ceiling floors at zero rather than going negative.
	q = s.Quality(samples(5000, 5000), false)
	require.InDelta(t, 20.0, q.Score, 1e-9)
	require.False(t, s.Passes(q))

	require.Nil(t, s.Quality(samples(-1, -1), true))
	require.False(t, s.Passes(nil))
}

func TestScoring_Validate(t *testing.T) {
	require.NoError(t, DefaultScoring().Validate())

	bad := DefaultScoring()
	bad.Weights.Latency = 0.5
	require.Error(t, bad.Validate())

	bad = DefaultScoring()
	bad.JitterCeilingMS = 0
	require.Error(t, bad.Validate())

	bad = DefaultScoring()
	bad.MinScore = 101
	require.Error(t, bad.Validate())
}
