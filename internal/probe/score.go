package probe

import (
	"errors"
	"math"

	"github.com/John-Robertt/nodesift/internal/model"
)

type Weights struct {
	Connectivity float64
	Latency      float64
	Stability    float64
}

// Scoring turns samples into a 0-100 score. Values are read-only after
// construction.
type Scoring struct {
	Weights          Weights
	LatencyCeilingMS float64 // mean latency at or above this scores 0
	JitterCeilingMS  float64 // stddev at or above this scores 0
	MinScore         float64 // nodes below are dropped
}

func DefaultScoring() Scoring {
	return Scoring{
		Weights:          Weights{Connectivity: 0.4, Latency: 0.4, Stability: 0.2},
		LatencyCeilingMS: 1000,
		JitterCeilingMS:  300,
		MinScore:         30,
	}
}

func (s Scoring) Validate() error {
	w := s.Weights
	if w.Connectivity < 0 || w.Latency < 0 || w.Stability < 0 {
		return errors.New("weights must not be negative")
	}
	if math.Abs(w.Connectivity+w.Latency+w.Stability-1) > 1e-6 {
		return errors.New("weights must sum to 1.0")
	}
	if s.LatencyCeilingMS <= 0 || s.JitterCeilingMS <= 0 {
		return errors.New("latency and jitter ceilings must be positive")
	}
	if s.MinScore < 0 || s.MinScore > 100 {
		return errors.New("min score must be within 0-100")
	}
	return nil
}

// Quality aggregates samples. It returns nil when no attempt succeeded.
func (s Scoring) Quality(samples []model.ProbeSample, connectivity bool) *model.Quality {
	var lat []float64
	for _, sm := range samples {
		if sm.OK {
			lat = append(lat, sm.LatencyMS)
		}
	}
	if len(lat) == 0 {
		return nil
	}

	mean, std := meanStdDev(lat)
	q := &model.Quality{
		MeanLatencyMS: mean,
		StdDevMS:      std,
		Connectivity:  connectivity,
		Successes:     len(lat),
		Attempts:      len(samples),
	}

	conn := 0.0
	if connectivity {
		conn = 1
	}
	latency := math.Max(0, 1-mean/s.LatencyCeilingMS)
	stability := math.Max(0, 1-std/s.JitterCeilingMS)
	score := 100 * (s.Weights.Connectivity*conn + s.Weights.Latency*latency + s.Weights.Stability*stability)
	q.Score = math.Round(math.Min(100, math.Max(0, score))*100) / 100
	return q
}

// Passes reports whether q is present and at or above the threshold.
func (s Scoring) Passes(q *model.Quality) bool {
	return q != nil && q.Score >= s.MinScore
}

// meanStdDev returns the mean and population standard deviation.
func meanStdDev(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(sq / float64(len(xs)))
}
