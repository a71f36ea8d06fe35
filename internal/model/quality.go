package model

// ProbeSample is one transport-level connection attempt.
type ProbeSample struct {
	LatencyMS float64 // only meaningful when OK
	OK        bool
}

// Quality is the aggregate of all samples taken for one node in one run.
type Quality struct {
	Score         float64 // 0-100
	MeanLatencyMS float64
	StdDevMS      float64
	Connectivity  bool
	Successes     int
	Attempts      int
}

// Result pairs a node with its quality; Quality is nil when the node was
// dropped by the prober.
type Result struct {
	Proxy   Proxy
	Quality *Quality
}
