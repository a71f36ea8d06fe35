// Package metrics keeps the counters of one pipeline run in a private
// Prometheus registry, optionally exported as a node_exporter textfile.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nodesift"

// Run holds the metrics of a single run. It is safe for concurrent use.
type Run struct {
	reg *prometheus.Registry

	sources      *prometheus.CounterVec
	decoded      *prometheus.CounterVec
	decodeErrors prometheus.Counter
	deduped      prometheus.Gauge
	probes       *prometheus.CounterVec
	output       prometheus.Gauge
	duration     prometheus.Gauge
}

func New() *Run {
	r := &Run{
		reg: prometheus.NewRegistry(),
		sources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_total",
			Help:      "Sources read, by result (ok, failed).",
		}, []string{"result"}),
		decoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_decoded_total",
			Help:      "Nodes decoded, by subscription format.",
		}, []string{"format"}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Lines or records skipped by the decoder.",
		}),
		deduped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_deduped",
			Help:      "Nodes left after dedupe and the per-host cap.",
		}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Node probes, by result (ok or drop reason).",
		}, []string{"result"}),
		output: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nodes_output",
			Help:      "Nodes written to the output document.",
		}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of the last run.",
		}),
	}
	r.reg.MustRegister(r.sources, r.decoded, r.decodeErrors, r.deduped, r.probes, r.output, r.duration)
	return r
}

func (r *Run) Registry() *prometheus.Registry { return r.reg }

func (r *Run) SourceRead(ok bool) {
	if ok {
		r.sources.WithLabelValues("ok").Inc()
	} else {
		r.sources.WithLabelValues("failed").Inc()
	}
}

func (r *Run) NodesDecoded(format string, n int) {
	if format == "" {
		format = "(unknown)"
	}
	r.decoded.WithLabelValues(format).Add(float64(n))
}

func (r *Run) DecodeErrors(n int) { r.decodeErrors.Add(float64(n)) }

func (r *Run) Deduped(n int) { r.deduped.Set(float64(n)) }

// Probed counts one probe outcome. An empty code is a kept node; an error
// code such as PROBE_UNREACHABLE is recorded as "unreachable".
func (r *Run) Probed(code string) {
	result := "ok"
	if code = strings.TrimSpace(code); code != "" {
		result = strings.ToLower(strings.TrimPrefix(code, "PROBE_"))
	}
	r.probes.WithLabelValues(result).Inc()
}

func (r *Run) Output(n int) { r.output.Set(float64(n)) }

func (r *Run) Duration(d time.Duration) { r.duration.Set(d.Seconds()) }

// WriteTextfile writes the registry in the text exposition format. The file
// is replaced atomically.
func (r *Run) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	return prometheus.WriteToTextfile(path, r.reg)
}
