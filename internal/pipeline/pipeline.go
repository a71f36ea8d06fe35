// Package pipeline runs one pass over the subscription sources: read,
// decode, dedupe, filter by region, probe, rank and write the document.
package pipeline

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/nodesift/internal/config"
	"github.com/John-Robertt/nodesift/internal/dedupe"
	"github.com/John-Robertt/nodesift/internal/fetch"
	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/John-Robertt/nodesift/internal/probe"
	"github.com/John-Robertt/nodesift/internal/rank"
	"github.com/John-Robertt/nodesift/internal/render"
	"github.com/John-Robertt/nodesift/internal/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Report summarizes a run. Counts follow the stages in order.
type Report struct {
	RunID string

	Locations    []string
	UsedFallback bool
	SourcesOK    int
	SourcesFail  int

	// FetchErr aggregates every source (and source list) failure. It is
	// informational; a run with some failed sources still succeeds.
	FetchErr error

	Decoded      int
	DecodeErrors int
	Deduped      int
	Disallowed   int // removed by output.protocols / output.networks
	InRegion     int
	ProbeDropped int
	Output       int

	// InputExhausted means no source produced a parseable node. The output
	// document is still written, empty.
	InputExhausted bool

	// HistoryKeys is the number of nodes in the quality history after this
	// run; HistoryAverage is the mean long-run score of the output nodes.
	// Both are zero when no history file is configured.
	HistoryKeys    int
	HistoryAverage float64

	OutputPath string
	Duration   time.Duration
}

// Run executes one pass. Only a failure to produce or persist the output
// document is returned as an error; every other failure is logged and
// reflected in the report. A canceled ctx returns ctx.Err() before the
// output is touched.
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Report, error) {
	if err := deps.fill(cfg); err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	log := deps.Log.WithField("run", runID)
	start := deps.Clock.Now()
	rep := &Report{RunID: runID, OutputPath: cfg.Output.Path}

	// 1) Sources.
	cached := readSideLines(log, cfg.Output.SourceCacheFile)
	locs, usedFallback, listErr := deps.Reader.ResolveLocations(ctx, cfg.Sources, cfg.SourceListURL, cfg.FallbackSources, cached)
	rep.Locations, rep.UsedFallback = locs, usedFallback
	if usedFallback {
		log.WithField("locations", len(locs)).Warn("using fallback sources")
	}

	sources := deps.Reader.Read(ctx, locs)
	rep.FetchErr = multierr.Append(listErr, fetch.Errors(sources))
	for _, s := range sources {
		deps.Metrics.SourceRead(s.OK)
		if s.OK {
			rep.SourcesOK++
		} else {
			rep.SourcesFail++
		}
	}

	// 2) Decode.
	var nodes []model.Proxy
	for _, s := range sources {
		if !s.OK {
			continue
		}
		res := deps.Decoder.Decode(s.ID, s.Text)
		deps.Metrics.NodesDecoded(string(res.Format), len(res.Proxies))
		deps.Metrics.DecodeErrors(len(res.Errors))
		rep.DecodeErrors += len(res.Errors)
		log.WithFields(logrus.Fields{
			"source":  s.ID,
			"format":  res.Format,
			"nodes":   len(res.Proxies),
			"errors":  len(res.Errors),
			"ignored": res.Ignored,
		}).Info("source decoded")
		nodes = append(nodes, res.Proxies...)
	}
	rep.Decoded = len(nodes)
	rep.InputExhausted = len(nodes) == 0
	if rep.InputExhausted {
		log.Warn("no parseable node in any source, writing an empty document")
	}

	// 3) Dedupe, region, probe.
	var results []model.Result
	if !rep.InputExhausted {
		blacklist := readSideLines(log, cfg.Dedupe.BlacklistFile)
		deduped, st := dedupe.Dedupe(nodes, cfg.DedupeOptions(blacklist))
		rep.Deduped = len(deduped)
		deps.Metrics.Deduped(len(deduped))
		log.WithFields(logrus.Fields{
			"stage":       "dedupe",
			"kept":        len(deduped),
			"invalid":     st.Invalid,
			"blacklisted": st.Blacklisted,
			"duplicates":  st.Duplicates,
			"over_cap":    st.OverCap,
		}).Info("nodes deduped")

		allowed, disallowed := cfg.Allowlist().Filter(deduped)
		rep.Disallowed = disallowed
		if disallowed > 0 {
			log.WithFields(logrus.Fields{
				"stage":     "dedupe",
				"removed":   disallowed,
				"protocols": cfg.Output.Protocols,
				"networks":  cfg.Output.Networks,
			}).Info("nodes outside the protocol allowlist removed")
		}

		inRegion := deps.Classifier.Filter(ctx, allowed)
		rep.InRegion = len(inRegion)

		var perrs []*probe.ProbeError
		results, perrs = deps.Prober.Probe(ctx, inRegion)
		rep.ProbeDropped = len(perrs)
		for _, e := range perrs {
			deps.Metrics.Probed(e.AppError.Code)
		}
		for _, r := range results {
			if r.Quality != nil {
				deps.Metrics.Probed("")
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// 4) History, rank, write.
	var history *store.History
	if cfg.Output.HistoryFile != "" {
		h, err := store.LoadHistory(cfg.Output.HistoryFile)
		if err != nil {
			log.WithField("stage", "store").Warnf("quality history unreadable, starting fresh: %v", err)
			h = store.NewHistory()
		}
		for _, r := range results {
			if r.Quality != nil {
				h.Record(r.Proxy.Key(), r.Quality.Score)
			}
		}
		history = h
	}

	ranked := rank.Rank(results, cfg.Rank.TopN)
	proxies := lo.Map(ranked, func(r model.Result, _ int) model.Proxy { return r.Proxy })
	rep.Output = len(proxies)
	deps.Metrics.Output(len(proxies))
	if history != nil {
		rep.HistoryKeys = history.Len()
		rep.HistoryAverage = historyAverage(log, history, ranked)
	}

	data, err := renderDocument(cfg, proxies)
	if err != nil {
		log.WithField("stage", "render").Errorf("render failed: %v", err)
		return rep, err
	}
	if err := render.WriteFile(cfg.Output.Path, data, cfg.Output.Backup); err != nil {
		log.WithField("stage", "write").Errorf("write failed: %v", err)
		return rep, err
	}

	// 5) Side files. Failures here never fail the run.
	if history != nil {
		if err := history.Save(cfg.Output.HistoryFile); err != nil {
			log.WithField("stage", "store").Warnf("save quality history: %v", err)
		}
	}
	if cfg.Output.SourceCacheFile != "" && rep.SourcesOK > 0 {
		good := lo.FilterMap(sources, func(s fetch.Source, _ int) (string, bool) { return s.ID, s.OK })
		if err := store.WriteLines(cfg.Output.SourceCacheFile, good); err != nil {
			log.WithField("stage", "store").Warnf("save source cache: %v", err)
		}
	}

	rep.Duration = deps.Clock.Since(start)
	deps.Metrics.Duration(rep.Duration)
	if cfg.Output.MetricsFile != "" {
		if err := deps.Metrics.WriteTextfile(cfg.Output.MetricsFile); err != nil {
			log.WithField("stage", "store").Warnf("write metrics textfile: %v", err)
		}
	}

	log.WithFields(logrus.Fields{
		"sources_ok":   rep.SourcesOK,
		"sources_fail": rep.SourcesFail,
		"decoded":      rep.Decoded,
		"deduped":      rep.Deduped,
		"in_region":    rep.InRegion,
		"output":       rep.Output,
		"history_avg":  rep.HistoryAverage,
		"path":         rep.OutputPath,
		"duration":     rep.Duration,
	}).Info("run finished")
	return rep, nil
}

// historyAverage logs each output node's current and long-run score and
// returns the mean long-run score across them.
func historyAverage(log logrus.FieldLogger, h *store.History, ranked []model.Result) float64 {
	var sum float64
	var n int
	for _, r := range ranked {
		avg, ok := h.Average(r.Proxy.Key())
		if !ok {
			continue
		}
		sum += avg
		n++
		log.WithFields(logrus.Fields{
			"stage":       "rank",
			"server":      r.Proxy.Key(),
			"score":       r.Quality.Score,
			"history_avg": avg,
		}).Debug("output node")
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func renderDocument(cfg *config.Config, proxies []model.Proxy) ([]byte, error) {
	if cfg.Output.Format == config.FormatList {
		return render.RenderList(proxies, render.Encoding(cfg.Output.Encode))
	}
	if cfg.Output.BaseConfig == "" {
		return render.RenderClash(proxies)
	}
	base, err := os.ReadFile(cfg.Output.BaseConfig)
	if err != nil {
		return nil, &render.RenderError{
			AppError: model.AppError{
				Code:    "BASE_CONFIG_UNREADABLE",
				Message: "读取基础配置失败",
				Stage:   "render",
				URL:     cfg.Output.BaseConfig,
			},
			Cause: err,
		}
	}
	return render.MergeIntoBase(base, proxies, cfg.Output.Groups)
}

// readSideLines reads an optional line file. Errors are logged and read as
// empty.
func readSideLines(log logrus.FieldLogger, path string) []string {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	lines, err := store.ReadLines(path)
	if err != nil {
		log.WithField("stage", "store").Warnf("side file unreadable: %v", err)
		return nil
	}
	return lines
}
