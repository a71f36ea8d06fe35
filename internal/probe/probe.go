package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultConcurrency = 20
	maxConcurrency     = 256
	minAttempts        = 2
)

// Dialer opens the bare transport connection used for latency samples.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Options struct {
	Concurrency    int           // in-flight node probes, clamped to 1-256
	Attempts       int           // connection attempts per node, at least 2
	AttemptTimeout time.Duration // bound for one attempt
	DialRate       float64       // dial starts per second across all nodes, 0 = unlimited

	// ControlURLs are fetched directly, not through the node. With no URL or
	// ControlChecks <= 0 the check is skipped and connectivity counts as
	// established.
	ControlURLs    []string
	ControlChecks  int
	ControlTimeout time.Duration

	Scoring Scoring
}

func DefaultOptions() Options {
	return Options{
		Concurrency:    DefaultConcurrency,
		Attempts:       3,
		AttemptTimeout: 3 * time.Second,
		ControlURLs:    []string{"http://cp.cloudflare.com/generate_204"},
		ControlChecks:  1,
		ControlTimeout: 5 * time.Second,
		Scoring:        DefaultScoring(),
	}
}

type Prober struct {
	opt     Options
	dialer  Dialer
	checker ControlChecker
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

// NewProber fills in defaults: a plain net.Dialer and an HTTPChecker when
// dialer or checker is nil.
func NewProber(opt Options, dialer Dialer, checker ControlChecker, log logrus.FieldLogger) *Prober {
	if opt.Concurrency <= 0 {
		opt.Concurrency = DefaultConcurrency
	}
	if opt.Concurrency > maxConcurrency {
		opt.Concurrency = maxConcurrency
	}
	if opt.Attempts < minAttempts {
		opt.Attempts = minAttempts
	}
	if opt.AttemptTimeout <= 0 {
		opt.AttemptTimeout = 3 * time.Second
	}
	if opt.ControlTimeout <= 0 {
		opt.ControlTimeout = 5 * time.Second
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if checker == nil {
		checker = HTTPChecker{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Prober{opt: opt, dialer: dialer, checker: checker, log: log}
	if opt.DialRate > 0 {
		burst := int(opt.DialRate)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(opt.DialRate), burst)
	}
	return p
}

// Probe measures every node and returns one Result per input, in input
// order. A dropped node has a nil Quality; its reason is in errs.
func (p *Prober) Probe(ctx context.Context, nodes []model.Proxy) (results []model.Result, errs []*ProbeError) {
	results = make([]model.Result, len(nodes))
	nodeErrs := make([]*ProbeError, len(nodes))

	var g errgroup.Group
	g.SetLimit(p.opt.Concurrency)
	for i, node := range nodes {
		results[i].Proxy = node
		g.Go(func() error {
			q, err := p.probeNode(ctx, node)
			if err != nil {
				nodeErrs[i] = err
				p.log.WithFields(logrus.Fields{
					"stage":    stageProbe,
					"protocol": node.Protocol,
					"server":   node.Key(),
				}).Debugf("drop node: %v", err)
				return nil
			}
			results[i].Quality = q
			return nil
		})
	}
	_ = g.Wait()

	for _, e := range nodeErrs {
		if e != nil {
			errs = append(errs, e)
		}
	}
	return results, errs
}

func (p *Prober) probeNode(ctx context.Context, node model.Proxy) (q *model.Quality, perr *ProbeError) {
	defer func() {
		if r := recover(); r != nil {
			q = nil
			perr = newProbeError(node, "PROBE_PANIC", "探测过程异常", fmt.Errorf("panic: %v", r))
		}
	}()

	samples, err := p.sample(ctx, node)
	if err != nil {
		return nil, newProbeError(node, "PROBE_CANCELED", "探测已取消", err)
	}
	if !anyOK(samples) {
		return nil, newProbeError(node, "PROBE_UNREACHABLE", "节点无法建立连接", nil)
	}

	connectivity := p.controlCheck(ctx)
	q = p.opt.Scoring.Quality(samples, connectivity)
	if !p.opt.Scoring.Passes(q) {
		return nil, newProbeError(node, "PROBE_LOW_SCORE", fmt.Sprintf("质量分低于阈值（%.2f < %.2f）", q.Score, p.opt.Scoring.MinScore), nil)
	}
	return q, nil
}

// sample runs the connection attempts. Only a done ctx is reported as an
// error; a failed attempt is just a failed sample.
func (p *Prober) sample(ctx context.Context, node model.Proxy) ([]model.ProbeSample, error) {
	addr := node.Key()
	samples := make([]model.ProbeSample, 0, p.opt.Attempts)
	for i := 0; i < p.opt.Attempts; i++ {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		actx, cancel := context.WithTimeout(ctx, p.opt.AttemptTimeout)
		start := time.Now()
		conn, err := p.dialer.DialContext(actx, "tcp", addr)
		elapsed := time.Since(start)
		cancel()
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			samples = append(samples, model.ProbeSample{})
			continue
		}
		_ = conn.Close()
		samples = append(samples, model.ProbeSample{LatencyMS: float64(elapsed.Microseconds()) / 1000, OK: true})
	}
	return samples, nil
}

func (p *Prober) controlCheck(ctx context.Context) bool {
	if len(p.opt.ControlURLs) == 0 || p.opt.ControlChecks <= 0 {
		return true
	}
	for i := 0; i < p.opt.ControlChecks; i++ {
		url := p.opt.ControlURLs[i%len(p.opt.ControlURLs)]
		cctx, cancel := context.WithTimeout(ctx, p.opt.ControlTimeout)
		err := p.checker.Check(cctx, url)
		cancel()
		if err == nil {
			return true
		}
	}
	return false
}

func anyOK(samples []model.ProbeSample) bool {
	for _, s := range samples {
		if s.OK {
			return true
		}
	}
	return false
}
