package pipeline

import (
	"strings"

	"github.com/John-Robertt/nodesift/internal/config"
	"github.com/John-Robertt/nodesift/internal/fetch"
	"github.com/John-Robertt/nodesift/internal/metrics"
	"github.com/John-Robertt/nodesift/internal/probe"
	"github.com/John-Robertt/nodesift/internal/rank"
	"github.com/John-Robertt/nodesift/internal/sub"
	"github.com/benbjohnson/clock"
	"github.com/oschwald/maxminddb-golang"
	"github.com/sirupsen/logrus"
)

// Deps are the stage components of a run. Run fills nil fields from the
// config, so tests only set what they replace.
type Deps struct {
	Reader     *fetch.Reader
	Decoder    *sub.Decoder
	Prober     *probe.Prober
	Classifier *rank.Classifier
	Metrics    *metrics.Run
	Clock      clock.Clock
	Log        logrus.FieldLogger

	geo *maxminddb.Reader
}

// NewDeps builds every component from cfg, opening the GeoIP database when
// one is configured. Close releases it.
func NewDeps(cfg *config.Config, log logrus.FieldLogger) (*Deps, error) {
	d := &Deps{Log: log}
	if path := strings.TrimSpace(cfg.Region.GeoIPDB); path != "" {
		geo, err := maxminddb.Open(path)
		if err != nil {
			return nil, err
		}
		d.geo = geo
	}
	if err := d.fill(cfg); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Deps) Close() error {
	if d == nil || d.geo == nil {
		return nil
	}
	err := d.geo.Close()
	d.geo = nil
	return err
}

func (d *Deps) fill(cfg *config.Config) error {
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Reader == nil {
		opt := cfg.ReaderOptions()
		opt.Retry.Clock = d.Clock
		d.Reader = fetch.NewReader(opt, d.Log)
	}
	if d.Decoder == nil {
		d.Decoder = sub.NewDecoder(cfg.DecodeOptions(), d.Log)
	}
	if d.Prober == nil {
		d.Prober = probe.NewProber(cfg.ProbeOptions(), nil, nil, d.Log)
	}
	if d.Classifier == nil {
		c, err := rank.NewClassifier(cfg.RegionPolicy(), rank.ClassifierOptions{GeoIP: d.geo}, d.Log)
		if err != nil {
			return err
		}
		d.Classifier = c
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	return nil
}
