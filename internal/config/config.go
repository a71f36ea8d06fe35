// Package config loads the run configuration: every policy table the
// pipeline components take at construction.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/John-Robertt/nodesift/internal/dedupe"
	"github.com/John-Robertt/nodesift/internal/fetch"
	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/John-Robertt/nodesift/internal/probe"
	"github.com/John-Robertt/nodesift/internal/rank"
	"github.com/John-Robertt/nodesift/internal/render"
	"github.com/John-Robertt/nodesift/internal/sub"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Sources         []string `yaml:"sources"`
	SourceListURL   string   `yaml:"source_list_url"`
	FallbackSources []string `yaml:"fallback_sources"`

	Fetch  Fetch  `yaml:"fetch"`
	Decode Decode `yaml:"decode"`
	Dedupe Dedupe `yaml:"dedupe"`
	Region Region `yaml:"region"`
	Probe  Probe  `yaml:"probe"`
	Rank   Rank   `yaml:"rank"`
	Output Output `yaml:"output"`
}

type Fetch struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxBytes    int64         `yaml:"max_bytes"`
	UserAgent   string        `yaml:"user_agent"`
	Concurrency int           `yaml:"concurrency"`
	Retry       Retry         `yaml:"retry"`
}

type Retry struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

type Decode struct {
	PathPlaceholder string `yaml:"path_placeholder"`
}

type Dedupe struct {
	PerHostCap    int    `yaml:"per_host_cap"`
	BlacklistFile string `yaml:"blacklist_file"`
}

type Region struct {
	Enabled          bool     `yaml:"enabled"`
	Positive         []string `yaml:"positive"`
	Negative         []string `yaml:"negative"`
	CIDRs            []string `yaml:"cidrs"`
	GeoIPDB          string   `yaml:"geoip_db"`
	Countries        []string `yaml:"countries"`
	ResolveHostnames bool     `yaml:"resolve_hostnames"`
}

type Probe struct {
	Concurrency      int           `yaml:"concurrency"`
	Attempts         int           `yaml:"attempts"`
	AttemptTimeout   time.Duration `yaml:"attempt_timeout"`
	DialRate         float64       `yaml:"dial_rate"`
	ControlURLs      []string      `yaml:"control_urls"`
	ControlChecks    int           `yaml:"control_checks"`
	ControlTimeout   time.Duration `yaml:"control_timeout"`
	LatencyCeilingMS float64       `yaml:"latency_ceiling_ms"`
	JitterCeilingMS  float64       `yaml:"jitter_ceiling_ms"`
	MinScore         float64       `yaml:"min_score"`
	Weights          Weights       `yaml:"weights"`
}

type Weights struct {
	Connectivity float64 `yaml:"connectivity"`
	Latency      float64 `yaml:"latency"`
	Stability    float64 `yaml:"stability"`
}

type Rank struct {
	TopN int `yaml:"top_n"`
}

type Output struct {
	Path            string   `yaml:"path"`
	Format          string   `yaml:"format"` // clash | list
	Encode          string   `yaml:"encode"` // list only: raw | base64
	BaseConfig      string   `yaml:"base_config"`
	Groups          []string `yaml:"groups"`
	Backup          bool     `yaml:"backup"`
	HistoryFile     string   `yaml:"history_file"`
	SourceCacheFile string   `yaml:"source_cache_file"`
	MetricsFile     string   `yaml:"metrics_file"`

	// Protocols and Networks restrict which nodes are probed and written,
	// e.g. [vless] and [ws]. Empty means any.
	Protocols []string `yaml:"protocols"`
	Networks  []string `yaml:"networks"`
}

const (
	FormatClash = "clash"
	FormatList  = "list"
)

// Default returns the complete default policy. A config file only overrides
// the keys it sets.
func Default() *Config {
	scoring := probe.DefaultScoring()
	popt := probe.DefaultOptions()
	return &Config{
		Fetch: Fetch{
			Timeout:     15 * time.Second,
			MaxBytes:    5 * 1024 * 1024,
			UserAgent:   fetch.DefaultUserAgent,
			Concurrency: 4,
			Retry: Retry{
				MaxAttempts:    3,
				InitialBackoff: time.Second,
				MaxBackoff:     8 * time.Second,
			},
		},
		Decode: Decode{PathPlaceholder: sub.DefaultPathPlaceholder},
		Dedupe: Dedupe{PerHostCap: dedupe.DefaultPerHostCap},
		Region: Region{
			Enabled:  true,
			Positive: []string{"hk", "hongkong", "hong kong", "香港", "港", "🇭🇰"},
			Negative: []string{
				"us", "usa", "united states", "jp", "japan", "sg", "singapore",
				"tw", "taiwan", "kr", "korea", "uk", "de", "germany", "ru", "russia",
				"美国", "日本", "新加坡", "狮城", "台湾", "韩国", "英国", "德国", "俄罗斯",
			},
			CIDRs: []string{
				"203.198.0.0/16",
				"218.102.0.0/16",
				"219.76.0.0/14",
				"119.236.0.0/14",
				"223.16.0.0/14",
				"59.148.0.0/15",
			},
			Countries: []string{"HK"},
		},
		Probe: Probe{
			Concurrency:      popt.Concurrency,
			Attempts:         popt.Attempts,
			AttemptTimeout:   popt.AttemptTimeout,
			ControlURLs:      popt.ControlURLs,
			ControlChecks:    popt.ControlChecks,
			ControlTimeout:   popt.ControlTimeout,
			LatencyCeilingMS: scoring.LatencyCeilingMS,
			JitterCeilingMS:  scoring.JitterCeilingMS,
			MinScore:         scoring.MinScore,
			Weights: Weights{
				Connectivity: scoring.Weights.Connectivity,
				Latency:      scoring.Weights.Latency,
				Stability:    scoring.Weights.Stability,
			},
		},
		Rank: Rank{TopN: 50},
		Output: Output{
			Path:   "out/proxies.yaml",
			Format: FormatClash,
			Encode: string(render.EncodingRaw),
			Backup: true,
		},
	}
}

type ConfigError struct {
	AppError model.AppError
	Cause    error
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *ConfigError) Unwrap() error { return e.Cause }

func validateError(source, message, snippet string, cause error) *ConfigError {
	return &ConfigError{
		AppError: model.AppError{
			Code:    "CONFIG_VALIDATE_ERROR",
			Message: message,
			Stage:   "parse_config",
			URL:     source,
			Snippet: snippet,
		},
		Cause: cause,
	}
}

// Load reads and parses the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{
			AppError: model.AppError{
				Code:    "CONFIG_READ_ERROR",
				Message: "读取配置文件失败",
				Stage:   "parse_config",
				URL:     path,
			},
			Cause: err,
		}
	}
	return Parse(path, string(data))
}

// Parse overlays content on Default() and validates the result. Unknown keys
// and multiple documents are rejected.
func Parse(source, content string) (*Config, error) {
	cfg := Default()
	if err := yamlDecodeStrict(content, cfg); err != nil {
		return nil, &ConfigError{
			AppError: model.AppError{
				Code:    "CONFIG_PARSE_ERROR",
				Message: "配置 YAML 解析失败",
				Stage:   "parse_config",
				URL:     source,
				Snippet: truncateSnippet(content, 200),
			},
			Cause: err,
		}
	}
	if err := cfg.validate(source); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(source string) error {
	c.SourceListURL = strings.TrimSpace(c.SourceListURL)
	if len(c.Sources) == 0 && c.SourceListURL == "" && len(c.FallbackSources) == 0 {
		return validateError(source, "至少需要配置一个订阅来源", "", nil)
	}
	if c.SourceListURL != "" {
		if err := validateHTTPURL(c.SourceListURL); err != nil {
			return validateError(source, "source_list_url 不合法", c.SourceListURL, err)
		}
	}

	f := c.Fetch
	if f.Timeout <= 0 || f.MaxBytes <= 0 || f.Concurrency <= 0 {
		return validateError(source, "fetch.timeout/max_bytes/concurrency 必须大于 0", "", nil)
	}
	if f.Retry.MaxAttempts < 1 || f.Retry.InitialBackoff < 0 || f.Retry.MaxBackoff < f.Retry.InitialBackoff {
		return validateError(source, "fetch.retry 不合法", "", nil)
	}

	if c.Dedupe.PerHostCap < 1 {
		return validateError(source, "dedupe.per_host_cap 必须大于 0", "", nil)
	}

	for _, raw := range c.Region.CIDRs {
		if _, err := netip.ParsePrefix(strings.TrimSpace(raw)); err != nil {
			return validateError(source, "region.cidrs 不合法", raw, err)
		}
	}

	p := c.Probe
	if p.Concurrency < 1 || p.Concurrency > 256 {
		return validateError(source, "probe.concurrency 必须在 1-256 之间", "", nil)
	}
	if p.Attempts < 2 {
		return validateError(source, "probe.attempts 至少为 2", "", nil)
	}
	if p.AttemptTimeout <= 0 || p.ControlTimeout <= 0 || p.DialRate < 0 || p.ControlChecks < 0 {
		return validateError(source, "probe 超时与速率参数不合法", "", nil)
	}
	for _, u := range p.ControlURLs {
		if err := validateHTTPURL(u); err != nil {
			return validateError(source, "probe.control_urls 不合法", u, err)
		}
	}
	if err := c.Scoring().Validate(); err != nil {
		return validateError(source, "probe 评分参数不合法", "", err)
	}

	if c.Rank.TopN < 0 {
		return validateError(source, "rank.top_n 不能为负数", "", nil)
	}

	o := c.Output
	if strings.TrimSpace(o.Path) == "" {
		return validateError(source, "output.path 不能为空", "", nil)
	}
	switch o.Format {
	case FormatClash:
	case FormatList:
		if o.BaseConfig != "" {
			return validateError(source, "output.base_config 仅支持 format=clash", o.BaseConfig, nil)
		}
	default:
		return validateError(source, fmt.Sprintf("output.format 不支持：%s", o.Format), o.Format, nil)
	}
	if o.Encode != string(render.EncodingRaw) && o.Encode != string(render.EncodingBase64) {
		return validateError(source, fmt.Sprintf("output.encode 不支持：%s", o.Encode), o.Encode, nil)
	}
	for i, raw := range o.Protocols {
		v := strings.ToLower(strings.TrimSpace(raw))
		if v == "shadowsocks" {
			v = string(model.ProtocolShadowsocks)
		}
		if !model.Protocol(v).Valid() {
			return validateError(source, fmt.Sprintf("output.protocols 不支持：%s", raw), raw, nil)
		}
		c.Output.Protocols[i] = v
	}
	for i, raw := range o.Networks {
		v := strings.ToLower(strings.TrimSpace(raw))
		if v != string(model.NetworkTCP) && v != string(model.NetworkWS) {
			return validateError(source, fmt.Sprintf("output.networks 不支持：%s", raw), raw, nil)
		}
		c.Output.Networks[i] = v
	}
	return nil
}

func (c *Config) ReaderOptions() fetch.ReaderOptions {
	return fetch.ReaderOptions{
		Fetch: fetch.Options{
			Timeout:   c.Fetch.Timeout,
			MaxBytes:  c.Fetch.MaxBytes,
			UserAgent: c.Fetch.UserAgent,
		},
		Retry: fetch.RetryPolicy{
			MaxAttempts: c.Fetch.Retry.MaxAttempts,
			Backoff:     fetch.ExponentialBackoff(c.Fetch.Retry.InitialBackoff, c.Fetch.Retry.MaxBackoff),
		},
		Concurrency: c.Fetch.Concurrency,
	}
}

func (c *Config) DecodeOptions() sub.Options {
	return sub.Options{PathPlaceholder: c.Decode.PathPlaceholder}
}

func (c *Config) DedupeOptions(blacklist []string) dedupe.Options {
	return dedupe.Options{PerHostCap: c.Dedupe.PerHostCap, Blacklist: blacklist}
}

func (c *Config) Allowlist() dedupe.Allowlist {
	return dedupe.Allowlist{
		Protocols: lo.Map(c.Output.Protocols, func(s string, _ int) model.Protocol { return model.Protocol(s) }),
		Networks:  lo.Map(c.Output.Networks, func(s string, _ int) model.Network { return model.Network(s) }),
	}
}

func (c *Config) Scoring() probe.Scoring {
	return probe.Scoring{
		Weights: probe.Weights{
			Connectivity: c.Probe.Weights.Connectivity,
			Latency:      c.Probe.Weights.Latency,
			Stability:    c.Probe.Weights.Stability,
		},
		LatencyCeilingMS: c.Probe.LatencyCeilingMS,
		JitterCeilingMS:  c.Probe.JitterCeilingMS,
		MinScore:         c.Probe.MinScore,
	}
}

func (c *Config) ProbeOptions() probe.Options {
	return probe.Options{
		Concurrency:    c.Probe.Concurrency,
		Attempts:       c.Probe.Attempts,
		AttemptTimeout: c.Probe.AttemptTimeout,
		DialRate:       c.Probe.DialRate,
		ControlURLs:    append([]string(nil), c.Probe.ControlURLs...),
		ControlChecks:  c.Probe.ControlChecks,
		ControlTimeout: c.Probe.ControlTimeout,
		Scoring:        c.Scoring(),
	}
}

func (c *Config) RegionPolicy() rank.RegionPolicy {
	return rank.RegionPolicy{
		Enabled:          c.Region.Enabled,
		Positive:         append([]string(nil), c.Region.Positive...),
		Negative:         append([]string(nil), c.Region.Negative...),
		CIDRs:            append([]string(nil), c.Region.CIDRs...),
		Countries:        append([]string(nil), c.Region.Countries...),
		ResolveHostnames: c.Region.ResolveHostnames,
	}
}

func yamlDecodeStrict(content string, out any) error {
	dec := yaml.NewDecoder(strings.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		// An empty file keeps every default.
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}

	var extra any
	if err := dec.Decode(&extra); err == nil {
		return errors.New("multiple YAML documents are not allowed")
	} else if !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func validateHTTPURL(s string) error {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if u == nil || !u.IsAbs() {
		return errors.New("url must be absolute")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http/https")
	}
	return nil
}

func truncateSnippet(s string, limit int) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	if limit <= 0 {
		return ""
	}
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}
