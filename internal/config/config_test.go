package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_OverlaysDefaults(t *testing.T) {
	yml := `
sources:
  - https://a.example.com/sub
  - ./local.txt
fetch:
  timeout: 5s
  retry: {max_attempts: 2, initial_backoff: 500ms, max_backoff: 2s}
probe:
  attempts: 4
  weights: {connectivity: 0.2, latency: 0.5, stability: 0.3}
region:
  negative: [us]
output:
  path: out/list.txt
  format: list
  encode: base64
`
	cfg, err := Parse("config.yaml", yml)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("sources=%v", cfg.Sources)
	}
	if cfg.Fetch.Timeout != 5*time.Second {
		t.Fatalf("fetch.timeout=%v, want=5s", cfg.Fetch.Timeout)
	}
	if cfg.Fetch.MaxBytes != 5*1024*1024 {
		t.Fatalf("fetch.max_bytes=%d, want default", cfg.Fetch.MaxBytes)
	}
	if cfg.Fetch.Retry.InitialBackoff != 500*time.Millisecond {
		t.Fatalf("retry.initial_backoff=%v", cfg.Fetch.Retry.InitialBackoff)
	}
	if cfg.Probe.Attempts != 4 || cfg.Probe.Concurrency != 20 {
		t.Fatalf("probe attempts=%d concurrency=%d", cfg.Probe.Attempts, cfg.Probe.Concurrency)
	}
	if len(cfg.Region.Negative) != 1 || cfg.Region.Negative[0] != "us" {
		t.Fatalf("region.negative=%v, want=[us]", cfg.Region.Negative)
	}
	if len(cfg.Region.Positive) == 0 {
		t.Fatalf("region.positive lost its default")
	}

	popt := cfg.ProbeOptions()
	if popt.Scoring.Weights.Latency != 0.5 || popt.Attempts != 4 {
		t.Fatalf("probe options=%+v", popt)
	}
	ropt := cfg.ReaderOptions()
	if ropt.Retry.MaxAttempts != 2 || ropt.Retry.Backoff(3) != 2*time.Second {
		t.Fatalf("reader retry=%+v", ropt.Retry)
	}
	if got := cfg.DedupeOptions([]string{"x"}); got.PerHostCap != 3 || len(got.Blacklist) != 1 {
		t.Fatalf("dedupe options=%+v", got)
	}
	if got := cfg.RegionPolicy(); !got.Enabled || len(got.CIDRs) == 0 {
		t.Fatalf("region policy=%+v", got)
	}
}

func TestDefault_IsValidWithASource(t *testing.T) {
	cfg := Default()
	cfg.Sources = []string{"https://a.example.com/sub"}
	if err := cfg.validate("default"); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestParse_RejectsUnknownField(t *testing.T) {
	_, err := Parse("config.yaml", "sources: [a]\nunknown_field: 1\n")
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("err=%T %v, want *ConfigError", err, err)
	}
	if ce.AppError.Code != "CONFIG_PARSE_ERROR" || ce.AppError.Stage != "parse_config" {
		t.Fatalf("code=%q stage=%q", ce.AppError.Code, ce.AppError.Stage)
	}
}

func TestParse_RejectsMultipleDocuments(t *testing.T) {
	_, err := Parse("config.yaml", "sources: [a]\n---\nsources: [b]\n")
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestParse_Validation(t *testing.T) {
	cases := []struct {
		name string
		yml  string
		want string
	}{
		{"no sources", "fetch: {timeout: 1s}\n", "订阅来源"},
		{"bad list url", "source_list_url: ftp://x/list\n", "source_list_url"},
		{"weights", "sources: [a]\nprobe: {weights: {connectivity: 0.5, latency: 0.5, stability: 0.5}}\n", "评分"},
		{"attempts", "sources: [a]\nprobe: {attempts: 1}\n", "attempts"},
		{"concurrency", "sources: [a]\nprobe: {concurrency: 1000}\n", "concurrency"},
		{"cidr", "sources: [a]\nregion: {cidrs: [not-a-cidr]}\n", "cidrs"},
		{"cap", "sources: [a]\ndedupe: {per_host_cap: 0}\n", "per_host_cap"},
		{"format", "sources: [a]\noutput: {format: surge}\n", "format"},
		{"encode", "sources: [a]\noutput: {encode: hex}\n", "encode"},
		{"base with list", "sources: [a]\noutput: {format: list, base_config: base.yaml}\n", "base_config"},
		{"control url", "sources: [a]\nprobe: {control_urls: [/relative]}\n", "control_urls"},
		{"retry", "sources: [a]\nfetch: {retry: {max_attempts: 0}}\n", "retry"},
		{"protocols", "sources: [a]\noutput: {protocols: [vless, http]}\n", "output.protocols"},
		{"networks", "sources: [a]\noutput: {networks: [grpc]}\n", "output.networks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("config.yaml", tc.yml)
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err=%T %v, want *ConfigError", err, err)
			}
			if ce.AppError.Code != "CONFIG_VALIDATE_ERROR" {
				t.Fatalf("code=%q, want=CONFIG_VALIDATE_ERROR", ce.AppError.Code)
			}
			if !strings.Contains(ce.AppError.Message, tc.want) {
				t.Fatalf("message=%q, want contains %q", ce.AppError.Message, tc.want)
			}
		})
	}
}

func TestParse_Allowlist(t *testing.T) {
	cfg, err := Parse("config.yaml", "sources: [a]\noutput: {protocols: [VLESS, shadowsocks], networks: [' WS ']}\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(cfg.Output.Protocols, ",") != "vless,ss" || strings.Join(cfg.Output.Networks, ",") != "ws" {
		t.Fatalf("protocols=%v networks=%v", cfg.Output.Protocols, cfg.Output.Networks)
	}
	a := cfg.Allowlist()
	if len(a.Protocols) != 2 || a.Protocols[1] != "ss" || len(a.Networks) != 1 || a.Networks[0] != "ws" {
		t.Fatalf("allowlist=%+v", a)
	}

	def, err := Parse("config.yaml", "sources: [a]\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !def.Allowlist().Empty() {
		t.Fatalf("default allowlist should be empty: %+v", def.Allowlist())
	}
}

func TestParse_DurationMustBeString(t *testing.T) {
	if _, err := Parse("config.yaml", "sources: [a]\nfetch: {timeout: 5}\n"); err == nil {
		t.Fatalf("expected error for numeric duration")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodesift.yaml")
	if err := os.WriteFile(path, []byte("sources: [https://a.example.com/sub]\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Format != FormatClash {
		t.Fatalf("format=%q, want=%q", cfg.Output.Format, FormatClash)
	}

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.AppError.Code != "CONFIG_READ_ERROR" {
		t.Fatalf("err=%v, want CONFIG_READ_ERROR", err)
	}
}
