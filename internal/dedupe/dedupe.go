package dedupe

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/samber/lo"
)

const stageDedupe = "dedupe"

// DefaultPerHostCap is the number of nodes kept per server host when no cap
// is configured.
const DefaultPerHostCap = 3

type Options struct {
	// PerHostCap bounds how many nodes may share one server host. <=0 means
	// no cap.
	PerHostCap int
	// Blacklist holds hosts (or host:port keys) that are removed outright.
	Blacklist []string
}

// Stats counts what each step removed.
type Stats struct {
	Invalid     int
	Blacklisted int
	Duplicates  int
	OverCap     int
	Errors      []*DedupeError
}

type DedupeError struct {
	AppError model.AppError
	Cause    error
}

func (e *DedupeError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.AppError.Code, e.AppError.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.AppError.Code, e.AppError.Message, e.Cause)
}

func (e *DedupeError) Unwrap() error { return e.Cause }

// Dedupe normalizes nodes, drops invalid and blacklisted ones, collapses
// identical fingerprints (first occurrence wins) and enforces the per-host
// cap. Applying it to its own output changes nothing.
func Dedupe(nodes []model.Proxy, opt Options) ([]model.Proxy, Stats) {
	var st Stats

	// 1) Normalize.
	normalized := make([]model.Proxy, 0, len(nodes))
	for _, p := range nodes {
		p2, err := Normalize(p)
		if err != nil {
			st.Invalid++
			st.Errors = append(st.Errors, &DedupeError{
				AppError: model.AppError{
					Code:    "NODE_INVALID",
					Message: "节点字段不合法",
					Stage:   stageDedupe,
					Snippet: p.Key(),
				},
				Cause: err,
			})
			continue
		}
		normalized = append(normalized, p2)
	}

	// 2) Blacklist.
	blocked := make(map[string]struct{}, len(opt.Blacklist))
	for _, h := range opt.Blacklist {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			blocked[h] = struct{}{}
			blocked[normalizeHost(h)] = struct{}{}
		}
	}
	allowed := lo.Filter(normalized, func(p model.Proxy, _ int) bool {
		_, byHost := blocked[p.Server]
		_, byKey := blocked[strings.ToLower(p.Key())]
		return !byHost && !byKey
	})
	st.Blacklisted = len(normalized) - len(allowed)

	// 3) Fingerprint collapse, keep first occurrence in merge order.
	unique := lo.UniqBy(allowed, func(p model.Proxy) string { return p.Fingerprint() })
	st.Duplicates = len(allowed) - len(unique)

	// 4) Per-host cap.
	out := capPerHost(unique, opt.PerHostCap)
	st.OverCap = len(unique) - len(out)
	return out, st
}

// capPerHost groups nodes by host in first-appearance order. A group over
// the cap is ordered by (port, SNI or host, path) and truncated, so the
// kept subset does not depend on input order.
func capPerHost(nodes []model.Proxy, limit int) []model.Proxy {
	if limit <= 0 {
		return nodes
	}
	hosts := lo.Uniq(lo.Map(nodes, func(p model.Proxy, _ int) string { return p.Server }))
	groups := lo.GroupBy(nodes, func(p model.Proxy) string { return p.Server })

	out := make([]model.Proxy, 0, len(nodes))
	for _, h := range hosts {
		g := groups[h]
		if len(g) > limit {
			sort.SliceStable(g, func(i, j int) bool { return capLess(g[i], g[j]) })
			g = g[:limit]
		}
		out = append(out, g...)
	}
	return out
}

func capLess(a, b model.Proxy) bool {
	if a.Port != b.Port {
		return a.Port < b.Port
	}
	if sa, sb := a.SNIOrHost(), b.SNIOrHost(); sa != sb {
		return sa < sb
	}
	if a.Transport.Path != b.Transport.Path {
		return a.Transport.Path < b.Transport.Path
	}
	return a.Fingerprint() < b.Fingerprint()
}

// Normalize trims and lower-cases the fields that are case-insensitive on
// the wire, then validates the result.
func Normalize(p model.Proxy) (model.Proxy, error) {
	p.Name = strings.TrimSpace(p.Name)
	if strings.ContainsAny(p.Name, "\r\n\x00") {
		return model.Proxy{}, errors.New("proxy name contains control chars")
	}

	p.Server = normalizeHost(p.Server)
	p.Cipher = strings.ToLower(strings.TrimSpace(p.Cipher))
	p.UUID = strings.ToLower(strings.TrimSpace(p.UUID))

	p.PluginName, p.PluginOpts = model.CanonicalPlugin(p.PluginName, p.PluginOpts)
	p.Flow = strings.TrimSpace(p.Flow)

	t := &p.Transport
	if t.Network == "" {
		t.Network = model.NetworkTCP
	}
	t.Network = model.Network(strings.ToLower(string(t.Network)))
	t.Path = strings.TrimSpace(t.Path)
	t.Host = strings.ToLower(strings.TrimSpace(t.Host))
	t.SNI = strings.ToLower(strings.TrimSpace(t.SNI))
	t.ClientFingerprint = strings.ToLower(strings.TrimSpace(t.ClientFingerprint))
	if t.Reality != nil {
		r := *t.Reality
		r.PublicKey, r.ShortID = strings.TrimSpace(r.PublicKey), strings.TrimSpace(r.ShortID)
		t.Reality = &r
	}
	if t.Network != model.NetworkWS {
		t.Path, t.Host = "", ""
	}

	if err := p.Validate(); err != nil {
		return model.Proxy{}, err
	}
	return p, nil
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.Trim(strings.TrimSpace(h), "[]"))
}
