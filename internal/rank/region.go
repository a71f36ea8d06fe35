package rank

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"unicode"

	"github.com/John-Robertt/nodesift/internal/model"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oschwald/maxminddb-golang"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// RegionPolicy describes the target region. It is copied at construction.
type RegionPolicy struct {
	Enabled bool

	// Name keywords, matched case-insensitively. Keywords made only of ASCII
	// letters must match a whole word of the name (digits stripped), so "us"
	// does not hit "Russia"; any other keyword matches as a substring.
	Positive []string
	Negative []string

	CIDRs     []string // address ranges associated with the region
	Countries []string // ISO codes looked up in the GeoIP database

	// ResolveHostnames lets the address heuristic resolve non-IP servers.
	ResolveHostnames bool
}

// Resolver is the subset of *net.Resolver the classifier uses.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

type ClassifierOptions struct {
	Resolver  Resolver          // nil means net.DefaultResolver
	GeoIP     *maxminddb.Reader // optional
	CacheSize int               // resolver cache entries, default 1024
}

// geoIPCountryRecord is the part of a MaxMind country record we read.
type geoIPCountryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	RegisteredCountry struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"registered_country"`
}

type Classifier struct {
	enabled   bool
	positive  keywordSet
	negative  keywordSet
	prefixes  []netip.Prefix
	countries map[string]struct{}
	resolve   bool

	resolver Resolver
	geo      *maxminddb.Reader
	cache    *lru.Cache[string, []netip.Addr]
	log      logrus.FieldLogger
}

func NewClassifier(policy RegionPolicy, opt ClassifierOptions, log logrus.FieldLogger) (*Classifier, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	c := &Classifier{
		enabled:  policy.Enabled,
		positive: newKeywordSet(policy.Positive),
		negative: newKeywordSet(policy.Negative),
		resolve:  policy.ResolveHostnames,
		resolver: opt.Resolver,
		geo:      opt.GeoIP,
		log:      log,
	}
	for _, raw := range policy.CIDRs {
		pfx, err := netip.ParsePrefix(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid region cidr %q: %w", raw, err)
		}
		c.prefixes = append(c.prefixes, pfx.Masked())
	}
	c.countries = make(map[string]struct{}, len(policy.Countries))
	for _, cc := range policy.Countries {
		if cc = strings.ToUpper(strings.TrimSpace(cc)); cc != "" {
			c.countries[cc] = struct{}{}
		}
	}
	if c.resolver == nil {
		c.resolver = net.DefaultResolver
	}
	size := opt.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []netip.Addr](size)
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// ClassifyRegion reports whether p belongs to the target region. A negative
// name match always excludes; a positive name match includes; otherwise the
// node's address decides.
func (c *Classifier) ClassifyRegion(ctx context.Context, p model.Proxy) bool {
	if !c.enabled {
		return true
	}
	if c.negative.match(p.Name) {
		return false
	}
	if c.positive.match(p.Name) {
		return true
	}
	for _, addr := range c.addrs(ctx, p.Server) {
		if c.inRegion(addr) {
			return true
		}
	}
	return false
}

// Filter keeps the nodes ClassifyRegion accepts, in order.
func (c *Classifier) Filter(ctx context.Context, nodes []model.Proxy) []model.Proxy {
	return lo.Filter(nodes, func(p model.Proxy, _ int) bool { return c.ClassifyRegion(ctx, p) })
}

func (c *Classifier) inRegion(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, pfx := range c.prefixes {
		if pfx.Contains(addr) {
			return true
		}
	}
	if c.geo == nil || len(c.countries) == 0 {
		return false
	}
	var rec geoIPCountryRecord
	if err := c.geo.Lookup(net.IP(addr.AsSlice()), &rec); err != nil {
		return false
	}
	cc := rec.Country.ISOCode
	if cc == "" {
		cc = rec.RegisteredCountry.ISOCode
	}
	_, ok := c.countries[strings.ToUpper(cc)]
	return ok
}

func (c *Classifier) addrs(ctx context.Context, host string) []netip.Addr {
	host = strings.Trim(host, "[]")
	if addr, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{addr}
	}
	if !c.resolve {
		return nil
	}
	key := strings.ToLower(host)
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}
	addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		c.log.WithField("server", host).Debugf("resolve failed: %v", err)
		addrs = nil
	}
	c.cache.Add(key, addrs)
	return addrs
}

type keywordSet struct {
	words  map[string]struct{}
	substr []string
}

func newKeywordSet(keywords []string) keywordSet {
	ks := keywordSet{words: make(map[string]struct{})}
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if isASCIIWord(k) {
			ks.words[k] = struct{}{}
		} else {
			ks.substr = append(ks.substr, k)
		}
	}
	return ks
}

func (ks keywordSet) match(name string) bool {
	name = strings.ToLower(name)
	for _, s := range ks.substr {
		if strings.Contains(name, s) {
			return true
		}
	}
	if len(ks.words) == 0 {
		return false
	}
	// "HK01" and "hk-01" both yield the word "hk".
	words := strings.FieldsFunc(name, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsLetter(r)
	})
	for _, w := range words {
		if _, ok := ks.words[w]; ok {
			return true
		}
	}
	return false
}

func isASCIIWord(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII || !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
