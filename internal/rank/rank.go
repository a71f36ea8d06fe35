package rank

import (
	"fmt"
	"sort"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/samber/lo"
)

// Rank drops results without a quality score, orders the rest by score
// (descending) then mean latency (ascending), keeps the first topN (0 keeps
// all) and makes display names unique. Input order breaks remaining ties.
func Rank(results []model.Result, topN int) []model.Result {
	scored := lo.Filter(results, func(r model.Result, _ int) bool { return r.Quality != nil })
	out := make([]model.Result, len(scored))
	copy(out, scored)

	sort.SliceStable(out, func(i, j int) bool {
		qi, qj := out[i].Quality, out[j].Quality
		if qi.Score != qj.Score {
			return qi.Score > qj.Score
		}
		return qi.MeanLatencyMS < qj.MeanLatencyMS
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}

	proxies := lo.Map(out, func(r model.Result, _ int) model.Proxy { return r.Proxy })
	UniqueNames(proxies)
	for i := range out {
		out[i].Proxy.Name = proxies[i].Name
	}
	return out
}

// UniqueNames rewrites names in place so that no two are equal. Order is
// significant: the first holder of a name keeps it, later ones get base-2,
// base-3, ... An empty name becomes server:port, '=' is replaced by '-',
// and the reserved policy names DIRECT and REJECT are never used as-is.
func UniqueNames(proxies []model.Proxy) {
	used := make(map[string]struct{}, len(proxies))
	for i := range proxies {
		base := strings.TrimSpace(proxies[i].Name)
		if base == "" {
			base = fmt.Sprintf("%s:%d", proxies[i].Server, proxies[i].Port)
		}
		base = strings.ReplaceAll(base, "=", "-")

		name := base
		if name == "DIRECT" || name == "REJECT" {
			name = ""
		}
		if name != "" {
			if _, ok := used[name]; ok {
				name = ""
			}
		}
		if name == "" {
			// Pick base-N starting from 2.
			for n := 2; ; n++ {
				try := fmt.Sprintf("%s-%d", base, n)
				if _, ok := used[try]; ok {
					continue
				}
				name = try
				break
			}
		}

		proxies[i].Name = name
		used[name] = struct{}{}
	}
}
