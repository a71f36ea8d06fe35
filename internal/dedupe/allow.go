package dedupe

import (
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/samber/lo"
)

// Allowlist keeps nodes by protocol and transport network. An empty list
// allows everything on that axis.
type Allowlist struct {
	Protocols []model.Protocol
	Networks  []model.Network
}

func (a Allowlist) Empty() bool { return len(a.Protocols) == 0 && len(a.Networks) == 0 }

// Allows matches case-insensitively; an unset network counts as tcp.
func (a Allowlist) Allows(p model.Proxy) bool {
	if len(a.Protocols) > 0 && !lo.ContainsBy(a.Protocols, func(want model.Protocol) bool {
		return strings.EqualFold(string(want), string(p.Protocol))
	}) {
		return false
	}
	network := p.Transport.Network
	if network == "" {
		network = model.NetworkTCP
	}
	return len(a.Networks) == 0 || lo.ContainsBy(a.Networks, func(want model.Network) bool {
		return strings.EqualFold(string(want), string(network))
	})
}

// Filter returns the allowed nodes in order and how many were removed.
func (a Allowlist) Filter(nodes []model.Proxy) ([]model.Proxy, int) {
	if a.Empty() {
		return nodes, 0
	}
	kept := lo.Filter(nodes, func(p model.Proxy, _ int) bool { return a.Allows(p) })
	return kept, len(nodes) - len(kept)
}
