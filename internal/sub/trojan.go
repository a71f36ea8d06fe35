package sub

import (
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

type trojanParams struct {
	Security      string
	SNI           string
	Peer          string
	Type          string
	Path          string
	Host          string
	AllowInsecure bool
}

func trojanParamsFrom(q linkQuery) trojanParams {
	return trojanParams{
		Security:      strings.ToLower(q.get("security")),
		SNI:           q.get("sni"),
		Peer:          q.get("peer"),
		Type:          q.get("type"),
		Path:          q.get("path"),
		Host:          q.get("host"),
		AllowInsecure: parseBoolParam(q.get("allowInsecure", "allow_insecure", "insecure")),
	}
}

func parseTrojanLink(s string) (model.Proxy, error) {
	rest, query, name := splitLink(s)
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return model.Proxy{}, lineError("trojan uri 缺少 @ 分隔符", nil)
	}
	password := unescapeOrRaw(rest[:at])
	if password == "" {
		return model.Proxy{}, lineError("trojan password 不能为空", nil)
	}
	server, port, err := parseHostPort(rest[at+1:])
	if err != nil {
		return model.Proxy{}, lineError("服务器地址或端口不合法", err)
	}

	params := trojanParamsFrom(parseLinkQuery(query))
	// Clash has no plaintext trojan, so such a node could not be written back.
	if params.Security == "none" {
		return model.Proxy{}, lineError("trojan 必须启用 TLS", nil)
	}
	if name == "" {
		name = params.Peer
	}
	sni := params.SNI
	if sni == "" {
		sni = params.Peer
	}

	p := model.Proxy{
		Protocol: model.ProtocolTrojan,
		Name:     name,
		Server:   server,
		Port:     port,
		Password: password,
		Transport: model.Transport{
			Network:        normalizeNetwork(params.Type),
			TLS:            true,
			SNI:            sni,
			SkipCertVerify: params.AllowInsecure,
		},
	}
	if p.Transport.Network == model.NetworkWS {
		p.Transport.Path = params.Path
		p.Transport.Host = params.Host
	}
	return p, nil
}
