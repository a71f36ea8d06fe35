package sub

import (
	"net"
	"strconv"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

type vlessParams struct {
	Type          string
	Security      string
	SNI           string
	Peer          string
	Path          string
	Host          string
	UDP           bool
	AllowInsecure bool
	Flow          string
	Fingerprint   string
	PublicKey     string
	ShortID       string
}

func vlessParamsFrom(q linkQuery) vlessParams {
	return vlessParams{
		Type:          q.get("type"),
		Security:      strings.ToLower(q.get("security")),
		SNI:           q.get("sni", "servername"),
		Peer:          q.get("peer"),
		Path:          q.get("path"),
		Host:          q.get("host"),
		UDP:           parseBoolParam(q.get("udp")),
		AllowInsecure: parseBoolParam(q.get("allowInsecure", "allow_insecure", "insecure")),
		Flow:          q.get("flow"),
		Fingerprint:   q.get("fp"),
		PublicKey:     q.get("pbk"),
		ShortID:       q.get("sid"),
	}
}

func (d *Decoder) parseVLESSLink(s string) (model.Proxy, error) {
	rest, query, name := splitLink(s)
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return model.Proxy{}, lineError("vless uri 缺少 @ 分隔符", nil)
	}
	id := canonicalUUID(unescapeOrRaw(rest[:at]))
	if id == "" {
		return model.Proxy{}, lineError("vless uuid 不能为空", nil)
	}
	server, port, err := parseHostPort(rest[at+1:])
	if err != nil {
		return model.Proxy{}, lineError("服务器地址或端口不合法", err)
	}

	params := vlessParamsFrom(parseLinkQuery(query))
	if name == "" {
		name = params.Peer
	}
	if params.Security == "reality" && params.PublicKey == "" {
		return model.Proxy{}, lineError("reality 节点缺少 pbk 公钥", nil)
	}

	p := model.Proxy{
		Protocol: model.ProtocolVLESS,
		Name:     name,
		Server:   server,
		Port:     port,
		UUID:     id,
		Flow:     params.Flow,
		UDP:      params.UDP,
		Transport: model.Transport{
			Network:        normalizeNetwork(params.Type),
			TLS:            params.Security == "tls" || params.Security == "reality",
			SkipCertVerify: params.AllowInsecure,
		},
	}
	if p.Transport.TLS {
		p.Transport.SNI = params.SNI
		p.Transport.ClientFingerprint = params.Fingerprint
	}
	if params.Security == "reality" {
		p.Transport.Reality = &model.Reality{PublicKey: params.PublicKey, ShortID: params.ShortID}
	}
	if p.Transport.Network == model.NetworkWS {
		p.Transport.Path = d.cleanWSPath(params.Path, server, port)
		p.Transport.Host = params.Host
	}
	return p, nil
}

// cleanWSPath drops anything after '?' or a space (early-data hints some
// generators glue onto the path) and substitutes the placeholder token with
// the node's own host:port.
func (d *Decoder) cleanWSPath(path, server string, port int) string {
	path, _, _ = strings.Cut(path, "?")
	path, _, _ = strings.Cut(strings.TrimSpace(path), " ")
	if d.opt.PathPlaceholder != "" && strings.Contains(path, d.opt.PathPlaceholder) {
		path = strings.ReplaceAll(path, d.opt.PathPlaceholder, net.JoinHostPort(server, strconv.Itoa(port)))
	}
	return path
}
