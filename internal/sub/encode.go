package sub

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

// EncodeList renders proxies as a newline-terminated URI list.
func EncodeList(proxies []model.Proxy) (string, error) {
	if len(proxies) == 0 {
		return "", nil
	}
	lines := make([]string, 0, len(proxies))
	for _, p := range proxies {
		line, err := EncodeURI(p)
		if err != nil {
			return "", err
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// EncodeURI renders one proxy as the share link Decode understands.
func EncodeURI(p model.Proxy) (string, error) {
	switch p.Protocol {
	case model.ProtocolShadowsocks:
		return encodeSS(p), nil
	case model.ProtocolVMess:
		return encodeVMess(p)
	case model.ProtocolVLESS:
		return encodeVLESS(p), nil
	case model.ProtocolTrojan:
		return encodeTrojan(p), nil
	case model.ProtocolShadowsocksR:
		return encodeSSR(p), nil
	default:
		return "", fmt.Errorf("unsupported proxy type: %s", p.Protocol)
	}
}

func encodeSS(p model.Proxy) string {
	userInfo := strings.ToLower(p.Cipher) + ":" + p.Password
	userB64 := base64.RawURLEncoding.EncodeToString([]byte(userInfo))

	var b strings.Builder
	b.WriteString("ss://")
	b.WriteString(userB64)
	b.WriteString("@")
	b.WriteString(joinHost(p.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(p.Port))

	if strings.TrimSpace(p.PluginName) != "" {
		var pb strings.Builder
		pb.WriteString(strings.TrimSpace(p.PluginName))
		for _, kv := range p.PluginOpts {
			pb.WriteByte(';')
			pb.WriteString(kv.Key)
			pb.WriteByte('=')
			pb.WriteString(kv.Value)
		}
		b.WriteString("/?plugin=")
		b.WriteString(pctEncode(pb.String()))
	}
	writeFragment(&b, p.Name)
	return b.String()
}

type vmessOut struct {
	V    string `json:"v"`
	PS   string `json:"ps"`
	Add  string `json:"add"`
	Port string `json:"port"`
	ID   string `json:"id"`
	Aid  string `json:"aid"`
	Scy  string `json:"scy"`
	Net  string `json:"net"`
	Type string `json:"type"`
	Host string `json:"host"`
	Path string `json:"path"`
	TLS  string `json:"tls"`
	SNI  string `json:"sni"`
}

func encodeVMess(p model.Proxy) (string, error) {
	out := vmessOut{
		V:    "2",
		PS:   p.Name,
		Add:  p.Server,
		Port: strconv.Itoa(p.Port),
		ID:   p.UUID,
		Aid:  strconv.Itoa(p.AlterID),
		Scy:  p.Cipher,
		Net:  string(networkOrTCP(p.Transport.Network)),
		Type: "none",
		SNI:  p.Transport.SNI,
	}
	if p.Transport.Network == model.NetworkWS {
		out.Host = p.Transport.Host
		out.Path = p.Transport.Path
	}
	if p.Transport.TLS {
		out.TLS = "tls"
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(b), nil
}

func encodeVLESS(p model.Proxy) string {
	q := []model.KV{
		{Key: "encryption", Value: "none"},
		{Key: "type", Value: string(networkOrTCP(p.Transport.Network))},
	}
	if p.Transport.Network == model.NetworkWS {
		if p.Transport.Path != "" {
			q = append(q, model.KV{Key: "path", Value: p.Transport.Path})
		}
		if p.Transport.Host != "" {
			q = append(q, model.KV{Key: "host", Value: p.Transport.Host})
		}
	}
	switch {
	case p.Transport.Reality != nil:
		q = append(q, model.KV{Key: "security", Value: "reality"})
	case p.Transport.TLS:
		q = append(q, model.KV{Key: "security", Value: "tls"})
	default:
		q = append(q, model.KV{Key: "security", Value: "none"})
	}
	if p.Transport.TLS {
		if p.Transport.SNI != "" {
			q = append(q, model.KV{Key: "sni", Value: p.Transport.SNI})
		}
		if p.Transport.ClientFingerprint != "" {
			q = append(q, model.KV{Key: "fp", Value: p.Transport.ClientFingerprint})
		}
	}
	if r := p.Transport.Reality; r != nil {
		q = append(q, model.KV{Key: "pbk", Value: r.PublicKey})
		if r.ShortID != "" {
			q = append(q, model.KV{Key: "sid", Value: r.ShortID})
		}
	}
	if p.Flow != "" {
		q = append(q, model.KV{Key: "flow", Value: p.Flow})
	}
	if p.Transport.SkipCertVerify {
		q = append(q, model.KV{Key: "allowInsecure", Value: "1"})
	}
	if p.UDP {
		q = append(q, model.KV{Key: "udp", Value: "true"})
	}
	return buildLink("vless://", pctEncode(p.UUID), p, q)
}

func encodeTrojan(p model.Proxy) string {
	// trojan is always TLS; Validate rejects anything else.
	q := []model.KV{{Key: "security", Value: "tls"}}
	if p.Transport.SNI != "" {
		q = append(q, model.KV{Key: "sni", Value: p.Transport.SNI})
	}
	if p.Transport.Network == model.NetworkWS {
		q = append(q, model.KV{Key: "type", Value: "ws"})
		if p.Transport.Path != "" {
			q = append(q, model.KV{Key: "path", Value: p.Transport.Path})
		}
		if p.Transport.Host != "" {
			q = append(q, model.KV{Key: "host", Value: p.Transport.Host})
		}
	}
	if p.Transport.SkipCertVerify {
		q = append(q, model.KV{Key: "allowInsecure", Value: "1"})
	}
	return buildLink("trojan://", pctEncode(p.Password), p, q)
}

func encodeSSR(p model.Proxy) string {
	enc := base64.RawURLEncoding.EncodeToString
	main := strings.Join([]string{
		p.Server,
		strconv.Itoa(p.Port),
		p.SSRProtocol,
		p.Cipher,
		p.Obfs,
		enc([]byte(p.Password)),
	}, ":")
	params := []string{
		"obfsparam=" + enc([]byte(p.ObfsParam)),
		"protoparam=" + enc([]byte(p.ProtocolParam)),
		"remarks=" + enc([]byte(p.Name)),
	}
	return "ssr://" + enc([]byte(main+"/?"+strings.Join(params, "&")))
}

func buildLink(prefix, userinfo string, p model.Proxy, q []model.KV) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteString(userinfo)
	b.WriteByte('@')
	b.WriteString(joinHost(p.Server))
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(p.Port))
	for i, kv := range q {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(kv.Key)
		b.WriteByte('=')
		b.WriteString(pctEncode(kv.Value))
	}
	writeFragment(&b, p.Name)
	return b.String()
}

func writeFragment(b *strings.Builder, name string) {
	if name == "" {
		return
	}
	b.WriteByte('#')
	b.WriteString(pctEncode(name))
}

func networkOrTCP(n model.Network) model.Network {
	if n == "" {
		return model.NetworkTCP
	}
	return n
}

var errEmptyList = errors.New("empty proxies list")

// EncodeListBase64 is EncodeList wrapped in standard base64, the format most
// clients expect from a subscription URL.
func EncodeListBase64(proxies []model.Proxy) (string, error) {
	if len(proxies) == 0 {
		return "", errEmptyList
	}
	raw, err := EncodeList(proxies)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}
