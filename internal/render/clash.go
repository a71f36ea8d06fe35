package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"gopkg.in/yaml.v3"
)

// clashProxy is one rendered "proxies:" entry. Field order is the output key
// order; Extra keys follow, sorted by the encoder.
type clashProxy struct {
	Name           string         `yaml:"name"`
	Type           string         `yaml:"type"`
	Server         string         `yaml:"server"`
	Port           int            `yaml:"port"`
	UUID           string         `yaml:"uuid,omitempty"`
	AlterID        *int           `yaml:"alterId,omitempty"`
	Flow           string         `yaml:"flow,omitempty"`
	Cipher         string         `yaml:"cipher,omitempty"`
	Password       string         `yaml:"password,omitempty"`
	UDP            bool           `yaml:"udp,omitempty"`
	TLS            bool           `yaml:"tls,omitempty"`
	ServerName     string         `yaml:"servername,omitempty"`
	SNI            string         `yaml:"sni,omitempty"`
	SkipCertVerify bool           `yaml:"skip-cert-verify,omitempty"`
	Fingerprint    string         `yaml:"client-fingerprint,omitempty"`
	RealityOpts    *clashReality  `yaml:"reality-opts,omitempty"`
	Network        string         `yaml:"network,omitempty"`
	WSOpts         *clashWSOpts   `yaml:"ws-opts,omitempty"`
	Protocol       string         `yaml:"protocol,omitempty"`
	ProtocolParam  string         `yaml:"protocol-param,omitempty"`
	Obfs           string         `yaml:"obfs,omitempty"`
	ObfsParam      string         `yaml:"obfs-param,omitempty"`
	Plugin         string         `yaml:"plugin,omitempty"`
	PluginOpts     map[string]any `yaml:"plugin-opts,omitempty"`
	Extra          map[string]any `yaml:",inline"`
}

type clashReality struct {
	PublicKey string `yaml:"public-key"`
	ShortID   string `yaml:"short-id,omitempty"`
}

type clashWSOpts struct {
	Path    string            `yaml:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type clashDocument struct {
	Proxies []clashProxy `yaml:"proxies"`
}

// clashKeys are the keys clashProxy writes itself; an Extra entry with the
// same name would produce a duplicate key.
var clashKeys = map[string]struct{}{
	"name": {}, "type": {}, "server": {}, "port": {}, "uuid": {}, "alterId": {}, "flow": {},
	"cipher": {}, "password": {}, "udp": {}, "tls": {}, "servername": {}, "sni": {},
	"skip-cert-verify": {}, "client-fingerprint": {}, "reality-opts": {},
	"network": {}, "ws-opts": {}, "protocol": {},
	"protocol-param": {}, "obfs": {}, "obfs-param": {}, "plugin": {}, "plugin-opts": {},
}

// transientKeys are measurement fields some upstream subscriptions attach to
// nodes. They describe someone else's probe and are never passed on.
var transientKeys = map[string]struct{}{
	"score": {}, "latency": {}, "delay": {}, "quality": {}, "speed": {},
	"rtt": {}, "ping": {}, "history": {}, "alive": {},
}

// RenderClash renders a Clash "proxies:" document that the structured branch
// of the decoder reads back unchanged. An empty input renders "proxies: []".
func RenderClash(proxies []model.Proxy) ([]byte, error) {
	doc := clashDocument{Proxies: make([]clashProxy, 0, len(proxies))}
	for _, p := range proxies {
		cp, err := toClashProxy(p)
		if err != nil {
			return nil, err
		}
		doc.Proxies = append(doc.Proxies, cp)
	}
	return encodeYAML(doc)
}

func toClashProxy(p model.Proxy) (clashProxy, error) {
	if !p.Protocol.Valid() {
		return clashProxy{}, newRenderError("UNSUPPORTED_PROTOCOL", fmt.Sprintf("不支持的协议：%s", p.Protocol), p.Name, nil)
	}
	cp := clashProxy{
		Name:   p.Name,
		Type:   string(p.Protocol),
		Server: p.Server,
		Port:   p.Port,
		UDP:    p.UDP,
		Extra:  cleanExtra(p.Extra),
	}

	switch p.Protocol {
	case model.ProtocolVMess:
		alterID := p.AlterID
		cp.UUID = p.UUID
		cp.AlterID = &alterID
		cp.Cipher = p.Cipher
		if cp.Cipher == "" {
			cp.Cipher = "auto"
		}
		setStream(&cp, p.Transport, false)
	case model.ProtocolVLESS:
		cp.UUID = p.UUID
		cp.Flow = p.Flow
		setStream(&cp, p.Transport, false)
		if r := p.Transport.Reality; r != nil {
			cp.RealityOpts = &clashReality{PublicKey: r.PublicKey, ShortID: r.ShortID}
		}
	case model.ProtocolTrojan:
		cp.Password = p.Password
		setStream(&cp, p.Transport, true)
	case model.ProtocolShadowsocks:
		cp.Cipher = p.Cipher
		cp.Password = p.Password
		cp.Plugin, cp.PluginOpts = clashPlugin(p.PluginName, p.PluginOpts)
	case model.ProtocolShadowsocksR:
		cp.Cipher = p.Cipher
		cp.Password = p.Password
		cp.Protocol = p.SSRProtocol
		cp.ProtocolParam = p.ProtocolParam
		cp.Obfs = p.Obfs
		cp.ObfsParam = p.ObfsParam
	}
	return cp, nil
}

// setStream writes the transport keys. Clash trojan always runs TLS and
// names the server "sni"; vmess and vless use "tls" plus "servername".
func setStream(cp *clashProxy, t model.Transport, trojan bool) {
	if trojan {
		cp.SNI = t.SNI
	} else {
		cp.TLS = t.TLS
		cp.ServerName = t.SNI
	}
	cp.SkipCertVerify = t.SkipCertVerify
	if t.TLS {
		cp.Fingerprint = t.ClientFingerprint
	}
	if t.Network != model.NetworkWS {
		return
	}
	cp.Network = string(model.NetworkWS)
	if t.Path == "" && t.Host == "" {
		return
	}
	opts := &clashWSOpts{Path: t.Path}
	if t.Host != "" {
		opts.Headers = map[string]string{"Host": t.Host}
	}
	cp.WSOpts = opts
}

// clashPlugin maps a SIP003 plugin to Clash naming. simple-obfs becomes
// "obfs" with mode/host; other plugins keep their option keys, and flags
// ("tls", "tls=true") become YAML booleans.
func clashPlugin(name string, opts []model.KV) (string, map[string]any) {
	name, opts = model.CanonicalPlugin(name, opts)
	if name == "" {
		return "", nil
	}
	out := make(map[string]any, len(opts))
	switch name {
	case "obfs-local":
		for _, kv := range opts {
			switch kv.Key {
			case "obfs":
				out["mode"] = kv.Value
			case "obfs-host":
				out["host"] = kv.Value
			}
		}
		name = "obfs"
	default:
		for _, kv := range opts {
			switch kv.Value {
			case "true":
				out[kv.Key] = true
			case "false":
				out[kv.Key] = false
			default:
				out[kv.Key] = kv.Value
			}
		}
	}
	if len(out) == 0 {
		out = nil
	}
	return name, out
}

func cleanExtra(extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]any, len(extra))
	for k, v := range extra {
		if _, ok := clashKeys[k]; ok {
			continue
		}
		if _, ok := transientKeys[strings.ToLower(k)]; ok {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, newRenderError("RENDER_FAILED", "YAML 序列化失败", "", err)
	}
	if err := enc.Close(); err != nil {
		return nil, newRenderError("RENDER_FAILED", "YAML 序列化失败", "", err)
	}
	return buf.Bytes(), nil
}
