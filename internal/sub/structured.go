package sub

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"gopkg.in/yaml.v3"
)

// clashRecord is one entry of a Clash "proxies:" list. Keys this model does
// not know about are kept in Extra and written back unchanged.
type clashRecord struct {
	Name           string         `yaml:"name"`
	Type           string         `yaml:"type"`
	Server         string         `yaml:"server"`
	Port           flexInt        `yaml:"port"`
	UUID           string         `yaml:"uuid"`
	AlterID        flexInt        `yaml:"alterId"`
	Flow           string         `yaml:"flow"`
	Cipher         string         `yaml:"cipher"`
	Password       string         `yaml:"password"`
	UDP            bool           `yaml:"udp"`
	TLS            bool           `yaml:"tls"`
	SNI            string         `yaml:"sni"`
	ServerName     string         `yaml:"servername"`
	SkipCertVerify bool           `yaml:"skip-cert-verify"`
	Fingerprint    string         `yaml:"client-fingerprint"`
	RealityOpts    *clashReality  `yaml:"reality-opts"`
	Network        string         `yaml:"network"`
	WSOpts         *clashWSOpts   `yaml:"ws-opts"`
	Protocol       string         `yaml:"protocol"`
	ProtocolParam  string         `yaml:"protocol-param"`
	Obfs           string         `yaml:"obfs"`
	ObfsParam      string         `yaml:"obfs-param"`
	Plugin         string         `yaml:"plugin"`
	PluginOpts     map[string]any `yaml:"plugin-opts"`
	Extra          map[string]any `yaml:",inline"`
}

type clashReality struct {
	PublicKey string `yaml:"public-key"`
	ShortID   string `yaml:"short-id"`
}

type clashWSOpts struct {
	Path    string            `yaml:"path"`
	Headers map[string]string `yaml:"headers"`
}

// parseStructured reports ok=false when text is not a mapping with a
// "proxies" sequence; the caller then tries the URI-list form.
func (d *Decoder) parseStructured(sourceURL, text string) (proxies []model.Proxy, errs []*ParseError, ok bool) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(text), &root); err != nil {
		return nil, nil, false
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, nil, false
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil, false
	}

	var list *yaml.Node
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == "proxies" {
			list = doc.Content[i+1]
			break
		}
	}
	if list == nil || list.Kind != yaml.SequenceNode {
		return nil, nil, false
	}

	proxies = make([]model.Proxy, 0, len(list.Content))
	for _, item := range list.Content {
		var rec clashRecord
		if err := item.Decode(&rec); err != nil {
			errs = append(errs, newParseError(sourceURL, item.Line, recordSnippet(item), "SUB_PARSE_ERROR", "节点记录解析失败", "", err))
			continue
		}
		p, err := rec.toProxy()
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			errs = append(errs, newParseError(sourceURL, item.Line, recordSnippet(item), "SUB_PARSE_ERROR", "节点记录不合法", "", err))
			continue
		}
		proxies = append(proxies, p)
	}
	return proxies, errs, true
}

func (r clashRecord) toProxy() (model.Proxy, error) {
	typ := model.Protocol(strings.ToLower(strings.TrimSpace(r.Type)))
	if typ == "shadowsocks" {
		typ = model.ProtocolShadowsocks
	}
	if !typ.Valid() {
		return model.Proxy{}, fmt.Errorf("unsupported proxy type %q", r.Type)
	}

	p := model.Proxy{
		Name:     cleanName(r.Name),
		Protocol: typ,
		Server:   strings.TrimSpace(r.Server),
		Port:     int(r.Port),
		UDP:      r.UDP,
		Extra:    r.Extra,
		Transport: model.Transport{
			Network:           normalizeNetwork(r.Network),
			TLS:               r.TLS,
			SkipCertVerify:    r.SkipCertVerify,
			ClientFingerprint: strings.TrimSpace(r.Fingerprint),
		},
	}
	if r.ServerName != "" {
		p.Transport.SNI = strings.TrimSpace(r.ServerName)
	} else {
		p.Transport.SNI = strings.TrimSpace(r.SNI)
	}
	if r.WSOpts != nil {
		p.Transport.Path = strings.TrimSpace(r.WSOpts.Path)
		for k, v := range r.WSOpts.Headers {
			if strings.EqualFold(k, "host") {
				p.Transport.Host = strings.TrimSpace(v)
			}
		}
	}

	switch typ {
	case model.ProtocolVMess:
		p.UUID = canonicalUUID(r.UUID)
		p.AlterID = int(r.AlterID)
		p.Cipher = strings.TrimSpace(r.Cipher)
		if p.Cipher == "" {
			p.Cipher = "auto"
		}
	case model.ProtocolVLESS:
		p.UUID = canonicalUUID(r.UUID)
		p.Flow = strings.TrimSpace(r.Flow)
		if r.RealityOpts != nil {
			p.Transport.Reality = &model.Reality{
				PublicKey: strings.TrimSpace(r.RealityOpts.PublicKey),
				ShortID:   strings.TrimSpace(r.RealityOpts.ShortID),
			}
		}
	case model.ProtocolTrojan:
		p.Password = r.Password
		// Clash trojan has no tls key; TLS is implied.
		p.Transport.TLS = true
	case model.ProtocolShadowsocks:
		p.Cipher = strings.TrimSpace(r.Cipher)
		p.Password = r.Password
		p.PluginName, p.PluginOpts = pluginFromClash(r.Plugin, r.PluginOpts)
	case model.ProtocolShadowsocksR:
		p.Cipher = strings.TrimSpace(r.Cipher)
		p.Password = r.Password
		p.SSRProtocol = strings.TrimSpace(r.Protocol)
		p.ProtocolParam = strings.TrimSpace(r.ProtocolParam)
		p.Obfs = strings.TrimSpace(r.Obfs)
		p.ObfsParam = strings.TrimSpace(r.ObfsParam)
	}
	if p.Server == "" {
		return model.Proxy{}, errors.New("missing server")
	}
	return p, nil
}

// pluginFromClash maps Clash plugin fields back to SIP003 naming. Clash calls
// simple-obfs "obfs" with mode/host; everything else keeps its own keys.
func pluginFromClash(name string, opts map[string]any) (string, []model.KV) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if name == "obfs" {
		out := make([]model.KV, 0, 2)
		if v, ok := opts["mode"]; ok {
			out = append(out, model.KV{Key: "obfs", Value: fmt.Sprint(v)})
		}
		if v, ok := opts["host"]; ok {
			out = append(out, model.KV{Key: "obfs-host", Value: fmt.Sprint(v)})
		}
		return "obfs-local", out
	}
	out := make([]model.KV, 0, len(keys))
	for _, k := range keys {
		out = append(out, model.KV{Key: k, Value: fmt.Sprint(opts[k])})
	}
	return name, out
}

func recordSnippet(n *yaml.Node) string {
	b, err := yaml.Marshal(n)
	if err != nil {
		return ""
	}
	return truncateSnippet(string(b), 200)
}
