package sub

import (
	"encoding/json"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

// vmessJSON is the v2rayN share-link payload.
type vmessJSON struct {
	V    flexInt `json:"v"`
	PS   string  `json:"ps"`
	Add  string  `json:"add"`
	Port flexInt `json:"port"`
	ID   string  `json:"id"`
	Aid  flexInt `json:"aid"`
	Scy  string  `json:"scy"`
	Net  string  `json:"net"`
	Type string  `json:"type"`
	Host string  `json:"host"`
	Path string  `json:"path"`
	TLS  string  `json:"tls"`
	SNI  string  `json:"sni"`
}

func parseVMessLink(s string) (model.Proxy, error) {
	// Some links append "#name" to the encoded payload.
	payload, _, _ := strings.Cut(s, "#")
	decoded, err := DecodeBase64String(payload)
	if err != nil {
		return model.Proxy{}, lineError("vmess base64 解码失败", err)
	}

	var v vmessJSON
	if err := json.Unmarshal([]byte(decoded), &v); err != nil {
		return model.Proxy{}, lineError("vmess JSON 解析失败", err)
	}
	if strings.TrimSpace(v.Add) == "" {
		return model.Proxy{}, lineError("vmess 缺少 add", nil)
	}
	if strings.TrimSpace(v.ID) == "" {
		return model.Proxy{}, lineError("vmess 缺少 id", nil)
	}

	cipher := strings.TrimSpace(v.Scy)
	if cipher == "" {
		cipher = "auto"
	}
	p := model.Proxy{
		Protocol: model.ProtocolVMess,
		Name:     cleanName(v.PS),
		Server:   strings.TrimSpace(v.Add),
		Port:     int(v.Port),
		UUID:     canonicalUUID(v.ID),
		AlterID:  int(v.Aid),
		Cipher:   cipher,
		Transport: model.Transport{
			Network: normalizeNetwork(v.Net),
			TLS:     strings.EqualFold(strings.TrimSpace(v.TLS), "tls"),
			SNI:     strings.TrimSpace(v.SNI),
		},
	}
	if p.Transport.Network == model.NetworkWS {
		p.Transport.Path = strings.TrimSpace(v.Path)
		p.Transport.Host = strings.TrimSpace(v.Host)
	}
	return p, nil
}

func normalizeNetwork(s string) model.Network {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "tcp":
		return model.NetworkTCP
	case "ws", "websocket":
		return model.NetworkWS
	default:
		// Left as-is so validation rejects it with the real name.
		return model.Network(s)
	}
}
