package sub

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/John-Robertt/nodesift/internal/model"
)

func parseSSLink(s string) (model.Proxy, error) {
	rest, query, name := splitLink(s)
	if rest == "" {
		return model.Proxy{}, lineError("ss:// 后缺少内容", nil)
	}
	pluginName, pluginOpts, err := parseSSPlugin(parseLinkQuery(query))
	if err != nil {
		return model.Proxy{}, err
	}

	// Form A (SIP002): <b64(method:password)>@<host>:<port>
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userB64, hostPart := rest[:at], rest[at+1:]
		if userB64 == "" || hostPart == "" {
			return model.Proxy{}, lineError("ss uri 格式不合法", nil)
		}

		method, password, err := decodeMethodPassword(userB64)
		if err != nil {
			return model.Proxy{}, lineError("ss userinfo 解码失败", err)
		}
		server, port, err := parseHostPort(hostPart)
		if err != nil {
			return model.Proxy{}, lineError("服务器地址或端口不合法", err)
		}
		return model.Proxy{
			Protocol:   model.ProtocolShadowsocks,
			Name:       name,
			Server:     server,
			Port:       port,
			Cipher:     method,
			Password:   password,
			PluginName: pluginName,
			PluginOpts: pluginOpts,
		}, nil
	}

	// Form B (legacy): ss://<b64(method:password@host:port)>
	decoded, err := DecodeBase64String(strings.TrimSuffix(rest, "/"))
	if err != nil {
		return model.Proxy{}, lineError("ss base64 解码失败", err)
	}
	at := strings.LastIndex(decoded, "@")
	if at < 0 {
		return model.Proxy{}, lineError("ss base64 解码结果缺少 @ 分隔符", nil)
	}
	method, password, err := splitMethodPassword(decoded[:at])
	if err != nil {
		return model.Proxy{}, lineError("ss base64 解码结果缺少 cipher:password", err)
	}
	server, port, err := parseHostPort(decoded[at+1:])
	if err != nil {
		return model.Proxy{}, lineError("服务器地址或端口不合法", err)
	}
	return model.Proxy{
		Protocol:   model.ProtocolShadowsocks,
		Name:       name,
		Server:     server,
		Port:       port,
		Cipher:     method,
		Password:   password,
		PluginName: pluginName,
		PluginOpts: pluginOpts,
	}, nil
}

// parseSSPlugin reads the SIP003 "plugin" parameter, e.g.
// simple-obfs;obfs=tls;obfs-host=example.com. Other parameters are ignored.
func parseSSPlugin(q linkQuery) (string, []model.KV, error) {
	raw, ok := q["plugin"]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", nil, nil
	}
	segs := strings.Split(raw, ";")
	pluginName := strings.TrimSpace(segs[0])
	if pluginName == "" {
		return "", nil, lineError("plugin 名称不能为空", nil)
	}
	opts := make([]model.KV, 0, len(segs)-1)
	for _, seg := range segs[1:] {
		if seg == "" {
			continue
		}
		k, v, _ := strings.Cut(seg, "=")
		k = strings.TrimSpace(k)
		if k == "" {
			return "", nil, lineError("plugin 选项 key 不能为空", nil)
		}
		opts = append(opts, model.KV{Key: k, Value: v})
	}
	return pluginName, opts, nil
}

func decodeMethodPassword(userB64 string) (string, string, error) {
	// Some generators percent-encode the userinfo, others leave
	// method:password in clear text.
	userB64 = unescapeOrRaw(userB64)
	decoded, err := DecodeBase64String(userB64)
	if err != nil {
		if strings.Contains(userB64, ":") {
			return splitMethodPassword(userB64)
		}
		return "", "", err
	}
	return splitMethodPassword(decoded)
}

func splitMethodPassword(s string) (string, string, error) {
	if !utf8.ValidString(s) {
		return "", "", errors.New("method:password is not valid utf-8")
	}
	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return "", "", errors.New("missing ':'")
	}
	method := strings.TrimSpace(s[:colon])
	password := strings.TrimSpace(s[colon+1:])
	if method == "" || password == "" {
		return "", "", errors.New("empty method or password")
	}
	if strings.ContainsAny(method, "\r\n\x00") || strings.ContainsAny(password, "\r\n\x00") {
		return "", "", errors.New("control chars in method/password")
	}
	return method, password, nil
}
