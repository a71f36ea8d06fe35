package sub

import (
	"strconv"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
)

type ssrParams struct {
	ObfsParam  string
	ProtoParam string
	Remarks    string
}

func ssrParamsFrom(q linkQuery) ssrParams {
	return ssrParams{
		ObfsParam:  decodeSSRParam(q.get("obfsparam")),
		ProtoParam: decodeSSRParam(q.get("protoparam")),
		Remarks:    decodeSSRParam(q.get("remarks")),
	}
}

// decodeSSRParam decodes one base64 query value; an undecodable value is
// treated as absent.
func decodeSSRParam(s string) string {
	if s == "" {
		return ""
	}
	v, err := DecodeBase64String(s)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}

// parseSSRLink reads ssr://b64(host:port:protocol:method:obfs:b64(password)/?params).
func parseSSRLink(s string) (model.Proxy, error) {
	decoded, err := DecodeBase64String(s)
	if err != nil {
		return model.Proxy{}, lineError("ssr base64 解码失败", err)
	}

	main, query, _ := strings.Cut(decoded, "/?")
	main = strings.TrimSuffix(strings.TrimSpace(main), "/")

	// host may be an IPv6 literal, so split from the right.
	fields := strings.Split(main, ":")
	if len(fields) < 6 {
		return model.Proxy{}, lineError("ssr 字段数量不足", nil)
	}
	n := len(fields)
	host := strings.Trim(strings.Join(fields[:n-5], ":"), "[]")
	portStr, proto, method, obfs, pwB64 := fields[n-5], fields[n-4], fields[n-3], fields[n-2], fields[n-1]

	if host == "" {
		return model.Proxy{}, lineError("ssr 服务器地址为空", nil)
	}
	port, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil || port < 1 || port > 65535 {
		return model.Proxy{}, lineError("ssr 端口不合法", err)
	}
	password, err := DecodeBase64String(pwB64)
	if err != nil {
		return model.Proxy{}, lineError("ssr password 解码失败", err)
	}
	if password == "" || strings.TrimSpace(method) == "" {
		return model.Proxy{}, lineError("cipher 或 password 不能为空", nil)
	}

	params := ssrParamsFrom(parseLinkQuery(query))
	return model.Proxy{
		Protocol:      model.ProtocolShadowsocksR,
		Name:          cleanName(params.Remarks),
		Server:        host,
		Port:          port,
		Cipher:        strings.TrimSpace(method),
		Password:      password,
		SSRProtocol:   strings.TrimSpace(proto),
		ProtocolParam: params.ProtoParam,
		Obfs:          strings.TrimSpace(obfs),
		ObfsParam:     params.ObfsParam,
	}, nil
}
