package render

import (
	"fmt"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/John-Robertt/nodesift/internal/sub"
)

type Encoding string

const (
	EncodingRaw    Encoding = "raw"
	EncodingBase64 Encoding = "base64"
)

// RenderList renders one share URI per line, optionally base64-encoded as a
// whole. No nodes render as an empty document in both encodings.
func RenderList(proxies []model.Proxy, enc Encoding) ([]byte, error) {
	if enc != EncodingRaw && enc != EncodingBase64 {
		return nil, newRenderError("INVALID_ARGUMENT", fmt.Sprintf("encode 仅支持 raw/base64：%s", enc), "", nil)
	}
	if len(proxies) == 0 {
		return []byte{}, nil
	}

	var (
		out string
		err error
	)
	if enc == EncodingBase64 {
		out, err = sub.EncodeListBase64(proxies)
	} else {
		out, err = sub.EncodeList(proxies)
	}
	if err != nil {
		return nil, newRenderError("RENDER_FAILED", "节点 URI 编码失败", "", err)
	}
	return []byte(out), nil
}
