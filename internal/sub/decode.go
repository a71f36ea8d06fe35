package sub

import (
	"errors"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"github.com/sirupsen/logrus"
)

type Format string

const (
	FormatEmpty      Format = "empty"
	FormatStructured Format = "structured"
	FormatURIList    Format = "uri-list"
)

// DefaultPathPlaceholder is replaced by the node's host:port in vless
// websocket paths.
const DefaultPathPlaceholder = "{server}"

type Options struct {
	PathPlaceholder string
}

// Result is everything one subscription text produced. Errors holds one
// entry per skipped line or record; it never aborts the batch.
type Result struct {
	Format  Format
	Encoded bool // the whole text was base64
	Proxies []model.Proxy
	Errors  []*ParseError
	Ignored int // lines with an unknown scheme
}

type Decoder struct {
	opt Options
	log logrus.FieldLogger
}

func NewDecoder(opt Options, log logrus.FieldLogger) *Decoder {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Decoder{opt: opt, log: log}
}

// Decode parses one subscription text. Structured YAML is tried first, then
// the (possibly base64-encoded) URI list.
func (d *Decoder) Decode(sourceURL string, content string) Result {
	s := strings.TrimSpace(stripUTF8BOM(content))
	if s == "" {
		return Result{Format: FormatEmpty}
	}

	if proxies, errs, ok := d.parseStructured(sourceURL, s); ok {
		d.logErrors(errs)
		return Result{Format: FormatStructured, Proxies: proxies, Errors: errs}
	}

	res := Result{}
	if decoded, ok := decodeWholeText(s); ok {
		res.Encoded = true
		if proxies, errs, ok := d.parseStructured(sourceURL, decoded); ok {
			d.logErrors(errs)
			return Result{Format: FormatStructured, Encoded: true, Proxies: proxies, Errors: errs}
		}
		s = decoded
	}

	res.Format = FormatURIList
	d.parseURIList(sourceURL, s, &res)
	d.logErrors(res.Errors)
	return res
}

func (d *Decoder) parseURIList(sourceURL, raw string, res *Result) {
	lines := strings.Split(raw, "\n")
	res.Proxies = make([]model.Proxy, 0, len(lines))
	for i, line := range lines {
		orig := line
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		p, known, err := d.parseLine(line)
		if !known {
			res.Ignored++
			continue
		}
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			res.Errors = append(res.Errors, toParseError(sourceURL, i+1, orig, err))
			continue
		}
		res.Proxies = append(res.Proxies, p)
	}
}

// parseLine dispatches on the scheme prefix. known=false means the scheme is
// not one we decode, which is not an error.
func (d *Decoder) parseLine(line string) (p model.Proxy, known bool, err error) {
	scheme, _, ok := strings.Cut(line, "://")
	if !ok {
		return model.Proxy{}, false, nil
	}
	switch strings.ToLower(scheme) {
	case "vmess":
		p, err = parseVMessLink(line[len(scheme)+3:])
	case "ss":
		p, err = parseSSLink(line[len(scheme)+3:])
	case "trojan":
		p, err = parseTrojanLink(line[len(scheme)+3:])
	case "vless":
		p, err = d.parseVLESSLink(line[len(scheme)+3:])
	case "ssr":
		p, err = parseSSRLink(line[len(scheme)+3:])
	default:
		return model.Proxy{}, false, nil
	}
	return p, true, err
}

func toParseError(sourceURL string, lineNo int, orig string, err error) *ParseError {
	var de *decodeError
	if errors.As(err, &de) {
		return newParseError(sourceURL, lineNo, truncateSnippet(orig, 200), "SUB_PARSE_ERROR", de.Message, "", de.Cause)
	}
	return newParseError(sourceURL, lineNo, truncateSnippet(orig, 200), "SUB_PARSE_ERROR", "节点字段不合法", "", err)
}

func (d *Decoder) logErrors(errs []*ParseError) {
	for _, e := range errs {
		d.log.WithFields(logrus.Fields{
			"stage":  e.AppError.Stage,
			"source": e.AppError.URL,
			"line":   e.AppError.Line,
		}).Debugf("skip node: %v", e)
	}
}
