package sub

import (
	"encoding/base64"
	"errors"
	"strings"
	"unicode/utf8"
)

// DecodeBase64 decodes the base64 dialect found in subscriptions: whitespace
// and a leading BOM are ignored, up to two missing '=' are tolerated, and both
// the standard and the URL-safe alphabet are accepted.
func DecodeBase64(s string) ([]byte, error) {
	s = removeSpaceTabCRLF(stripUTF8BOM(s))
	if s == "" {
		return nil, errors.New("empty base64 input")
	}
	unpadded := strings.TrimRight(s, "=")
	if len(s)-len(unpadded) > 2 {
		return nil, errors.New("too much base64 padding")
	}

	// Raw encodings accept any padding state once '=' is stripped.
	encodings := []*base64.Encoding{
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(unpadded)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}

	// Some generators mix both alphabets in one payload.
	mixed := strings.NewReplacer("-", "+", "_", "/").Replace(unpadded)
	if b, err := base64.RawStdEncoding.DecodeString(mixed); err == nil {
		return b, nil
	}
	return nil, lastErr
}

// DecodeBase64String is DecodeBase64 plus a UTF-8 validity check.
func DecodeBase64String(s string) (string, error) {
	b, err := DecodeBase64(s)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.New("decoded base64 is not valid utf-8")
	}
	return string(b), nil
}

// decodeWholeText reports whether the entire subscription is an encoded
// document. A decode that does not look like a node document is rejected so
// that plain text which happens to be valid base64 is not mangled.
func decodeWholeText(s string) (string, bool) {
	decoded, err := DecodeBase64String(s)
	if err != nil {
		return "", false
	}
	decoded = strings.TrimSpace(stripUTF8BOM(decoded))
	if decoded == "" {
		return "", false
	}
	if strings.Contains(decoded, "://") || strings.Contains(decoded, "proxies:") {
		return decoded, true
	}
	return "", false
}

func removeSpaceTabCRLF(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

func stripUTF8BOM(s string) string {
	return strings.TrimPrefix(s, "\uFEFF")
}
