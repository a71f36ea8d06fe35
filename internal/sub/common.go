package sub

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

func parseHostPort(s string) (string, int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "/")
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "", 0, errors.New("empty host")
	}
	portInt, err := strconv.Atoi(strings.TrimSpace(portStr))
	if err != nil {
		return "", 0, err
	}
	if portInt < 1 || portInt > 65535 {
		return "", 0, errors.New("port out of range")
	}
	return host, portInt, nil
}

// splitLink cuts "rest?query#fragment" (the part after "scheme://") and
// returns the percent-decoded fragment as the display name.
func splitLink(s string) (rest string, query string, name string) {
	withoutFrag, frag, hasFrag := strings.Cut(s, "#")
	if hasFrag {
		name = cleanName(unescapeOrRaw(frag))
	}
	rest, query, _ = strings.Cut(withoutFrag, "?")
	return rest, query, name
}

func unescapeOrRaw(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\x00':
			return -1
		default:
			return r
		}
	}, s)
}

func pctEncode(s string) string {
	// RFC 3986 percent-encoding for query/fragment. Go's QueryEscape uses '+' for
	// spaces, which we rewrite to %20 for stability and to avoid ambiguity.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// canonicalUUID lower-cases well-formed UUIDs. Non-standard ids are kept as
// given since some cores accept arbitrary strings and map them to a UUID.
func canonicalUUID(s string) string {
	s = strings.TrimSpace(s)
	if id, err := uuid.Parse(s); err == nil {
		return id.String()
	}
	return s
}

func joinHost(host string) string {
	// IPv6 host must be wrapped in [] in URI.
	if strings.Contains(host, ":") && !(strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]")) {
		return "[" + host + "]"
	}
	return host
}
