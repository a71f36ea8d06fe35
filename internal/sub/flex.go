package sub

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// flexInt accepts both 443 and "443". Generators disagree on which one to
// emit for port and alterId.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = 0
		return nil
	}
	s = strings.Trim(s, `"`)
	return f.set(s)
}

func (f *flexInt) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected scalar integer", value.Line)
	}
	return f.set(value.Value)
}

func (f *flexInt) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// linkQuery is the parsed query part of a share link. Values are
// percent-decoded; on a bad escape the raw value is kept.
type linkQuery map[string]string

// parseLinkQuery splits on '&' only. net/url.ParseQuery rejects bare ';' and
// turns '+' into a space, both of which break real-world links.
func parseLinkQuery(query string) linkQuery {
	out := make(linkQuery)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		kRaw, vRaw, _ := strings.Cut(part, "=")
		k := unescapeOrRaw(kRaw)
		if k == "" {
			continue
		}
		out[k] = unescapeOrRaw(vRaw)
	}
	return out
}

func (q linkQuery) get(keys ...string) string {
	for _, k := range keys {
		if v, ok := q[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseBoolParam(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
