package render

import (
	"bytes"
	"strings"

	"github.com/John-Robertt/nodesift/internal/model"
	"gopkg.in/yaml.v3"
)

// MergeIntoBase replaces the "proxies" list of an existing Clash config and
// refreshes the members of the proxy-groups named in groups. A refreshed
// group keeps its references that are not nodes of the previous list (DIRECT,
// other groups) and then lists the new nodes. A named group missing from the
// base is appended as a select group. Everything else in base is kept.
func MergeIntoBase(base []byte, proxies []model.Proxy, groups []string) ([]byte, error) {
	doc, err := baseMapping(base)
	if err != nil {
		return nil, err
	}

	rendered := make([]clashProxy, 0, len(proxies))
	names := make([]string, 0, len(proxies))
	for _, p := range proxies {
		cp, err := toClashProxy(p)
		if err != nil {
			return nil, err
		}
		rendered = append(rendered, cp)
		names = append(names, cp.Name)
	}
	var list yaml.Node
	if err := list.Encode(rendered); err != nil {
		return nil, newRenderError("RENDER_FAILED", "YAML 序列化失败", "", err)
	}

	oldNames := map[string]struct{}{}
	if old := mappingValue(doc, "proxies"); old != nil && old.Kind == yaml.SequenceNode {
		for _, item := range old.Content {
			if n := mappingValue(item, "name"); n != nil {
				oldNames[n.Value] = struct{}{}
			}
		}
	}
	setMappingValue(doc, "proxies", &list)

	if len(groups) > 0 {
		if err := refreshGroups(doc, groups, names, oldNames); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, newRenderError("RENDER_FAILED", "YAML 序列化失败", "", err)
	}
	if err := enc.Close(); err != nil {
		return nil, newRenderError("RENDER_FAILED", "YAML 序列化失败", "", err)
	}
	return buf.Bytes(), nil
}

func baseMapping(base []byte) (*yaml.Node, error) {
	if len(bytes.TrimSpace(base)) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(base, &root); err != nil {
		return nil, newRenderError("BASE_CONFIG_INVALID", "基础配置不是合法 YAML", "", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, newRenderError("BASE_CONFIG_INVALID", "基础配置顶层必须是 mapping", "", nil)
	}
	return root.Content[0], nil
}

func refreshGroups(doc *yaml.Node, groups, names []string, oldNames map[string]struct{}) error {
	newNames := make(map[string]struct{}, len(names))
	for _, n := range names {
		newNames[n] = struct{}{}
	}

	list := mappingValue(doc, "proxy-groups")
	if list == nil {
		list = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		setMappingValue(doc, "proxy-groups", list)
	}
	if list.Kind != yaml.SequenceNode {
		return newRenderError("BASE_CONFIG_INVALID", "proxy-groups 必须是列表", "", nil)
	}

	for _, want := range groups {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		group := findGroup(list, want)
		if group == nil {
			group = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			setMappingValue(group, "name", scalar(want))
			setMappingValue(group, "type", scalar("select"))
			list.Content = append(list.Content, group)
		}

		var members []string
		if cur := mappingValue(group, "proxies"); cur != nil && cur.Kind == yaml.SequenceNode {
			for _, m := range cur.Content {
				_, wasNode := oldNames[m.Value]
				_, isNode := newNames[m.Value]
				if !wasNode && !isNode {
					members = append(members, m.Value)
				}
			}
		}
		members = append(members, names...)
		if len(members) == 0 {
			// Clash refuses a group without members.
			members = []string{"DIRECT"}
		}

		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, m := range members {
			seq.Content = append(seq.Content, scalar(m))
		}
		setMappingValue(group, "proxies", seq)
	}
	return nil
}

func findGroup(list *yaml.Node, name string) *yaml.Node {
	for _, g := range list.Content {
		if n := mappingValue(g, "name"); n != nil && n.Value == name {
			return g
		}
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func setMappingValue(m *yaml.Node, key string, value *yaml.Node) {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			m.Content[i+1] = value
			return
		}
	}
	m.Content = append(m.Content, scalar(key), value)
}

func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}
