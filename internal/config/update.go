package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaveHosts replaces the 'hosts' list in the config file with the given hosts.
// It preserves the rest of the YAML structure and comments, so discovered
// topologies can be pinned without rewriting a hand-edited file.
func SaveHosts(configPath string, hosts []HostEntry) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse as yaml.Node to preserve structure
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	if root.Kind == 0 {
		// Empty file: start a fresh document.
		root = yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid YAML document structure")
	}

	docNode := root.Content[0]
	if docNode.Kind != yaml.MappingNode {
		return fmt.Errorf("expected mapping at document root")
	}

	hostsNode := hostsSequence(hosts)
	if existing := findMapValue(docNode, "hosts"); existing != nil {
		*existing = *hostsNode
	} else {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "hosts"}
		docNode.Content = append(docNode.Content, keyNode, hostsNode)
	}

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&root); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	encoder.Close()

	if err := os.WriteFile(configPath, []byte(buf.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// hostsSequence builds the YAML node for a host list.
func hostsSequence(hosts []HostEntry) *yaml.Node {
	seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for _, h := range hosts {
		m := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		addScalar(m, "id", h.ID, "!!str")
		addScalar(m, "address", h.Address, "!!str")
		if h.Role != "" {
			addScalar(m, "role", h.Role, "!!str")
		}
		if h.Shard > 0 {
			addScalar(m, "shard", strconv.Itoa(h.Shard), "!!int")
		}
		if h.Replica > 0 {
			addScalar(m, "replica", strconv.Itoa(h.Replica), "!!int")
		}
		seq.Content = append(seq.Content, m)
	}
	return seq
}

func addScalar(m *yaml.Node, key, value, tag string) {
	m.Content = append(m.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: tag, Value: value},
	)
}

// findMapValue finds a value in a mapping node by key name.
func findMapValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i < len(node.Content)-1; i += 2 {
		keyNode := node.Content[i]
		valueNode := node.Content[i+1]

		if keyNode.Kind == yaml.ScalarNode && keyNode.Value == key {
			return valueNode
		}
	}

	return nil
}

// StarterConfig renders a commented starter .chdig.yaml for 'chdig init'.
func StarterConfig(url, cluster string) ([]byte, error) {
	cfg := DefaultConfig()
	if url != "" {
		cfg.URL = url
	}
	cfg.Cluster = cluster

	var node yaml.Node
	if err := node.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode starter config: %w", err)
	}
	annotate(&node, map[string]string{
		"url":          "Seed host. Credentials may use ${ENV} references.",
		"hosts":        "Explicit hosts; leave empty to discover from system.clusters.",
		"cluster":      "Cluster name used for host discovery.",
		"interval":     "Refresh period (minimum 500ms).",
		"host_timeout": "Per-host query timeout.",
		"top_n":        "Rows shown per view; 0 shows all.",
		"flamegraph":   "format: folded | json | pprof. viewer reads folded stacks on stdin.",
	})

	var buf strings.Builder
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(&node); err != nil {
		return nil, fmt.Errorf("failed to encode starter config: %w", err)
	}
	encoder.Close()
	return []byte(buf.String()), nil
}

// annotate attaches head comments to top-level keys.
func annotate(node *yaml.Node, comments map[string]string) {
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i < len(node.Content)-1; i += 2 {
		if c, ok := comments[node.Content[i].Value]; ok {
			node.Content[i].HeadComment = c
		}
	}
}
