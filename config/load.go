package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the base configuration file, deep-merges the per-profile
// overlay on top of it when profile is non-empty, rejects unknown keys,
// and validates the result. The overlay is expected next to the base
// file, named "<stem>.<profile>.yaml"; a profile without an overlay file
// runs on the base configuration alone.
func Load(basePath, profile string) (*Config, error) {
	var baseNode, err = readNode(basePath)
	if err != nil {
		return nil, err
	}

	var merged = baseNode
	if profile != "" {
		var overlayPath = overlayPathFor(basePath, profile)
		if _, statErr := os.Stat(overlayPath); statErr == nil {
			overlayNode, err := readNode(overlayPath)
			if err != nil {
				return nil, fmt.Errorf("profile %q: %w", profile, err)
			}
			merged = mergeNodes(baseNode, overlayNode)
		}
	}

	if merged != nil {
		if bad := unknownKeys(merged, reflect.TypeOf(Config{}), ""); len(bad) != 0 {
			return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(bad, "\n  "))
		}
	}

	var cfg = Default()
	if merged != nil {
		if err := merged.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decoding configuration: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overlayPathFor(basePath, profile string) string {
	var ext = filepath.Ext(basePath)
	var stem = strings.TrimSuffix(basePath, ext)
	return fmt.Sprintf("%s.%s%s", stem, profile, ext)
}

// readNode parses a YAML file into its root mapping node, or nil for an
// empty file.
func readNode(path string) (*yaml.Node, error) {
	var raw, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	return doc.Content[0], nil
}

// mergeNodes deep-merges two YAML mapping trees: mappings merge key by
// key with overlay recursing into shared keys, while scalars and
// sequences from the overlay replace the base value wholesale.
func mergeNodes(base, overlay *yaml.Node) *yaml.Node {
	if base == nil {
		return overlay
	}
	if overlay == nil {
		return base
	}
	if base.Kind != yaml.MappingNode || overlay.Kind != yaml.MappingNode {
		return overlay
	}

	var out = &yaml.Node{Kind: yaml.MappingNode, Tag: base.Tag}
	out.Content = append(out.Content, base.Content...)

	for i := 0; i+1 < len(overlay.Content); i += 2 {
		var key, val = overlay.Content[i], overlay.Content[i+1]
		var found = false
		for j := 0; j+1 < len(out.Content); j += 2 {
			if out.Content[j].Value == key.Value {
				out.Content[j+1] = mergeNodes(out.Content[j+1], val)
				found = true
				break
			}
		}
		if !found {
			out.Content = append(out.Content, key, val)
		}
	}
	return out
}

// unknownKeys walks a YAML mapping tree against the yaml struct tags of
// the target type and reports every key with no corresponding field,
// annotated with its dotted path.
func unknownKeys(node *yaml.Node, t reflect.Type, path string) []string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	switch t.Kind() {
	case reflect.Struct:
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var fields = yamlFields(t)
		var bad []string
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key, val = node.Content[i], node.Content[i+1]
			var keyPath = joinPath(path, key.Value)
			ft, ok := fields[key.Value]
			if !ok {
				bad = append(bad, fmt.Sprintf("%s: unknown key", keyPath))
				continue
			}
			bad = append(bad, unknownKeys(val, ft, keyPath)...)
		}
		return bad

	case reflect.Map:
		// Open sections (prompts, categories) accept arbitrary keys but
		// their values are still checked.
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var bad []string
		for i := 0; i+1 < len(node.Content); i += 2 {
			bad = append(bad, unknownKeys(node.Content[i+1], t.Elem(), joinPath(path, node.Content[i].Value))...)
		}
		return bad

	case reflect.Slice, reflect.Array:
		if node.Kind != yaml.SequenceNode {
			return nil
		}
		var bad []string
		for i, elem := range node.Content {
			bad = append(bad, unknownKeys(elem, t.Elem(), fmt.Sprintf("%s[%d]", path, i))...)
		}
		return bad
	}
	return nil
}

func yamlFields(t reflect.Type) map[string]reflect.Type {
	var out = make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		var f = t.Field(i)
		var tag = strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		out[tag] = f.Type
	}
	return out
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
