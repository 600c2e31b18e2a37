package filestore

import (
	"encoding/base64"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// encode marshals values, writing byte slices as !!binary scalars. yaml.v3
// would otherwise write them as integer sequences that read back as []any.
func encode(values map[string]any) ([]byte, error) {
	tagged := make(map[string]any, len(values))
	for key, value := range values {
		tagged[key] = tagBinary(value)
	}
	data, err := yaml.Marshal(tagged)
	if err != nil {
		return nil, fmt.Errorf("filestore: encode: %w", err)
	}
	return data, nil
}

func tagBinary(value any) any {
	switch v := value.(type) {
	case []byte:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: binaryTag, Value: base64.StdEncoding.EncodeToString(v)}
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = tagBinary(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = tagBinary(item)
		}
		return out
	}
	return value
}

// decodeNode decodes n like yaml.v3 does into an any, except that !!binary
// scalars come back as []byte instead of strings.
func decodeNode(n *yaml.Node) (any, error) {
	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return decodeNode(n.Alias)
	}
	if !hasBinary(n) {
		var value any
		if err := n.Decode(&value); err != nil {
			return nil, err
		}
		return value, nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(n.Value), ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid !!binary: %w", n.Line, err)
		}
		return data, nil
	case yaml.SequenceNode:
		out := make([]any, len(n.Content))
		for i, item := range n.Content {
			value, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil
	default:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			var key string
			if err := n.Content[i].Decode(&key); err != nil {
				return nil, err
			}
			value, err := decodeNode(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[key] = value
		}
		return out, nil
	}
}

func hasBinary(n *yaml.Node) bool {
	if n.Kind == yaml.ScalarNode {
		return n.ShortTag() == binaryTag
	}
	if n.Kind != yaml.SequenceNode && n.Kind != yaml.MappingNode {
		return false
	}
	for _, child := range n.Content {
		if hasBinary(child) {
			return true
		}
	}
	return false
}
