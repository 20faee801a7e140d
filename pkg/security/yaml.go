package security

import (
	"bytes"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds the resources spent parsing operator-supplied YAML.
type YAMLLimits struct {
	MaxFileSize  int64
	MaxDepth     int
	MaxNodes     int
	MaxKeyLength int
	MaxValueSize int64
}

// DefaultYAMLLimits returns limits suitable for configuration and rule files.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxFileSize:  1024 * 1024,
		MaxDepth:     20,
		MaxNodes:     10000,
		MaxKeyLength: 256,
		MaxValueSize: 64 * 1024,
	}
}

// SafeYAMLParser decodes YAML after checking its structure against limits,
// which stops alias expansion bombs before they reach yaml.Unmarshal.
type SafeYAMLParser struct {
	limits YAMLLimits
}

// NewSafeYAMLParser creates a parser with the given limits.
func NewSafeYAMLParser(limits YAMLLimits) *SafeYAMLParser {
	return &SafeYAMLParser{limits: limits}
}

// UnmarshalYAML validates data and decodes it into v.
func (p *SafeYAMLParser) UnmarshalYAML(data []byte, v any) error {
	if int64(len(data)) > p.limits.MaxFileSize {
		return fmt.Errorf("YAML size %d bytes exceeds maximum %d bytes", len(data), p.limits.MaxFileSize)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("YAML parse error: %w", err)
	}

	nodes := 0
	if err := p.check(&root, 0, &nodes); err != nil {
		return err
	}
	return yaml.Unmarshal(data, v)
}

// UnmarshalYAMLFromReader reads at most MaxFileSize bytes from r and decodes
// them into v.
func (p *SafeYAMLParser) UnmarshalYAMLFromReader(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, p.limits.MaxFileSize+1))
	if err != nil {
		return fmt.Errorf("read YAML: %w", err)
	}
	return p.UnmarshalYAML(data, v)
}

func (p *SafeYAMLParser) check(node *yaml.Node, depth int, nodes *int) error {
	if depth > p.limits.MaxDepth {
		return fmt.Errorf("YAML nesting depth %d exceeds maximum %d", depth, p.limits.MaxDepth)
	}
	*nodes++
	if *nodes > p.limits.MaxNodes {
		return fmt.Errorf("YAML node count exceeds maximum %d", p.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.ScalarNode:
		if int64(len(node.Value)) > p.limits.MaxValueSize {
			return fmt.Errorf("YAML value size %d bytes exceeds maximum %d bytes", len(node.Value), p.limits.MaxValueSize)
		}
		return nil
	case yaml.AliasNode:
		if node.Alias == nil {
			return nil
		}
		return p.check(node.Alias, depth+1, nodes)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			if len(node.Content[i].Value) > p.limits.MaxKeyLength {
				return fmt.Errorf("YAML key length %d exceeds maximum %d", len(node.Content[i].Value), p.limits.MaxKeyLength)
			}
		}
	}

	next := depth + 1
	if node.Kind == yaml.DocumentNode {
		next = depth
	}
	for _, child := range node.Content {
		if err := p.check(child, next, nodes); err != nil {
			return err
		}
	}
	return nil
}
