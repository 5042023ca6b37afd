package spec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML or JSON protocol file and returns its generic tree.
func LoadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read protocol %s: %w", path, err)
	}
	return ParseTree(data)
}

// ParseTree parses YAML or JSON text into a tree of string-keyed maps,
// sequences and scalars. JSON is accepted as a subset of YAML.
func ParseTree(data []byte) (map[string]any, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))

	var raw any
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse protocol: empty document")
		}
		return nil, fmt.Errorf("parse protocol: %w", err)
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse protocol: expected a single document")
	}

	tree, ok := normalizeKeys(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("parse protocol: document root must be a mapping, got %T", raw)
	}
	return tree, nil
}

// LoadDocument reads a protocol file into a normalized Document.
func LoadDocument(path string) (*Document, error) {
	tree, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewDocument(tree), nil
}
