package detections

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// MetadataNamesKey is the ONNX custom metadata key holding class names in
// YOLO exports, e.g. "{0: 'cardboard', 1: 'glass'}".
const MetadataNamesKey = "names"

// ClassMap resolves class ids to labels. It is immutable once built.
type ClassMap struct {
	labels map[int]string
}

// NewClassMap copies labels into a ClassMap.
func NewClassMap(labels map[int]string) (ClassMap, error) {
	if len(labels) == 0 {
		return ClassMap{}, fmt.Errorf("class map is empty")
	}
	m := make(map[int]string, len(labels))
	for id, label := range labels {
		if id < 0 {
			return ClassMap{}, fmt.Errorf("negative class id %d", id)
		}
		m[id] = label
	}
	return ClassMap{labels: m}, nil
}

// Lookup returns the label for id.
func (c ClassMap) Lookup(id int) (string, error) {
	label, ok := c.labels[id]
	if !ok {
		return "", &ConsistencyError{ClassID: id}
	}
	return label, nil
}

// Len returns the number of known classes.
func (c ClassMap) Len() int {
	return len(c.labels)
}

// Labels returns a copy of the mapping.
func (c ClassMap) Labels() map[int]string {
	m := make(map[int]string, len(c.labels))
	for id, label := range c.labels {
		m[id] = label
	}
	return m
}

// String renders the map ordered by id.
func (c ClassMap) String() string {
	ids := make([]int, 0, len(c.labels))
	for id := range c.labels {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d: %s", id, c.labels[id])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ParseClassNames parses either a YAML sequence of labels (ids are the
// positions) or an id to label mapping. The mapping form also accepts the
// flow style written into YOLO model metadata.
func ParseClassNames(data []byte) (ClassMap, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return ClassMap{}, fmt.Errorf("parse class names: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return ClassMap{}, fmt.Errorf("parse class names: empty document")
	}

	labels := map[int]string{}
	switch root := node.Content[0]; root.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := root.Decode(&list); err != nil {
			return ClassMap{}, fmt.Errorf("parse class names: %w", err)
		}
		for id, label := range list {
			labels[id] = label
		}
	case yaml.MappingNode:
		if err := root.Decode(&labels); err != nil {
			return ClassMap{}, fmt.Errorf("parse class names: %w", err)
		}
	default:
		return ClassMap{}, fmt.Errorf("parse class names: expected a list or a mapping")
	}

	return NewClassMap(labels)
}

// LoadClassFile reads class names from a YAML file.
func LoadClassFile(path string) (ClassMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ClassMap{}, fmt.Errorf("read labels file: %w", err)
	}
	return ParseClassNames(data)
}
