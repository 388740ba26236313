package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// WeightsKey is the reserved key of a tagged category carrying per-tag weights.
const WeightsKey = "_weights"

// TagGroup is a named subset of a vocabulary category.
type TagGroup struct {
	Name   string
	Values []string
}

// Category is the candidate value set of one placeholder. It is either a flat
// list or an ordered list of tag groups with optional weights.
type Category struct {
	Name    string
	Flat    []string
	Tags    []TagGroup
	Weights map[string]float64
}

// UnmarshalYAML accepts a sequence of strings or a mapping of tag -> values
// (plus an optional _weights mapping). Tag order follows the document.
func (c *Category) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		return node.Decode(&c.Flat)
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if key.Value == WeightsKey {
				if err := value.Decode(&c.Weights); err != nil {
					return fmt.Errorf("line %d: %s must map tag names to numbers: %w", value.Line, WeightsKey, err)
				}
				continue
			}
			var values []string
			if err := value.Decode(&values); err != nil {
				return fmt.Errorf("line %d: tag %q must be a list of strings: %w", value.Line, key.Value, err)
			}
			c.Tags = append(c.Tags, TagGroup{Name: key.Value, Values: values})
		}
		return nil
	default:
		return fmt.Errorf("line %d: category must be a list or a tag mapping", node.Line)
	}
}

// Tagged reports whether the category is grouped into tags.
func (c *Category) Tagged() bool {
	return len(c.Tags) > 0
}

// All returns the union of all values, in declaration order, without duplicates.
func (c *Category) All() []string {
	if !c.Tagged() {
		return c.Flat
	}
	var all []string
	seen := map[string]bool{}
	for _, tag := range c.Tags {
		for _, v := range tag.Values {
			if !seen[v] {
				seen[v] = true
				all = append(all, v)
			}
		}
	}
	return all
}

// TagWeight returns the configured weight of a tag, 1.0 when unset.
func (c *Category) TagWeight(tag string) float64 {
	if w, ok := c.Weights[tag]; ok {
		return w
	}
	return 1.0
}

// TagOf returns the first tag containing value, or "" for flat categories.
func (c *Category) TagOf(value string) string {
	for _, tag := range c.Tags {
		for _, v := range tag.Values {
			if v == value {
				return tag.Name
			}
		}
	}
	return ""
}

// Empty reports whether the category has no selectable value.
func (c *Category) Empty() bool {
	return len(c.All()) == 0
}
