package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownKind is returned for artifact kinds without a schema.
var ErrUnknownKind = errors.New("unknown artifact kind")

// Artifact kinds.
const (
	KindChart  = "chart"
	KindFunnel = "funnel"
	KindMetric = "metric"
)

// SchemaVersion is stamped on every chunk.
const SchemaVersion = "1"

var schemaSources = map[string]string{
	KindChart: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["type", "title", "xAxis", "yAxis", "series"],
		"properties": {
			"type": {"enum": ["line", "bar", "area", "pie"]},
			"title": {"type": "string"},
			"description": {"type": "string"},
			"xAxis": {
				"type": "object",
				"additionalProperties": false,
				"required": ["label", "type"],
				"properties": {
					"label": {"type": "string"},
					"type": {"enum": ["category", "time", "number"]}
				}
			},
			"yAxis": {
				"type": "object",
				"additionalProperties": false,
				"required": ["label"],
				"properties": {
					"label": {"type": "string"},
					"unit": {"type": "string"}
				}
			},
			"series": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"additionalProperties": false,
					"required": ["name", "points"],
					"properties": {
						"name": {"type": "string"},
						"points": {
							"type": "array",
							"items": {
								"type": "object",
								"additionalProperties": false,
								"required": ["x", "y"],
								"properties": {
									"x": {"type": ["string", "number"]},
									"y": {"type": "number"}
								}
							}
						}
					}
				}
			}
		}
	}`,
	KindFunnel: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["title", "stages"],
		"properties": {
			"title": {"type": "string"},
			"stages": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"additionalProperties": false,
					"required": ["name", "value"],
					"properties": {
						"name": {"type": "string"},
						"value": {"type": "number", "minimum": 0},
						"conversionRate": {"type": "number", "minimum": 0, "maximum": 1}
					}
				}
			}
		}
	}`,
	KindMetric: `{
		"type": "object",
		"additionalProperties": false,
		"required": ["label", "value"],
		"properties": {
			"label": {"type": "string"},
			"value": {"type": "number"},
			"unit": {"type": "string"},
			"delta": {"type": "number"},
			"trend": {"enum": ["up", "down", "flat"]}
		}
	}`,
}

// Kind is a compiled artifact kind. Full validates a finished object;
// Partial is the same schema with every "required" and "minItems"
// removed, so it accepts objects whose fields are not populated yet while
// still rejecting fields populated with the wrong shape.
type Kind struct {
	Name    string
	Source  json.RawMessage
	Full    *jsonschema.Schema
	Partial *jsonschema.Schema
}

// Registry holds the compiled kinds.
type Registry struct {
	kinds map[string]*Kind
}

// NewRegistry compiles the built-in kinds.
func NewRegistry() (*Registry, error) {
	r := &Registry{kinds: make(map[string]*Kind, len(schemaSources))}
	for name, src := range schemaSources {
		k, err := compileKind(name, src)
		if err != nil {
			return nil, err
		}
		r.kinds[name] = k
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the kind named name.
func (r *Registry) Get(name string) (*Kind, error) {
	k, ok := r.kinds[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
	return k, nil
}

// Names lists the registered kinds in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.kinds))
	for name := range r.kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func compileKind(name, src string) (*Kind, error) {
	var doc any
	if err := json.Unmarshal([]byte(src), &doc); err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", name, err)
	}
	partialSrc, err := json.Marshal(stripRequired(doc))
	if err != nil {
		return nil, err
	}

	full, err := compile("mem://artifact/"+name+".json", src)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s schema: %w", name, err)
	}
	partial, err := compile("mem://artifact/"+name+".partial.json", string(partialSrc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s partial schema: %w", name, err)
	}
	return &Kind{Name: name, Source: json.RawMessage(src), Full: full, Partial: partial}, nil
}

func compile(url, src string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, strings.NewReader(src)); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// stripRequired returns a copy of a schema document without "required"
// and "minItems" keywords at any depth.
func stripRequired(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if k == "required" || k == "minItems" {
				continue
			}
			out[k] = stripRequired(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripRequired(val)
		}
		return out
	default:
		return v
	}
}
