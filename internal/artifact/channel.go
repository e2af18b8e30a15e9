// Package artifact delivers schema-typed structured objects from a
// generation collaborator to consumers, chunk by chunk.
//
// Every chunk is validated against the kind's partial schema and checked
// to only add to the previous chunk; the final object is validated against
// the full schema. Consumers receive either a stream of valid partial
// objects ending in IsComplete, or a typed error, never a malformed
// object.
package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Error codes carried by types.ArtifactError.
const (
	CodeSchema    = "schema"
	CodeGenerator = "generator"
	CodeCanceled  = "canceled"
)

// Request is handed to a Generator.
type Request struct {
	Kind          string          `json:"kind"`
	SchemaVersion string          `json:"schemaVersion"`
	Schema        json.RawMessage `json:"schema"`
	Input         string          `json:"input"`
}

// Generator produces successive snapshots of one object. Each snapshot is
// the whole object so far.
type Generator interface {
	Generate(ctx context.Context, req Request) (*schema.StreamReader[map[string]any], error)
}

// SchemaError reports an object that does not fit its kind.
type SchemaError struct {
	Kind string
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s artifact: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s artifact at %s: %v", e.Kind, e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// Channel validates generator output.
type Channel struct {
	registry  *Registry
	generator Generator
}

// NewChannel creates a channel over generator.
func NewChannel(registry *Registry, generator Generator) *Channel {
	return &Channel{registry: registry, generator: generator}
}

// Registry returns the kinds the channel accepts.
func (c *Channel) Registry() *Registry { return c.registry }

// Stream starts generating an object of kind. Unknown kinds and generator
// start failures are returned directly; anything later arrives as a final
// error chunk. Closing the returned reader stops generation.
func (c *Channel) Stream(ctx context.Context, kind, input string) (*schema.StreamReader[types.ArtifactChunk], error) {
	k, err := c.registry.Get(kind)
	if err != nil {
		return nil, err
	}

	src, err := c.generator.Generate(ctx, Request{
		Kind:          k.Name,
		SchemaVersion: SchemaVersion,
		Schema:        k.Source,
		Input:         input,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start %s generation: %w", k.Name, err)
	}

	out, w := schema.Pipe[types.ArtifactChunk](4)
	go c.pump(ctx, k, src, w)
	return out, nil
}

func (c *Channel) pump(ctx context.Context, k *Kind, src *schema.StreamReader[map[string]any], w *schema.StreamWriter[types.ArtifactChunk]) {
	defer w.Close()
	defer src.Close()

	seq := 0
	emit := func(chunk types.ArtifactChunk) bool {
		chunk.Kind = k.Name
		chunk.SchemaVersion = SchemaVersion
		chunk.Sequence = seq
		seq++
		return !w.Send(chunk, nil)
	}
	fail := func(code, path string, err error) {
		logging.Warn().Err(err).Str("kind", k.Name).Str("code", code).Msg("artifact stream failed")
		emit(types.ArtifactChunk{Error: &types.ArtifactError{Code: code, Path: path, Message: err.Error()}})
	}

	var prev map[string]any
	for {
		if ctx.Err() != nil {
			fail(CodeCanceled, "", ctx.Err())
			return
		}

		raw, err := src.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				fail(CodeCanceled, "", ctx.Err())
			} else {
				fail(CodeGenerator, "", err)
			}
			return
		}

		obj, err := normalize(raw)
		if err != nil {
			fail(CodeSchema, "", err)
			return
		}
		if err := Validate(k, obj, false); err != nil {
			fail(CodeSchema, schemaPath(err), err)
			return
		}
		if path, ok := grows(prev, obj, ""); !ok {
			fail(CodeSchema, path, &SchemaError{Kind: k.Name, Path: path, Err: errors.New("field was retracted")})
			return
		}
		prev = obj

		// Each chunk gets its own copy so consumers can hold on to it.
		snapshot, _ := normalize(obj)
		if !emit(types.ArtifactChunk{PartialObject: snapshot}) {
			return
		}
	}

	if prev == nil {
		fail(CodeGenerator, "", errors.New("generator produced no object"))
		return
	}
	if err := Validate(k, prev, true); err != nil {
		fail(CodeSchema, schemaPath(err), err)
		return
	}
	emit(types.ArtifactChunk{PartialObject: prev, IsComplete: true})
}

// Validate checks obj against the kind's full or partial schema.
func Validate(k *Kind, obj map[string]any, complete bool) error {
	s := k.Partial
	if complete {
		s = k.Full
	}
	if err := s.Validate(obj); err != nil {
		se := &SchemaError{Kind: k.Name, Err: err}
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			leaf := ve
			for len(leaf.Causes) > 0 {
				leaf = leaf.Causes[0]
			}
			se.Path = leaf.InstanceLocation
			se.Err = errors.New(leaf.Message)
		}
		return se
	}
	return nil
}

func schemaPath(err error) string {
	var se *SchemaError
	if errors.As(err, &se) {
		return se.Path
	}
	return ""
}

// normalize deep-copies v into plain JSON values.
func normalize(v map[string]any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("object is not JSON: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// grows reports whether next keeps every field of prev: no key removed,
// no array shortened, no value changing JSON type. Scalars may change as
// they stream in. On failure it returns the offending path.
func grows(prev, next any, path string) (string, bool) {
	if prev == nil {
		return "", true
	}
	switch p := prev.(type) {
	case map[string]any:
		n, ok := next.(map[string]any)
		if !ok {
			return path, false
		}
		for key, pv := range p {
			nv, exists := n[key]
			if !exists {
				return path + "/" + key, false
			}
			if at, ok := grows(pv, nv, path+"/"+key); !ok {
				return at, false
			}
		}
	case []any:
		n, ok := next.([]any)
		if !ok || len(n) < len(p) {
			return path, false
		}
		for i := range p {
			if at, ok := grows(p[i], n[i], fmt.Sprintf("%s/%d", path, i)); !ok {
				return at, false
			}
		}
	case string:
		// text only extends as it streams
		n, ok := next.(string)
		if !ok || !strings.HasPrefix(n, p) {
			return path, false
		}
	case float64:
		if _, ok := next.(float64); !ok {
			return path, false
		}
	case bool:
		if _, ok := next.(bool); !ok {
			return path, false
		}
	}
	return "", true
}
