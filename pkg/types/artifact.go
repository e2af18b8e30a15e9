package types

// ArtifactChunk is one observation of an artifact being generated.
// PartialObject is replaced on every chunk, never mutated in place.
// A chunk is either complete or faulted, never both.
type ArtifactChunk struct {
	Kind          string         `json:"kind"`
	SchemaVersion string         `json:"schemaVersion"`
	Sequence      int            `json:"sequence"`
	PartialObject map[string]any `json:"partialObject,omitempty"`
	IsComplete    bool           `json:"isComplete"`
	Error         *ArtifactError `json:"error,omitempty"`
}

// ArtifactError is the typed failure surfaced to artifact consumers.
type ArtifactError struct {
	Code    string `json:"code"` // "schema" | "generator" | "canceled"
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}
