package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the fbc configuration file.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// Model selection for model-backed collaborators: "provider/model"
	Model string `json:"model,omitempty"`

	// Provider configs
	Provider map[string]ProviderConfig `json:"provider,omitempty"`

	// External collaborator endpoints
	Services *ServicesConfig `json:"services,omitempty"`

	Research *ResearchConfig `json:"research,omitempty"`
	Capture  *CaptureConfig  `json:"capture,omitempty"`
	Voice    *VoiceConfig    `json:"voice,omitempty"`
	Analysis *AnalysisConfig `json:"analysis,omitempty"`
	Server   *ServerConfig   `json:"server,omitempty"`
}

// ProviderConfig holds configuration for a specific model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`

	// Model/Endpoint ID (for providers like ARK that require endpoint specification)
	Model string `json:"model,omitempty"`

	// Nested options
	Options *ProviderOptions `json:"options,omitempty"`

	Disable bool `json:"disable,omitempty"`
}

// ProviderOptions holds nested provider options.
type ProviderOptions struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
}

// ServicesConfig locates the HTTP collaborators.
type ServicesConfig struct {
	BaseURL string   `json:"baseURL,omitempty"`
	Timeout Duration `json:"timeout,omitempty"`

	// Path overrides relative to BaseURL
	ConsentPath      string `json:"consentPath,omitempty"`
	LeadResearchPath string `json:"leadResearchPath,omitempty"`
	SearchPath       string `json:"searchPath,omitempty"`
	URLContextPath   string `json:"urlContextPath,omitempty"`
	FramePath        string `json:"framePath,omitempty"`
	SnapshotPath     string `json:"snapshotPath,omitempty"`
	ArtifactPath     string `json:"artifactPath,omitempty"`

	// Provider name forwarded to the lead research tool
	LeadProvider string `json:"leadProvider,omitempty"`
}

// ResearchConfig tunes the research coordinator.
type ResearchConfig struct {
	TriggerTTL      Duration `json:"triggerTTL,omitempty"`
	PlaceholderText string   `json:"placeholderText,omitempty"`
	DefaultName     string   `json:"defaultName,omitempty"`
	MaxCitations    int      `json:"maxCitations,omitempty"`
}

// CaptureConfig tunes the adaptive capture loop.
type CaptureConfig struct {
	BaseInterval   Duration `json:"baseInterval,omitempty"`
	AutoMaxWidth   int      `json:"autoMaxWidth,omitempty"`
	ManualMaxWidth int      `json:"manualMaxWidth,omitempty"`
	ManualQuality  int      `json:"manualQuality,omitempty"`
	ContextWindow  int      `json:"contextWindow,omitempty"`
	AcquireTimeout Duration `json:"acquireTimeout,omitempty"`
}

// VoiceConfig tunes the voice widget.
type VoiceConfig struct {
	MaxDuration Duration `json:"maxDuration,omitempty"`
}

// AnalysisConfig selects which collaborators back analysis and generation.
type AnalysisConfig struct {
	Backend string `json:"backend,omitempty"` // "remote" | "model"
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port       int             `json:"port,omitempty"`
	EnableCORS *bool           `json:"enableCORS,omitempty"`
	RateLimit  *RateLimitConfig `json:"rateLimit,omitempty"`
}

// RateLimitConfig holds per-client request limits.
type RateLimitConfig struct {
	RPS   int `json:"rps"`
	Burst int `json:"burst"`
}

// Model represents an AI model offered by a provider.
type Model struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	ProviderID      string `json:"providerID"`
	ContextLength   int    `json:"contextLength"`
	MaxOutputTokens int    `json:"maxOutputTokens,omitempty"`
	SupportsVision  bool   `json:"supportsVision"`
}

// Duration is a time.Duration that reads either a Go duration string
// ("15s") or an integer number of milliseconds from JSON.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case float64:
		*d = Duration(time.Duration(val) * time.Millisecond)
	case string:
		parsed, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", val, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration: %s", string(data))
	}
	return nil
}
