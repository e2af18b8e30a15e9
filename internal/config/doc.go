// Package config provides configuration loading, merging, and path management for fbc.
//
// # Configuration Loading
//
// Load searches for and merges configuration from several sources, lowest
// priority first:
//
//  1. Global config (~/.config/fbc/fbc.json, fbc.jsonc or fbc.yaml, XDG aware)
//  2. Project config (fbc.json/fbc.jsonc/fbc.yaml and .fbc/fbc.json/fbc.jsonc)
//  3. FBC_CONFIG file
//  4. FBC_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Nested sections (services, research, capture, voice, analysis, server)
// merge field by field, so a project file may override one value without
// restating its siblings.
//
// # Supported Formats
//
// JSON and JSONC (JSON with comments) are accepted; comments and trailing
// commas are stripped with tidwall/jsonc before decoding. Files ending in
// .yaml or .yml are decoded with yaml.v3 and re-encoded as JSON, so the
// same keys apply.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} is replaced with the environment variable's value
//   - {file:path} is replaced with the file's contents, resolved relative to
//     the config file's directory (or ~/ for the home directory)
//
// # Environment Overrides
//
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, ARK_API_KEY fill provider keys
//   - FBC_MODEL selects the model ("provider/model")
//   - FBC_SERVICES_URL sets services.baseURL
//   - FBC_ANALYSIS_BACKEND selects "remote" or "model"
//
// # Defaults
//
// ApplyDefaults fills every unset tunable. Durations accept either a Go
// duration string ("15s") or integer milliseconds:
//
//	{
//	  "research": {"triggerTTL": "30s", "placeholderText": "Researching…"},
//	  "capture":  {"baseInterval": 15000, "autoMaxWidth": 1280, "contextWindow": 5},
//	  "voice":    {"maxDuration": "10s"}
//	}
//
// # Paths
//
// GetPaths follows the XDG base directory layout:
//
//	Data:   ~/.local/share/fbc
//	Config: ~/.config/fbc
//	Cache:  ~/.cache/fbc
//	State:  ~/.local/state/fbc
package config
