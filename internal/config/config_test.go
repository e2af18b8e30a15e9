package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// isolate points HOME and the XDG config dir at a temp dir and clears the
// fbc environment so developer machines cannot leak config into a test.
func isolate(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, ".config"))
	for _, key := range []string{
		"FBC_CONFIG", "FBC_CONFIG_CONTENT", "FBC_MODEL", "FBC_SERVICES_URL",
		"FBC_ANALYSIS_BACKEND", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "ARK_API_KEY",
	} {
		t.Setenv(key, "")
	}
	return tmpDir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadProjectConfig(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".fbc", "fbc.json"), `{
		"$schema": "https://fbc.example/config.json",
		"model": "anthropic/claude-sonnet-4-20250514",
		"provider": {
			"anthropic": {"options": {"apiKey": "sk-ant-test123"}}
		},
		"services": {"baseURL": "https://consult.example", "timeout": "5s"},
		"capture": {"baseInterval": 20000, "contextWindow": 3}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "https://fbc.example/config.json", cfg.Schema)
	assert.Equal(t, "anthropic/claude-sonnet-4-20250514", cfg.Model)
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
	require.NotNil(t, cfg.Services)
	assert.Equal(t, "https://consult.example", cfg.Services.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Services.Timeout.Std())
	require.NotNil(t, cfg.Capture)
	assert.Equal(t, 20*time.Second, cfg.Capture.BaseInterval.Std())
	assert.Equal(t, 3, cfg.Capture.ContextWindow)
}

func TestJSONCComments(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "fbc.jsonc"), `{
		// research tuning
		"research": {
			"triggerTTL": "45s", /* longer window */
			"defaultName": "Guest",
		},
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	require.NotNil(t, cfg.Research)
	assert.Equal(t, 45*time.Second, cfg.Research.TriggerTTL.Std())
	assert.Equal(t, "Guest", cfg.Research.DefaultName)
}

func TestYAMLConfig(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_CONSULT_URL", "https://consult.example")

	writeFile(t, filepath.Join(tmpDir, "fbc.yaml"), `
model: openai/gpt-4o
services:
  baseURL: "{env:TEST_CONSULT_URL}"
  timeout: 5s
analysis:
  backend: model
server:
  port: 9100
  rateLimit: {rps: 10, burst: 20}
`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, "https://consult.example", cfg.Services.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Services.Timeout.Std())
	assert.Equal(t, BackendModel, cfg.Analysis.Backend)
	require.NotNil(t, cfg.Server.RateLimit)
	assert.Equal(t, 20, cfg.Server.RateLimit.Burst)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestEnvInterpolation(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("TEST_FBC_KEY", "sk-from-env")

	writeFile(t, filepath.Join(tmpDir, "fbc.json"), `{
		"provider": {"openai": {"apiKey": "{env:TEST_FBC_KEY}"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Provider["openai"].APIKey)
}

func TestFileInterpolation(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, "secret.txt"), "sk-\"quoted\"\n")
	writeFile(t, filepath.Join(tmpDir, "fbc.json"), `{
		"provider": {"openai": {"apiKey": "{file:secret.txt}"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, `sk-"quoted"`, cfg.Provider["openai"].APIKey)
}

func TestFileInterpolationMissingFileKeepsPlaceholder(t *testing.T) {
	out := interpolate([]byte(`{"a":"{file:/does/not/exist}"}`), "/")
	assert.Equal(t, `{"a":"{file:/does/not/exist}"}`, string(out))
}

func TestConfigMergeIsFieldWise(t *testing.T) {
	tmpDir := isolate(t)

	writeFile(t, filepath.Join(tmpDir, ".config", "fbc", "fbc.json"), `{
		"model": "openai/gpt-4o",
		"research": {"triggerTTL": "10s", "placeholderText": "Looking…"}
	}`)
	writeFile(t, filepath.Join(tmpDir, "fbc.json"), `{
		"research": {"triggerTTL": "20s"}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o", cfg.Model)
	assert.Equal(t, 20*time.Second, cfg.Research.TriggerTTL.Std())
	assert.Equal(t, "Looking…", cfg.Research.PlaceholderText)
}

func TestEnvVarOverride(t *testing.T) {
	tmpDir := isolate(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")
	t.Setenv("ARK_API_KEY", "ark-env")
	t.Setenv("FBC_MODEL", "ark/doubao")
	t.Setenv("FBC_SERVICES_URL", "http://localhost:3000")
	t.Setenv("FBC_ANALYSIS_BACKEND", "model")

	writeFile(t, filepath.Join(tmpDir, "fbc.json"), `{
		"model": "openai/gpt-4o",
		"provider": {"anthropic": {"apiKey": "sk-ant-file"}}
	}`)

	cfg, err := Load(tmpDir)
	require.NoError(t, err)

	// file key wins over env for an already configured provider
	assert.Equal(t, "sk-ant-file", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "ark-env", cfg.Provider["ark"].APIKey)
	assert.Equal(t, "ark/doubao", cfg.Model)
	assert.Equal(t, "http://localhost:3000", cfg.Services.BaseURL)
	assert.Equal(t, BackendModel, cfg.Analysis.Backend)
}

func TestFBC_CONFIG(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "elsewhere", "custom.json")
	writeFile(t, path, `{"voice": {"maxDuration": "3s"}}`)
	t.Setenv("FBC_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg.Voice)
	assert.Equal(t, 3*time.Second, cfg.Voice.MaxDuration.Std())
}

func TestFBC_CONFIG_CONTENT(t *testing.T) {
	isolate(t)
	t.Setenv("FBC_CONFIG_CONTENT", `{"server": {"port": 9999, "rateLimit": {"rps": 5, "burst": 10}}}`)

	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg.Server)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.RateLimit.RPS)
}

func TestApplyDefaults(t *testing.T) {
	cfg := ApplyDefaults(&types.Config{})

	assert.Equal(t, 30*time.Second, cfg.Research.TriggerTTL.Std())
	assert.Equal(t, "Researching…", cfg.Research.PlaceholderText)
	assert.Equal(t, "Prospect", cfg.Research.DefaultName)
	assert.Equal(t, 3, cfg.Research.MaxCitations)
	assert.Equal(t, 15*time.Second, cfg.Capture.BaseInterval.Std())
	assert.Equal(t, 1280, cfg.Capture.AutoMaxWidth)
	assert.Equal(t, 1920, cfg.Capture.ManualMaxWidth)
	assert.Equal(t, 92, cfg.Capture.ManualQuality)
	assert.Equal(t, 5, cfg.Capture.ContextWindow)
	assert.Equal(t, 10*time.Second, cfg.Voice.MaxDuration.Std())
	assert.Equal(t, BackendRemote, cfg.Analysis.Backend)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	require.NotNil(t, cfg.Server.EnableCORS)
	assert.True(t, *cfg.Server.EnableCORS)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := ApplyDefaults(&types.Config{
		Capture: &types.CaptureConfig{BaseInterval: types.Duration(time.Second), ContextWindow: 2},
	})
	assert.Equal(t, time.Second, cfg.Capture.BaseInterval.Std())
	assert.Equal(t, 2, cfg.Capture.ContextWindow)
	assert.Equal(t, 1280, cfg.Capture.AutoMaxWidth)
}

func TestConfigSerialization(t *testing.T) {
	tmpDir := isolate(t)
	path := filepath.Join(tmpDir, "out", "fbc.json")

	original := ApplyDefaults(&types.Config{Model: "openai/gpt-4o"})
	require.NoError(t, Save(original, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "30s", raw["research"].(map[string]any)["triggerTTL"])

	t.Setenv("FBC_CONFIG", path)
	loaded, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, original.Research.TriggerTTL, loaded.Research.TriggerTTL)
	assert.Equal(t, original.Capture, loaded.Capture)
}

func TestGetPaths(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/data")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/config")

	paths := GetPaths()
	assert.Equal(t, "/tmp/data/fbc", paths.Data)
	assert.Equal(t, "/tmp/config/fbc", paths.Config)
	assert.Equal(t, "/tmp/data/fbc/storage", paths.StoragePath())
}
