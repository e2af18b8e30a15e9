package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/fbc/)
// 2. Project config (fbc.json, .fbc/)
// 3. FBC_CONFIG file
// 4. FBC_CONFIG_CONTENT inline JSON
// 5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
	}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. XDG global config
	globalPath := GetPaths().Config
	loadOnce(GlobalConfigPath(), globalPath)
	loadOnce(filepath.Join(globalPath, "fbc.jsonc"), globalPath)
	loadOnce(filepath.Join(globalPath, "fbc.yaml"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Dir(ProjectConfigPath(directory))
		loadOnce(filepath.Join(directory, "fbc.json"), directory)
		loadOnce(filepath.Join(directory, "fbc.jsonc"), directory)
		loadOnce(filepath.Join(directory, "fbc.yaml"), directory)
		loadOnce(ProjectConfigPath(directory), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "fbc.jsonc"), projectConfigDir)
	}

	// 3. FBC_CONFIG file override
	if configPath := os.Getenv("FBC_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	// 4. FBC_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("FBC_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	normalizeProviderConfig(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yamlToJSON(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	default:
		data = jsonc.ToJSON(data)
	}
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats decode
// through the same json tags and Duration parsing.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return json.Marshal(doc)
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Marshal yields a quoted JSON string; strip the quotes since the
		// placeholder already sits inside one.
		quoted, _ := json.Marshal(strings.TrimRight(string(content), "\r\n"))
		return string(quoted[1 : len(quoted)-1])
	})

	return []byte(str)
}

// normalizeProviderConfig merges Options fields into direct fields.
func normalizeProviderConfig(config *types.Config) {
	for name, provider := range config.Provider {
		if provider.Options != nil {
			if provider.Options.APIKey != "" {
				provider.APIKey = provider.Options.APIKey
			}
			if provider.Options.BaseURL != "" {
				provider.BaseURL = provider.Options.BaseURL
			}
		}
		config.Provider[name] = provider
	}
}

// mergeConfig merges source config into target. Nested sections merge
// field by field so a project file can override one knob without
// restating the whole section.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Model != "" {
		target.Model = source.Model
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if s := source.Services; s != nil {
		if target.Services == nil {
			target.Services = &types.ServicesConfig{}
		}
		t := target.Services
		setString(&t.BaseURL, s.BaseURL)
		setDuration(&t.Timeout, s.Timeout)
		setString(&t.ConsentPath, s.ConsentPath)
		setString(&t.LeadResearchPath, s.LeadResearchPath)
		setString(&t.SearchPath, s.SearchPath)
		setString(&t.URLContextPath, s.URLContextPath)
		setString(&t.FramePath, s.FramePath)
		setString(&t.SnapshotPath, s.SnapshotPath)
		setString(&t.ArtifactPath, s.ArtifactPath)
		setString(&t.LeadProvider, s.LeadProvider)
	}

	if s := source.Research; s != nil {
		if target.Research == nil {
			target.Research = &types.ResearchConfig{}
		}
		t := target.Research
		setDuration(&t.TriggerTTL, s.TriggerTTL)
		setString(&t.PlaceholderText, s.PlaceholderText)
		setString(&t.DefaultName, s.DefaultName)
		setInt(&t.MaxCitations, s.MaxCitations)
	}

	if s := source.Capture; s != nil {
		if target.Capture == nil {
			target.Capture = &types.CaptureConfig{}
		}
		t := target.Capture
		setDuration(&t.BaseInterval, s.BaseInterval)
		setInt(&t.AutoMaxWidth, s.AutoMaxWidth)
		setInt(&t.ManualMaxWidth, s.ManualMaxWidth)
		setInt(&t.ManualQuality, s.ManualQuality)
		setInt(&t.ContextWindow, s.ContextWindow)
		setDuration(&t.AcquireTimeout, s.AcquireTimeout)
	}

	if s := source.Voice; s != nil {
		if target.Voice == nil {
			target.Voice = &types.VoiceConfig{}
		}
		setDuration(&target.Voice.MaxDuration, s.MaxDuration)
	}

	if s := source.Analysis; s != nil {
		if target.Analysis == nil {
			target.Analysis = &types.AnalysisConfig{}
		}
		setString(&target.Analysis.Backend, s.Backend)
	}

	if s := source.Server; s != nil {
		if target.Server == nil {
			target.Server = &types.ServerConfig{}
		}
		setInt(&target.Server.Port, s.Port)
		if s.EnableCORS != nil {
			target.Server.EnableCORS = s.EnableCORS
		}
		if s.RateLimit != nil {
			target.Server.RateLimit = s.RateLimit
		}
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *types.Duration, v types.Duration) {
	if v != 0 {
		*dst = v
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}

	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if config.Provider == nil {
				config.Provider = make(map[string]types.ProviderConfig)
			}
			p := config.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
			}
		}
	}

	if model := os.Getenv("FBC_MODEL"); model != "" {
		config.Model = model
	}

	if url := os.Getenv("FBC_SERVICES_URL"); url != "" {
		if config.Services == nil {
			config.Services = &types.ServicesConfig{}
		}
		config.Services.BaseURL = url
	}

	if backend := os.Getenv("FBC_ANALYSIS_BACKEND"); backend != "" {
		if config.Analysis == nil {
			config.Analysis = &types.AnalysisConfig{}
		}
		config.Analysis.Backend = backend
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers FBC_CONFIG_DIR, then the XDG location.
func GetConfigDir() string {
	if dir := os.Getenv("FBC_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
