package config

import (
	"time"

	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// Defaults for every tunable of the orchestration core.
const (
	DefaultTriggerTTL      = 30 * time.Second
	DefaultPlaceholderText = "Researching…"
	DefaultLeadName        = "Prospect"
	DefaultMaxCitations    = 3

	DefaultBaseInterval   = 15 * time.Second
	DefaultAutoMaxWidth   = 1280
	DefaultManualMaxWidth = 1920
	DefaultManualQuality  = 92
	DefaultContextWindow  = 5
	DefaultAcquireTimeout = 60 * time.Second

	DefaultVoiceMaxDuration = 10 * time.Second

	DefaultServicesTimeout = 30 * time.Second
	DefaultLeadProvider    = "google"

	DefaultPort = 8787

	BackendRemote = "remote"
	BackendModel  = "model"
)

// ApplyDefaults fills every unset section and field with its default. It
// mutates and returns cfg.
func ApplyDefaults(cfg *types.Config) *types.Config {
	if cfg.Provider == nil {
		cfg.Provider = make(map[string]types.ProviderConfig)
	}

	if cfg.Services == nil {
		cfg.Services = &types.ServicesConfig{}
	}
	s := cfg.Services
	orDuration(&s.Timeout, DefaultServicesTimeout)
	orString(&s.ConsentPath, "/api/consent")
	orString(&s.LeadResearchPath, "/api/intelligence/lead-research")
	orString(&s.SearchPath, "/api/tools/search")
	orString(&s.URLContextPath, "/api/tools/url-context")
	orString(&s.FramePath, "/api/tools/screen")
	orString(&s.SnapshotPath, "/api/intelligence/context")
	orString(&s.ArtifactPath, "/api/artifacts")
	orString(&s.LeadProvider, DefaultLeadProvider)

	if cfg.Research == nil {
		cfg.Research = &types.ResearchConfig{}
	}
	orDuration(&cfg.Research.TriggerTTL, DefaultTriggerTTL)
	orString(&cfg.Research.PlaceholderText, DefaultPlaceholderText)
	orString(&cfg.Research.DefaultName, DefaultLeadName)
	orInt(&cfg.Research.MaxCitations, DefaultMaxCitations)

	if cfg.Capture == nil {
		cfg.Capture = &types.CaptureConfig{}
	}
	c := cfg.Capture
	orDuration(&c.BaseInterval, DefaultBaseInterval)
	orInt(&c.AutoMaxWidth, DefaultAutoMaxWidth)
	orInt(&c.ManualMaxWidth, DefaultManualMaxWidth)
	orInt(&c.ManualQuality, DefaultManualQuality)
	orInt(&c.ContextWindow, DefaultContextWindow)
	orDuration(&c.AcquireTimeout, DefaultAcquireTimeout)

	if cfg.Voice == nil {
		cfg.Voice = &types.VoiceConfig{}
	}
	orDuration(&cfg.Voice.MaxDuration, DefaultVoiceMaxDuration)

	if cfg.Analysis == nil {
		cfg.Analysis = &types.AnalysisConfig{}
	}
	orString(&cfg.Analysis.Backend, BackendRemote)

	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	orInt(&cfg.Server.Port, DefaultPort)
	if cfg.Server.EnableCORS == nil {
		enabled := true
		cfg.Server.EnableCORS = &enabled
	}

	return cfg
}

func orString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func orInt(dst *int, def int) {
	if *dst <= 0 {
		*dst = def
	}
}

func orDuration(dst *types.Duration, def time.Duration) {
	if *dst <= 0 {
		*dst = types.Duration(def)
	}
}
