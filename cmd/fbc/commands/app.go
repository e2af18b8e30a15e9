package commands

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"

	"github.com/iamfarzad/FBC-masterV5--sub003/internal/config"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/event"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/logging"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/provider"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/remote"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/session"
	"github.com/iamfarzad/FBC-masterV5--sub003/internal/storage"
	"github.com/iamfarzad/FBC-masterV5--sub003/pkg/types"
)

// app is the wired session core shared by every command.
type app struct {
	cfg      *types.Config
	bus      *event.Bus
	sessions *session.Service
}

// loadApp reads .env and configuration, opens durable storage and wires
// the collaborators selected by analysis.backend.
func loadApp(ctx context.Context) (*app, error) {
	dir, err := GetWorkDir(workDir)
	if err != nil {
		return nil, err
	}
	// A missing .env is fine.
	_ = godotenv.Load()

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return nil, fmt.Errorf("failed to create data directories: %w", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	config.ApplyDefaults(cfg)

	collab, err := collaborators(ctx, cfg)
	if err != nil {
		return nil, err
	}

	bus := event.NewBus()
	durable := storage.New(paths.StoragePath())
	return &app{
		cfg:      cfg,
		bus:      bus,
		sessions: session.NewService(cfg, durable, bus, collab),
	}, nil
}

// collaborators wires the HTTP backend when a services base URL is set.
// With analysis.backend "model", frame analysis, URL analysis and artifact
// generation run on the configured chat model instead.
func collaborators(ctx context.Context, cfg *types.Config) (session.Collaborators, error) {
	var collab session.Collaborators
	if cfg.Services.BaseURL != "" {
		client := remote.New(*cfg.Services)
		collab = session.Collaborators{
			Consent:   client,
			Lead:      client,
			Search:    client,
			URLs:      client,
			Snapshot:  client,
			Frames:    client,
			Artifacts: client,
		}
	} else {
		logging.Warn().Msg("services.baseURL not set; consent and research are offline")
	}

	if cfg.Analysis.Backend != config.BackendModel {
		return collab, nil
	}

	reg, err := provider.InitializeProviders(ctx, cfg)
	if err != nil {
		return collab, fmt.Errorf("failed to initialize providers: %w", err)
	}
	cm, model, err := reg.ChatModel()
	if err != nil {
		return collab, fmt.Errorf("analysis.backend is %q but no model is available: %w", config.BackendModel, err)
	}
	logging.Info().Str("provider", model.ProviderID).Str("model", model.ID).Msg("using model-backed collaborators")

	collab.Frames = provider.NewFrameAnalyzer(cm)
	collab.URLs = provider.NewURLAnalyzer(cm, provider.NewFetcher())
	collab.Artifacts = provider.NewArtifactGenerator(cm)
	return collab, nil
}

// close ends every session and the bus.
func (a *app) close(ctx context.Context) {
	a.sessions.Close(ctx)
	if err := a.bus.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close event bus")
	}
}
