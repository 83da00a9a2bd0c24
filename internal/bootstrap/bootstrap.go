// Package bootstrap wires configuration into the provider adapters, storage,
// media processor and run service.
package bootstrap

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/scenechain/internal/config"
	"github.com/maauso/scenechain/internal/media"
	"github.com/maauso/scenechain/internal/provider"
	"github.com/maauso/scenechain/internal/provider/kling"
	"github.com/maauso/scenechain/internal/provider/minimax"
	"github.com/maauso/scenechain/internal/provider/runway"
	"github.com/maauso/scenechain/internal/provider/veo"
	"github.com/maauso/scenechain/internal/run"
	"github.com/maauso/scenechain/internal/storage"
)

// Static errors for provider construction.
var (
	// ErrUnknownProvider is returned for a provider name with no adapter.
	ErrUnknownProvider = errors.New("bootstrap: unknown provider")
	// ErrMissingAPIKey is returned when the chosen provider has no API key configured.
	ErrMissingAPIKey = errors.New("bootstrap: provider API key not configured")
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RunService *run.Service
	Providers  []string
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath)
	repo := run.NewMemoryRepository()

	svc := run.NewService(
		repo,
		NewProviderFactory(cfg),
		processor,
		store,
		run.ServiceConfig{
			OutputRoot:      cfg.OutputDir,
			DefaultProvider: cfg.DefaultProvider,
			PollInterval:    cfg.PollInterval,
			RetryDelay:      cfg.RetryDelay,
		},
		logger,
	)

	logger.Info("providers configured",
		slog.String("default", cfg.DefaultProvider),
		slog.Any("available", cfg.ConfiguredProviders()),
	)

	return &Dependencies{
		RunService: svc,
		Providers:  cfg.ConfiguredProviders(),
	}, nil
}

// NewProviderFactory returns a factory building adapters from cfg's API keys
// and default models. Options.Model overrides the configured model.
func NewProviderFactory(cfg *config.Config) provider.Factory {
	return func(o provider.Options) (provider.Adapter, error) {
		name := strings.ToLower(strings.TrimSpace(o.Name))
		if name == "" {
			name = cfg.DefaultProvider
		}

		key := cfg.APIKey(name)
		model := o.Model
		if model == "" {
			model = cfg.Model(name)
		}

		switch name {
		case config.ProviderKling, config.ProviderMiniMax, config.ProviderRunway, config.ProviderVeo:
			if key == "" {
				return nil, fmt.Errorf("%w: %s", ErrMissingAPIKey, name)
			}
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, o.Name)
		}

		switch name {
		case config.ProviderKling:
			return adapter(kling.NewClient(key,
				kling.WithModel(model),
				kling.WithAspectRatio(o.AspectRatio),
				kling.WithNegativePrompt(o.NegativePrompt),
			))
		case config.ProviderMiniMax:
			return adapter(minimax.NewClient(key, minimax.WithModel(model)))
		case config.ProviderRunway:
			return adapter(runway.NewClient(key,
				runway.WithModel(model),
				runway.WithRatio(runwayRatio(o.AspectRatio)),
			))
		default:
			opts := []veo.ClientOption{
				veo.WithModel(model),
				veo.WithAspectRatio(o.AspectRatio),
				veo.WithNegativePrompt(o.NegativePrompt),
				veo.WithReferenceImages(o.SubjectRefs, o.BackgroundRefs),
			}
			if o.GenerateAudio != nil {
				opts = append(opts, veo.WithGenerateAudio(*o.GenerateAudio))
			}
			return adapter(veo.NewClient(key, opts...))
		}
	}
}

// adapter keeps a failed constructor from yielding a typed-nil Adapter.
func adapter[T provider.Adapter](c T, err error) (provider.Adapter, error) {
	if err != nil {
		return nil, err
	}
	return c, nil
}

// runwayRatio maps an aspect ratio to Runway's pixel ratio. Values already in
// pixel form pass through; empty keeps the client default.
func runwayRatio(aspect string) string {
	switch aspect {
	case "16:9":
		return "1280:720"
	case "9:16":
		return "720:1280"
	case "1:1":
		return "960:960"
	case "4:3":
		return "1104:832"
	case "3:4":
		return "832:1104"
	default:
		return aspect
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
