package cli

import (
	"fmt"
	"log/slog"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/config"
	"github.com/roach88/lectern/internal/session"
	"github.com/roach88/lectern/internal/translate"
)

// sessionOptions builds the session options for cfg: reading settings,
// logger and, when translation is enabled, a pipeline sending replace
// commands to r.
func sessionOptions(cfg config.Config, store translate.ContentStore, r bridge.Renderer, logger *slog.Logger) ([]session.Option, *translate.Pipeline, error) {
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithSettings(cfg.Reading.Settings()),
	}
	if !cfg.Translation.Enabled {
		return opts, nil, nil
	}

	t, err := translate.NewTranslator(cfg.Translation.ProviderConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("configure translator: %w", err)
	}
	popts := append(cfg.Translation.PipelineOptions(), translate.WithLogger(logger))
	p := translate.NewPipeline(t, store, r, popts...)
	logger.Info("translation enabled",
		"provider", cfg.Translation.Provider, "target", cfg.Translation.TargetLanguage)
	return append(opts, session.WithPipeline(p)), p, nil
}
