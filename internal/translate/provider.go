package translate

import (
	"fmt"
	"time"
)

// Provider names accepted by NewTranslator.
const (
	ProviderGoogle = "google"
	ProviderOpenAI = "openai"
	ProviderMock   = MockName
)

// ProviderConfig selects and configures a Translator.
type ProviderConfig struct {
	Provider          string
	APIKey            string
	BaseURL           string
	Model             string
	Target            string
	Source            string
	MaxRetries        int
	RetryDelay        time.Duration
	RequestsPerMinute int // 0 disables rate limiting
}

// NewTranslator builds the configured provider, rate limited when
// RequestsPerMinute is positive.
func NewTranslator(cfg ProviderConfig) (Translator, error) {
	var t Translator
	switch cfg.Provider {
	case ProviderGoogle, "":
		t = NewGoogle(GoogleConfig{
			APIKey:     cfg.APIKey,
			Target:     cfg.Target,
			Source:     cfg.Source,
			BaseURL:    cfg.BaseURL,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		})
	case ProviderOpenAI:
		t = NewOpenAI(OpenAIConfig{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			Target:     cfg.Target,
			Source:     cfg.Source,
			MaxRetries: cfg.MaxRetries,
		})
	case ProviderMock:
		t = NewMock()
	default:
		return nil, fmt.Errorf("unknown translation provider %q", cfg.Provider)
	}

	if cfg.RequestsPerMinute > 0 {
		t = NewLimited(t, cfg.RequestsPerMinute)
	}
	return t, nil
}
