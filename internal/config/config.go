// Package config loads lectern configuration from a YAML file, LECTERN_*
// environment variables and defaults, validates it against an embedded CUE
// schema, and hot-reloads it when the file changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/roach88/lectern/internal/bridge"
	"github.com/roach88/lectern/internal/translate"
)

// Config is the full configuration.
type Config struct {
	Database    string            `mapstructure:"database" json:"database"`
	CacheDir    string            `mapstructure:"cache_dir" json:"cache_dir"`
	Log         LogConfig         `mapstructure:"log" json:"log"`
	Reading     ReadingConfig     `mapstructure:"reading" json:"reading"`
	Translation TranslationConfig `mapstructure:"translation" json:"translation"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
}

// ReadingConfig holds the reading settings pushed to the renderer.
type ReadingConfig struct {
	FontSize   int     `mapstructure:"font_size" json:"font_size"`
	Theme      string  `mapstructure:"theme" json:"theme"`
	LineHeight float64 `mapstructure:"line_height" json:"line_height"`
	FontFamily string  `mapstructure:"font_family" json:"font_family"`
}

// TranslationConfig configures the translation pipeline and its provider.
type TranslationConfig struct {
	Enabled           bool          `mapstructure:"enabled" json:"enabled"`
	Provider          string        `mapstructure:"provider" json:"provider"`
	TargetLanguage    string        `mapstructure:"target_language" json:"target_language"`
	SourceLanguage    string        `mapstructure:"source_language" json:"source_language"`
	APIKey            string        `mapstructure:"api_key" json:"api_key"`
	BaseURL           string        `mapstructure:"base_url" json:"base_url"`
	Model             string        `mapstructure:"model" json:"model"`
	ChunkLimit        int           `mapstructure:"chunk_limit" json:"chunk_limit"`
	StaggerDelay      time.Duration `mapstructure:"stagger_delay" json:"stagger_delay"`
	MaxStagger        time.Duration `mapstructure:"max_stagger" json:"max_stagger"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `mapstructure:"max_retries" json:"max_retries"`
}

// Settings converts the reading block for the renderer.
func (r ReadingConfig) Settings() bridge.Settings {
	return bridge.Settings{
		FontSize:   r.FontSize,
		Theme:      r.Theme,
		LineHeight: r.LineHeight,
		FontFamily: r.FontFamily,
	}
}

// ProviderConfig converts the translation block for translate.NewTranslator,
// expanding ${ENV_VAR} references in the API key.
func (t TranslationConfig) ProviderConfig() translate.ProviderConfig {
	return translate.ProviderConfig{
		Provider:          t.Provider,
		APIKey:            ResolveEnvVars(t.APIKey),
		BaseURL:           t.BaseURL,
		Model:             t.Model,
		Target:            t.TargetLanguage,
		Source:            t.SourceLanguage,
		MaxRetries:        t.MaxRetries,
		RequestsPerMinute: t.RequestsPerMinute,
	}
}

// PipelineOptions converts the chunking and staggering settings.
func (t TranslationConfig) PipelineOptions() []translate.Option {
	return []translate.Option{
		translate.WithChunkLimit(t.ChunkLimit),
		translate.WithStagger(t.StaggerDelay, t.MaxStagger),
	}
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".lectern")
	return Config{
		Database: filepath.Join(base, "lectern.db"),
		CacheDir: filepath.Join(base, "cache"),
		Log:      LogConfig{Level: "info", Format: "text"},
		Reading: ReadingConfig{
			FontSize:   16,
			Theme:      "light",
			LineHeight: 1.5,
			FontFamily: "serif",
		},
		Translation: TranslationConfig{
			Provider:       translate.ProviderGoogle,
			TargetLanguage: "en",
			ChunkLimit:     translate.DefaultChunkLimit,
			StaggerDelay:   translate.DefaultStagger,
			MaxRetries:     3,
		},
	}
}

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(old, cfg *Config)
	onError   func(error)
}

// NewManager loads configuration from cfgFile, or from ./lectern.yaml or
// $HOME/.lectern/lectern.yaml when cfgFile is empty. A missing file is not an
// error; an invalid one is.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{v: viper.New()}
	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg
	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := Default()
	v.SetDefault("database", d.Database)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("reading.font_size", d.Reading.FontSize)
	v.SetDefault("reading.theme", d.Reading.Theme)
	v.SetDefault("reading.line_height", d.Reading.LineHeight)
	v.SetDefault("reading.font_family", d.Reading.FontFamily)
	v.SetDefault("translation.enabled", d.Translation.Enabled)
	v.SetDefault("translation.provider", d.Translation.Provider)
	v.SetDefault("translation.target_language", d.Translation.TargetLanguage)
	v.SetDefault("translation.source_language", d.Translation.SourceLanguage)
	v.SetDefault("translation.api_key", d.Translation.APIKey)
	v.SetDefault("translation.base_url", d.Translation.BaseURL)
	v.SetDefault("translation.model", d.Translation.Model)
	v.SetDefault("translation.chunk_limit", d.Translation.ChunkLimit)
	v.SetDefault("translation.stagger_delay", d.Translation.StaggerDelay)
	v.SetDefault("translation.max_stagger", d.Translation.MaxStagger)
	v.SetDefault("translation.requests_per_minute", d.Translation.RequestsPerMinute)
	v.SetDefault("translation.max_retries", d.Translation.MaxRetries)

	// LECTERN_TRANSLATION_API_KEY overrides translation.api_key.
	v.SetEnvPrefix("LECTERN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("lectern")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lectern")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

// load decodes and validates the current viper state.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if errs := Validate(cfg); len(errs) > 0 {
		return nil, &InvalidError{Errors: errs}
	}
	return &cfg, nil
}

// Get returns the current configuration.
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback run after every successful reload with the
// previous and the new configuration.
func (cm *Manager) OnChange(fn func(old, cfg *Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// OnError registers a callback for reloads that fail to decode or
// validate. The previous configuration stays in effect.
func (cm *Manager) OnError(fn func(error)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onError = fn
}

// WatchConfig enables hot-reloading of the config file.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			onError := cm.onError
			cm.mu.RUnlock()
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		cm.mu.Lock()
		old := cm.config
		cm.config = cfg
		callbacks := make([]func(old, cfg *Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(old, cfg)
		}
	})
	cm.v.WatchConfig()
}

var envRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envRef.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}
