package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config holds all application configuration.
type Config struct {
	Version  int            `toml:"version"`
	LogMode  string         `toml:"log_mode"` // "dev" or "prod"
	Source   SourceConfig   `toml:"source"`
	Backends BackendsConfig `toml:"backends"`
	Models   ModelsConfig   `toml:"models"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Publish  PublishConfig  `toml:"publish"`
	Schedule ScheduleConfig `toml:"schedule"`
	Notify   NotifyConfig   `toml:"notify"`
}

// SourceConfig configures the X API bookmarks source.
type SourceConfig struct {
	BearerToken string `toml:"bearer_token"`
	UserID      string `toml:"user_id"`
	PageSize    int    `toml:"page_size"`
	MaxPages    int    `toml:"max_pages"`
}

// ModelEntry declares one model and its capabilities on a backend.
type ModelEntry struct {
	ID           string   `toml:"id"`
	Capabilities []string `toml:"capabilities"`
}

// BackendConfig holds credentials and the capability manifest for one backend.
type BackendConfig struct {
	APIKey  string       `toml:"api_key"`
	BaseURL string       `toml:"base_url,omitempty"`
	Models  []ModelEntry `toml:"models"`
}

type BackendsConfig struct {
	Anthropic BackendConfig `toml:"anthropic"`
	OpenAI    BackendConfig `toml:"openai"`
}

// ModelSelection pins a processing phase to a backend/model/parameter triple.
// An empty selection means the router falls back to capability search.
type ModelSelection struct {
	Backend string         `toml:"backend"`
	Model   string         `toml:"model"`
	Params  map[string]any `toml:"params"`
}

// ModelsConfig holds the per-phase model selections.
type ModelsConfig struct {
	Vision       ModelSelection `toml:"vision"`
	KBGeneration ModelSelection `toml:"kb_generation"`
	Synthesis    ModelSelection `toml:"synthesis"`
	Chat         ModelSelection `toml:"chat"`
	Embeddings   ModelSelection `toml:"embeddings"`
}

// PipelineConfig tunes the engine.
type PipelineConfig struct {
	Concurrency         int `toml:"concurrency"`
	ModelTimeoutSeconds int `toml:"model_timeout_seconds"`
	FetchLimit          int `toml:"fetch_limit"`
}

// PublishConfig configures knowledge-base output.
type PublishConfig struct {
	OutputDir string `toml:"output_dir"`
}

// ScheduleConfig configures the daemon's periodic passes.
type ScheduleConfig struct {
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

// NotifyConfig configures failure notifications.
type NotifyConfig struct {
	Provider string `toml:"provider"` // "smtp" or "" to disable
	SMTPHost string `toml:"smtp_host"`
	SMTPPort int    `toml:"smtp_port"`
	SMTPUser string `toml:"smtp_user"`
	SMTPPass string `toml:"smtp_pass"`
	FromAddr string `toml:"from_address"`
	ToAddr   string `toml:"to_address"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		LogMode: "dev",
		Source: SourceConfig{
			PageSize: 100,
			MaxPages: 5,
		},
		Backends: BackendsConfig{
			Anthropic: BackendConfig{
				Models: []ModelEntry{
					{ID: "claude-sonnet-4-20250514", Capabilities: []string{"text", "vision"}},
					{ID: "claude-3-5-haiku-20241022", Capabilities: []string{"text", "vision"}},
				},
			},
			OpenAI: BackendConfig{
				BaseURL: "https://api.openai.com/v1",
				Models: []ModelEntry{
					{ID: "gpt-4o-mini", Capabilities: []string{"text", "vision"}},
					{ID: "text-embedding-3-small", Capabilities: []string{"embed"}},
				},
			},
		},
		Models: ModelsConfig{
			Vision:       ModelSelection{Backend: "anthropic", Model: "claude-sonnet-4-20250514"},
			KBGeneration: ModelSelection{Backend: "anthropic", Model: "claude-sonnet-4-20250514"},
			Synthesis:    ModelSelection{Backend: "anthropic", Model: "claude-sonnet-4-20250514"},
			Embeddings:   ModelSelection{Backend: "openai", Model: "text-embedding-3-small"},
		},
		Pipeline: PipelineConfig{
			Concurrency:         4,
			ModelTimeoutSeconds: 120,
			FetchLimit:          500,
		},
		Publish: PublishConfig{},
		Schedule: ScheduleConfig{
			Cron:     "0 */6 * * *",
			Timezone: "Local",
		},
		Notify: NotifyConfig{
			SMTPPort: 587,
		},
	}
}

// ConfigDir returns the platform-appropriate config directory.
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "tweetvault"), nil
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the platform-appropriate cache directory.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "tweetvault"), nil
}

// DataDir returns the directory holding the SQLite database.
func DataDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// Load reads config from disk.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes config to disk.
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(c)
}
