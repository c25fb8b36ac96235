package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings for the calbridge daemon. Values come from
// a YAML file, with a handful of environment overrides for deployment knobs.
type Config struct {
	Port      string `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// CallbackURL is the public HTTPS address the provider pushes webhook
	// deliveries to. Required for channel registration.
	CallbackURL string `yaml:"callback_url"`

	Sync   SyncConfig   `yaml:"sync"`
	Push   PushConfig   `yaml:"push"`
	Google GoogleConfig `yaml:"google"`
}

// GoogleConfig identifies the OAuth application with the provider.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// SyncConfig carries the tunables of the sync engine.
type SyncConfig struct {
	// SuppressionWindow is how long after an app-originated write an echoed
	// external change is discarded as a loop. Heuristic, not a provable bound
	// on provider delivery latency; see DESIGN.md before changing it.
	SuppressionWindow time.Duration `yaml:"suppression_window"`
	ChannelTTL        time.Duration `yaml:"channel_ttl"`
	RenewBefore       time.Duration `yaml:"renew_before"`
	MaxPages          int           `yaml:"max_pages"`
	SyncBudget        time.Duration `yaml:"sync_budget"`

	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BackoffAttempts int           `yaml:"backoff_attempts"`
}

// PushConfig holds VAPID keys for the web push notification sink.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key"`
	VAPIDPrivateKey string `yaml:"vapid_private_key"`
	Subscriber      string `yaml:"subscriber"`
}

// Default returns the config used when no file is present.
func Default() Config {
	return Config{
		Port:      "8080",
		DBPath:    "calbridge.db",
		LogLevel:  "info",
		LogFormat: "text",
		Sync: SyncConfig{
			SuppressionWindow: 5 * time.Minute,
			ChannelTTL:        7 * 24 * time.Hour,
			RenewBefore:       24 * time.Hour,
			MaxPages:          50,
			SyncBudget:        2 * time.Minute,
			BackoffInitial:    time.Second,
			BackoffMax:        30 * time.Second,
			BackoffAttempts:   5,
		},
	}
}

// Load reads the YAML file at path, falling back to defaults for anything
// unset, then applies environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(&cfg)
	fillDefaults(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CALBRIDGE_PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("CALBRIDGE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CALBRIDGE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CALBRIDGE_CALLBACK_URL"); v != "" {
		cfg.CallbackURL = v
	}
	if v := os.Getenv("CALBRIDGE_VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.VAPIDPublicKey = v
	}
	if v := os.Getenv("CALBRIDGE_VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.VAPIDPrivateKey = v
	}
	if v := os.Getenv("CALBRIDGE_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("CALBRIDGE_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
}

func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.DBPath == "" {
		cfg.DBPath = def.DBPath
	}
	if cfg.Sync.SuppressionWindow <= 0 {
		cfg.Sync.SuppressionWindow = def.Sync.SuppressionWindow
	}
	if cfg.Sync.ChannelTTL <= 0 {
		cfg.Sync.ChannelTTL = def.Sync.ChannelTTL
	}
	if cfg.Sync.RenewBefore <= 0 {
		cfg.Sync.RenewBefore = def.Sync.RenewBefore
	}
	if cfg.Sync.MaxPages <= 0 {
		cfg.Sync.MaxPages = def.Sync.MaxPages
	}
	if cfg.Sync.SyncBudget <= 0 {
		cfg.Sync.SyncBudget = def.Sync.SyncBudget
	}
	if cfg.Sync.BackoffInitial <= 0 {
		cfg.Sync.BackoffInitial = def.Sync.BackoffInitial
	}
	if cfg.Sync.BackoffMax <= 0 {
		cfg.Sync.BackoffMax = def.Sync.BackoffMax
	}
	if cfg.Sync.BackoffAttempts <= 0 {
		cfg.Sync.BackoffAttempts = def.Sync.BackoffAttempts
	}
}
