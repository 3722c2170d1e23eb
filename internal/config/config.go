package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot. Loaded once at startup and
// never mutated afterwards.
type Config struct {
	General   GeneralConfig   `json:"general" yaml:"general"`
	Inference InferenceConfig `json:"inference" yaml:"inference"`
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	History   HistoryConfig   `json:"history" yaml:"history"`
	Metrics   MetricsConfig   `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string `json:"logLevel" yaml:"logLevel"`
	LogFile               string `json:"logFile,omitempty" yaml:"logFile,omitempty"`
	MaxConcurrentEvents   int    `json:"maxConcurrentEvents" yaml:"maxConcurrentEvents"`
	WorkerDeadlineSeconds int    `json:"workerDeadlineSeconds" yaml:"workerDeadlineSeconds"`
}

// InferenceConfig configures the single upstream HTTP endpoint.
type InferenceConfig struct {
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
	Mode         string `json:"mode" yaml:"mode"` // "qa" | "qa_blocks"
	TimeoutMS    int    `json:"timeoutMs" yaml:"timeoutMs"`
	ContextLimit int    `json:"contextLimit" yaml:"contextLimit"` // prior thread messages per prompt
}

type ChannelsConfig struct {
	Slack    SlackConfig    `json:"slack" yaml:"slack"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

type SlackConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	BotToken      string `json:"botToken" yaml:"botToken"`
	AppToken      string `json:"appToken" yaml:"appToken"` // required for Socket Mode
	TargetChannel string `json:"targetChannel,omitempty" yaml:"targetChannel,omitempty"`
	RichBlocks    bool   `json:"richBlocks" yaml:"richBlocks"`
}

type TelegramConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Token        string `json:"token" yaml:"token"`
	TargetChatID string `json:"targetChatId,omitempty" yaml:"targetChatId,omitempty"`
	Debug        bool   `json:"debug" yaml:"debug"`
}

// HistoryConfig configures the optional relay transcript store.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	DBPath        string `json:"dbPath" yaml:"dbPath"`
	RetentionDays int    `json:"retentionDays" yaml:"retentionDays"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML when the path ends in .yaml/.yml),
// expands environment variables, applies defaults, and validates.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Inference.Endpoint = ForcePlainHTTP(cfg.Inference.Endpoint)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

// ForcePlainHTTP downgrades an https:// endpoint to http://. The inference
// endpoint lives on a trusted local network and does not speak TLS.
func ForcePlainHTTP(endpoint string) string {
	if strings.HasPrefix(endpoint, "https://") {
		return "http://" + strings.TrimPrefix(endpoint, "https://")
	}
	return endpoint
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentEvents < 1 || cfg.General.MaxConcurrentEvents > 100 {
		errs = append(errs, "general.maxConcurrentEvents must be between 1 and 100")
	}
	if cfg.General.WorkerDeadlineSeconds < 1 {
		errs = append(errs, "general.workerDeadlineSeconds must be >= 1")
	}

	if cfg.Inference.Endpoint == "" {
		errs = append(errs, "inference.endpoint is required")
	}
	switch cfg.Inference.Mode {
	case "qa", "qa_blocks":
		// valid
	default:
		errs = append(errs, "inference.mode must be one of: qa, qa_blocks")
	}
	if cfg.Inference.TimeoutMS < 1000 {
		errs = append(errs, "inference.timeoutMs must be >= 1000")
	}
	if cfg.Inference.ContextLimit < 0 {
		errs = append(errs, "inference.contextLimit must be >= 0")
	}

	if cfg.Channels.Slack.Enabled {
		if !strings.HasPrefix(cfg.Channels.Slack.BotToken, "xoxb-") {
			errs = append(errs, "channels.slack.botToken must start with xoxb-")
		}
		if !strings.HasPrefix(cfg.Channels.Slack.AppToken, "xapp-") {
			errs = append(errs, "channels.slack.appToken must start with xapp-")
		}
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when the channel is enabled")
	}

	if cfg.History.Enabled && cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
