package config

// Defaults returns the baseline configuration. Values mirror what the relay
// originally shipped with: a local inference endpoint, a 30s request budget,
// and a six-message context window.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			MaxConcurrentEvents:   5,
			WorkerDeadlineSeconds: 120,
		},
		Inference: InferenceConfig{
			Endpoint:     "http://127.0.0.1:8765/event",
			Mode:         "qa",
			TimeoutMS:    30000,
			ContextLimit: 6,
		},
		Channels: ChannelsConfig{
			Slack: SlackConfig{
				Enabled:    false,
				RichBlocks: false,
			},
			Telegram: TelegramConfig{
				Enabled: false,
			},
		},
		History: HistoryConfig{
			Enabled:       false,
			DBPath:        "~/.relaybot/history.db",
			RetentionDays: 30,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9090",
		},
	}
}
