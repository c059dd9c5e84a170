package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Gateway: GatewayConfig{
			AllowBots: false,
		},
		Completion: CompletionConfig{
			APIBase:        "https://api.openai.com/v1",
			TimeoutSeconds: 120,
		},
		Context: ContextConfig{
			WindowSize: 1,
		},
		Images: ImagesConfig{
			Enabled:      true,
			MaxSizeBytes: 8 << 20, // 8 MiB
		},
		Auth: AuthConfig{
			TokenEnv:  "RELAYBOT_API_TOKEN",
			CachePath: "~/.relaybot/credentials.db",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9091",
		},
	}
}
