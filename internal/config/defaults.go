package config

// DefaultFileName is where Load looks for configuration and where the
// wizard writes it.
const DefaultFileName = ".italihub-moderation.yml"

// DefaultTopic is the Kafka topic notification events are published to.
const DefaultTopic = "italihub.notifications"

// DefaultConfig returns a Config with sensible defaults. The JWT secret
// has no default: it must come from the config file or environment.
func DefaultConfig() *Config {
	return &Config{
		Host:        "127.0.0.1",
		Port:        8080,
		DataDir:     "data",
		CORSOrigins: []string{"http://localhost:5173"},
		PingSeconds: 25,
		AdTTLDays:   30,
		Kafka: KafkaConfig{
			Topic: DefaultTopic,
		},
	}
}
