package config

// Config is the top-level service configuration, corresponding to
// .italihub-moderation.yml.
type Config struct {
	Host        string      `yaml:"host" koanf:"host"`
	Port        int         `yaml:"port" koanf:"port"`
	DataDir     string      `yaml:"data_dir" koanf:"data_dir"`
	JWTSecret   string      `yaml:"jwt_secret" koanf:"jwt_secret"`
	CORSOrigins []string    `yaml:"cors_origins" koanf:"cors_origins"`
	PingSeconds int         `yaml:"ping_seconds" koanf:"ping_seconds"`
	AdTTLDays   int         `yaml:"ad_ttl_days" koanf:"ad_ttl_days"`
	Kafka       KafkaConfig `yaml:"kafka" koanf:"kafka"`
}

// KafkaConfig holds the optional event-bus settings. An empty broker list
// disables Kafka publishing.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" koanf:"brokers"`
	Topic   string   `yaml:"topic" koanf:"topic"`
}

// Enabled reports whether notification events should be published to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}
