package config

// FileConfig is the YAML shape of the config file. All fields are optional;
// nil means "not set" so file values never clobber defaults with zeros.
type FileConfig struct {
	Listen        *string `yaml:"listen,omitempty"`
	MetricsListen *string `yaml:"metricsListen,omitempty"`
	LogLevel      *string `yaml:"logLevel,omitempty"`
	ServerID      *string `yaml:"serverId,omitempty"`

	Redis   *RedisFileConfig   `yaml:"redis,omitempty"`
	Kafka   *KafkaFileConfig   `yaml:"kafka,omitempty"`
	Mongo   *MongoFileConfig   `yaml:"mongo,omitempty"`
	Monitor *MonitorFileConfig `yaml:"monitor,omitempty"`
	OTel    *OTelFileConfig    `yaml:"otel,omitempty"`
	WS      *WSFileConfig      `yaml:"ws,omitempty"`
	HTTP    *HTTPFileConfig    `yaml:"http,omitempty"`
}

type RedisFileConfig struct {
	Addr     *string `yaml:"addr,omitempty"`
	Password *string `yaml:"password,omitempty"`
	DB       *int    `yaml:"db,omitempty"`
}

type KafkaFileConfig struct {
	Brokers []string `yaml:"brokers,omitempty"`
}

type MongoFileConfig struct {
	URI      *string `yaml:"uri,omitempty"`
	Database *string `yaml:"database,omitempty"`
}

type MonitorFileConfig struct {
	Interval *string `yaml:"interval,omitempty"`
	Window   *string `yaml:"window,omitempty"`
}

type OTelFileConfig struct {
	Enabled    *bool    `yaml:"enabled,omitempty"`
	Endpoint   *string  `yaml:"endpoint,omitempty"`
	Exporter   *string  `yaml:"exporter,omitempty"`
	SampleRate *float64 `yaml:"sampleRate,omitempty"`
}

type WSFileConfig struct {
	MessageRate  *float64 `yaml:"messageRate,omitempty"`
	MessageBurst *int     `yaml:"messageBurst,omitempty"`
}

type HTTPFileConfig struct {
	AllowedOrigins     []string `yaml:"allowedOrigins,omitempty"`
	RateLimitPerMinute *int     `yaml:"rateLimitPerMinute,omitempty"`
}
