package config

import "time"

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		Ingestion: DefaultIngestionConfig(),
		Auth:      DefaultAuthConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultDatabaseConfig returns the default database configuration.
// The empty driver selects the in-memory gateway.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "",
		Host:            "localhost",
		Port:            5432,
		User:            "spanforge",
		Name:            "spanforge",
		SSLMode:         "disable",
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultRedisConfig returns the default redis configuration (disabled).
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		RegistryTTL:  5 * time.Minute,
	}
}

// DefaultIngestionConfig returns the default dispatcher sizing.
func DefaultIngestionConfig() IngestionConfig {
	return IngestionConfig{
		MaxWorkers:   32,
		QueueSize:    512,
		MaxBatchSize: 1000,
		LockShards:   256,
	}
}

// DefaultAuthConfig returns the default auth configuration (disabled).
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:        false,
		DefaultProject: "default",
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "spanforge",
		SampleRate:   1.0,
	}
}
