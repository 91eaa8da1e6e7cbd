package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    validate:"required"`
	Task      TaskConfig      `mapstructure:"task"      validate:"required"`
	Storage   StorageConfig   `mapstructure:"storage"   validate:"required"`
	Engine    EngineConfig    `mapstructure:"engine"    validate:"required"`
	Fetch     FetchConfig     `mapstructure:"fetch"     validate:"required"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	// ShutdownTimeout bounds how long shutdown waits for in-flight requests
	// and running analyses before the process exits anyway.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
	// CORSAllowedOrigins lists origins allowed by the CORS middleware.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins" validate:"required,min=1"`
}

// TaskConfig contains settings for background task execution.
type TaskConfig struct {
	// WorkerCount is the number of analyses allowed to run at the same time.
	// Tasks beyond that stay queued until a slot frees up.
	WorkerCount int `mapstructure:"worker_count" validate:"required,gt=0"`
}

// StorageConfig contains settings for task output directories.
type StorageConfig struct {
	// Root is the directory under which one directory per task is created.
	Root string `mapstructure:"root" validate:"required"`
}

// EngineConfig contains settings for the external analysis engine.
type EngineConfig struct {
	// Command is the executable used to run the analysis (the PLIP CLI).
	Command string `mapstructure:"command" validate:"required"`
}

// FetchConfig contains settings for resolving external structure references.
type FetchConfig struct {
	// BaseURL is the download endpoint of the structure repository.
	BaseURL string `mapstructure:"base_url" validate:"required,url"`
	// Timeout bounds a single structure download.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// TelemetryConfig contains OpenTelemetry tracing settings.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"    validate:"required_if=Enabled true"`
	ServiceVersion string `mapstructure:"service_version"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}
