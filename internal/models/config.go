package models

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}

type AuthConfig struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
	Token  string `json:"token"`
}

type DatabaseConfig struct {
	Path string `json:"path"`
}

type HTTPConfig struct {
	AttemptTimeoutSec int `json:"attemptTimeoutSec"`
	ProbeTimeoutSec   int `json:"probeTimeoutSec"`
}

type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ServerConfig struct {
	Port int `json:"port"`
}

type Config struct {
	BaseURL  string         `json:"baseUrl"`
	LogLevel string         `json:"logLevel"`
	Auth     AuthConfig     `json:"auth"`
	Database DatabaseConfig `json:"database"`
	HTTP     HTTPConfig     `json:"http"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	Server   ServerConfig   `json:"server"`
}
