package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"dmrelay/internal/constants"
	"dmrelay/internal/models"
)

var (
	ErrMissingBaseURL = models.ConfigError{Message: "missing backend base URL"}
	ErrMissingUserID  = models.ConfigError{Message: "missing authenticated user id"}
	ErrMissingDBPath  = models.ConfigError{Message: "missing offline store path"}
)

func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.BaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.Auth.UserID == "" {
		return ErrMissingUserID
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}

	switch c.Auth.Role {
	case "":
		c.Auth.Role = models.RoleStudent
	case models.RoleStudent, models.RoleStaff, models.RoleAdmin:
	default:
		return models.ConfigError{Message: fmt.Sprintf("unknown role: %s", c.Auth.Role)}
	}

	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.HTTP.AttemptTimeoutSec <= 0 {
		c.HTTP.AttemptTimeoutSec = constants.DefaultAttemptTimeoutSec
	}
	if c.HTTP.ProbeTimeoutSec <= 0 {
		c.HTTP.ProbeTimeoutSec = constants.DefaultProbeTimeoutSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultFlushMaxAttempts
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "dmrelay"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("DMRELAY_BASE_URL"); url != "" {
		c.BaseURL = url
	}

	// SECURITY: the bearer credential should come from the environment,
	// not the config file on disk
	if token := os.Getenv("DMRELAY_TOKEN"); token != "" {
		c.Auth.Token = token
	}

	if id := os.Getenv("DMRELAY_USER_ID"); id != "" {
		c.Auth.UserID = id
	}
	if role := os.Getenv("DMRELAY_ROLE"); role != "" {
		c.Auth.Role = models.Role(role)
	}
	if path := os.Getenv("DMRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("DMRELAY_ENV") == "production"

	if isProduction {
		if c.Auth.Token == "" {
			return models.ConfigError{Message: "bearer token is required in production (set DMRELAY_TOKEN environment variable)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	} else if c.Auth.Token == "" {
		fmt.Fprintf(os.Stderr, "WARNING: bearer token not set. Requests will be sent unauthenticated.\n")
	}

	return nil
}

// ValidateFilePath rejects paths with traversal sequences or NUL bytes.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains NUL byte")
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("path contains traversal sequence")
	}
	return nil
}
