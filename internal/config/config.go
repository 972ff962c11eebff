package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/logger"
)

// Config holds the configuration for the escrow server
type Config struct {
	HTTPAddr          string
	PostgresDSN       string
	ClickhouseDSN     string
	UseMemory         bool
	FactoryAddress    domain.Address
	RescueDelay       uint64
	RequireCancelAuth bool
	AuthMode          string
	EnableFaucet      bool
	LoggerConfig      LoggerConfig
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables, after
// applying envFiles (default ".env"). Missing files are ignored.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	httpAddr, err := GetEnvHTTPAddr()
	if err != nil {
		return nil, err
	}

	useMemory, err := GetEnvUseMemory()
	if err != nil {
		return nil, err
	}

	factory, err := GetEnvFactoryAddress()
	if err != nil {
		return nil, err
	}

	rescueDelay, err := GetEnvRescueDelay()
	if err != nil {
		return nil, err
	}

	requireCancelAuth, err := GetEnvRequireCancelAuth()
	if err != nil {
		return nil, err
	}

	authMode, err := GetEnvAuthMode()
	if err != nil {
		return nil, err
	}

	enableFaucet, err := GetEnvEnableFaucet()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:          httpAddr,
		PostgresDSN:       GetEnvPostgresDSN(),
		ClickhouseDSN:     GetEnvClickhouseDSN(),
		UseMemory:         useMemory,
		FactoryAddress:    factory,
		RescueDelay:       rescueDelay,
		RequireCancelAuth: requireCancelAuth,
		AuthMode:          authMode,
		EnableFaucet:      enableFaucet,
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if !cfg.UseMemory && cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required unless USE_MEMORY=true")
	}
	if cfg.AuthMode == AuthModeAllowAll && !cfg.UseMemory {
		return fmt.Errorf("AUTH_MODE=%s is only allowed with USE_MEMORY=true", AuthModeAllowAll)
	}
	return nil
}
