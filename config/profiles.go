package config

import "fmt"

// LoadProfile returns a named configuration profile with environment
// variable overrides applied. Profiles bundle the defaults that suit
// each deployment stage.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()

	switch name {
	case "development":
		cfg.Environment = EnvDevelopment
	case "testing":
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case "staging":
		cfg.Environment = EnvStaging
		cfg.Security.EnableRateLimit = true
	case "production":
		cfg.Environment = EnvProduction
		cfg.Server.CORSOrigin = ""
		cfg.Security.EnableRateLimit = true
	default:
		return nil, fmt.Errorf("unknown profile: %s", name)
	}
	cfg.Profile = name

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
