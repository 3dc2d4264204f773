package config

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// SecretStore resolves secret values by key. The environment-backed
// implementation is the default; deployments with a vault can provide
// their own.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	GetWithDefault(ctx context.Context, key, fallback string) string
}

// EnvironmentSecretStore reads secrets from process environment variables.
type EnvironmentSecretStore struct{}

func NewEnvironmentSecretStore() *EnvironmentSecretStore {
	return &EnvironmentSecretStore{}
}

func (s *EnvironmentSecretStore) Get(_ context.Context, key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("secret %s not set", key)
	}
	return value, nil
}

func (s *EnvironmentSecretStore) GetWithDefault(ctx context.Context, key, fallback string) string {
	value, err := s.Get(ctx, key)
	if err != nil {
		return fallback
	}
	return value
}

var _ SecretStore = (*EnvironmentSecretStore)(nil)

// LoadSecretsFromEnv fills sensitive fields from the environment-backed
// secret store when they were not already set by file or env config.
func (c *Config) LoadSecretsFromEnv(ctx context.Context) error {
	return c.LoadSecrets(ctx, NewEnvironmentSecretStore())
}

// LoadSecrets fills sensitive fields from the given store. Values
// already present in the config are kept.
func (c *Config) LoadSecrets(ctx context.Context, store SecretStore) error {
	c.Storage.Redis.Password = store.GetWithDefault(ctx, "PROGRESSKIT_SECRET_REDIS_PASSWORD", c.Storage.Redis.Password)
	c.Storage.SQL.DSN = store.GetWithDefault(ctx, "PROGRESSKIT_SECRET_SQL_DSN", c.Storage.SQL.DSN)
	c.Analytics.ExportAPIKey = store.GetWithDefault(ctx, "PROGRESSKIT_SECRET_ANALYTICS_API_KEY", c.Analytics.ExportAPIKey)

	if keys, err := store.Get(ctx, "PROGRESSKIT_SECRET_API_KEYS"); err == nil && keys != "" {
		c.Security.APIKeys = splitCSV(keys)
	}
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}
