package config

import (
	"errors"
	"fmt"
	"strings"
)

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}
	for _, t := range []struct {
		name string
		val  int64
	}{
		{"read_timeout", int64(s.ReadTimeout)},
		{"write_timeout", int64(s.WriteTimeout)},
		{"idle_timeout", int64(s.IdleTimeout)},
		{"read_header_timeout", int64(s.ReadHeaderTimeout)},
		{"shutdown_timeout", int64(s.ShutdownTimeout)},
	} {
		if t.val <= 0 {
			errs = append(errs, t.name+" must be positive")
		}
	}

	return joinErrs(errs)
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if !oneOf(s.Adapter, "memory", "redis", "sql", "file") {
		errs = append(errs, "adapter must be one of: memory, redis, sql, file")
	}

	// Validate adapter-specific configs
	switch s.Adapter {
	case "file":
		if err := s.File.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("file config: %v", err))
		}
	case "sql":
		if s.SQL.DSN == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	}

	return joinErrs(errs)
}

// Validate validates file storage configuration
func (f *FileConfig) Validate() error {
	if f.Path == "" {
		return errors.New("path cannot be empty")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if !oneOf(l.Level, "debug", "info", "warn", "error") {
		errs = append(errs, "level must be one of: debug, info, warn, error")
	}
	if !oneOf(l.Format, "json", "text") {
		errs = append(errs, "format must be one of: json, text")
	}
	if !oneOf(l.Output, "stdout", "stderr") {
		errs = append(errs, "output must be one of: stdout, stderr")
	}

	return joinErrs(errs)
}

// Validate validates analytics configuration
func (a *AnalyticsConfig) Validate() error {
	if a.Enabled && a.ExportEndpoint != "" && a.ExportBatchSize <= 0 {
		return errors.New("export_batch_size must be positive when an export endpoint is set")
	}
	return nil
}
