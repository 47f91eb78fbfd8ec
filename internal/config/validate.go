package config

import (
	"fmt"
	"regexp"
)

var identifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Validate rejects combinations the poller cannot run with.
// It does not mutate the configuration.
func Validate(cfg *Config) error {
	t := cfg.Transport
	switch t.Kind {
	case TransportTCP:
		if t.Address == "" {
			return fmt.Errorf("transport: tcp requires address")
		}
		if t.Port <= 0 || t.Port > 65535 {
			return fmt.Errorf("transport: invalid port %d", t.Port)
		}
	case TransportRTU:
		if t.SerialDevice == "" {
			return fmt.Errorf("transport: rtu requires serial_device")
		}
		if t.BaudRate <= 0 {
			return fmt.Errorf("transport: invalid baud_rate %d", t.BaudRate)
		}
		switch t.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("transport: parity must be N, E or O, got %q", t.Parity)
		}
	default:
		return fmt.Errorf("transport: unknown kind %q", t.Kind)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("transport: timeout must be positive")
	}
	if t.SettleDelay < 0 {
		return fmt.Errorf("transport: settle_delay must not be negative")
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry: max_attempts must be at least 1, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.Backoff < 0 {
		return fmt.Errorf("retry: backoff must not be negative")
	}

	if cfg.Poller.Interval <= 0 && !cfg.Poller.RunOnce {
		return fmt.Errorf("poller: interval must be positive")
	}
	switch cfg.Poller.InvalidValues {
	case InvalidKeep, InvalidNull:
	default:
		return fmt.Errorf("poller: invalid_values must be %q or %q, got %q",
			InvalidKeep, InvalidNull, cfg.Poller.InvalidValues)
	}

	if cfg.Catalog.Profile == "" && cfg.Catalog.Path == "" {
		return fmt.Errorf("catalog: profile or path is required")
	}

	switch cfg.Multiplexer.StaleSamples {
	case StaleDiscard, StaleFlag:
	default:
		return fmt.Errorf("multiplexer: stale_samples must be %q or %q, got %q",
			StaleDiscard, StaleFlag, cfg.Multiplexer.StaleSamples)
	}
	if cfg.Multiplexer.SettleTime < 0 {
		return fmt.Errorf("multiplexer: settle_time must not be negative")
	}

	if !cfg.Persistence.Enabled {
		return nil
	}

	if !identifier.MatchString(cfg.Persistence.Table) {
		return fmt.Errorf("persistence: invalid table name %q", cfg.Persistence.Table)
	}
	switch cfg.Database.Driver {
	case DriverPostgres, DriverMySQL:
	default:
		return fmt.Errorf("database: unknown driver %q", cfg.Database.Driver)
	}

	if a := cfg.Auxiliary; a.Enabled {
		for field, name := range map[string]string{
			"table":         a.Table,
			"column":        a.Column,
			"key":           a.Key,
			"target_column": a.TargetColumn,
		} {
			if !identifier.MatchString(name) {
				return fmt.Errorf("auxiliary: invalid %s %q", field, name)
			}
		}
	}

	return nil
}
