package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Transport   TransportConfig   `mapstructure:"transport"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Poller      PollerConfig      `mapstructure:"poller"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Multiplexer MultiplexerConfig `mapstructure:"multiplexer"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auxiliary   AuxiliaryConfig   `mapstructure:"auxiliary"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

const (
	TransportTCP = "tcp"
	TransportRTU = "rtu"
)

type TransportConfig struct {
	Kind         string        `mapstructure:"kind"`
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	SerialDevice string        `mapstructure:"serial_device"`
	BaudRate     int           `mapstructure:"baud_rate"`
	DataBits     int           `mapstructure:"data_bits"`
	Parity       string        `mapstructure:"parity"`
	StopBits     int           `mapstructure:"stop_bits"`
	UnitID       uint8         `mapstructure:"unit_id"`
	Timeout      time.Duration `mapstructure:"timeout"`
	// Fixed pause between two operations on the line.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

const (
	InvalidKeep = "keep"
	InvalidNull = "null"
)

type PollerConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	// RunOnce polls a single cycle and exits (cron style invocation).
	RunOnce       bool   `mapstructure:"run_once"`
	InvalidValues string `mapstructure:"invalid_values"`
}

type CatalogConfig struct {
	Profile     string   `mapstructure:"profile"`
	Path        string   `mapstructure:"path"`
	SearchPaths []string `mapstructure:"search_paths"`
}

const (
	StaleDiscard = "discard"
	StaleFlag    = "flag"
)

type MultiplexerConfig struct {
	SettleTime   time.Duration `mapstructure:"settle_time"`
	StaleSamples string        `mapstructure:"stale_samples"`
	// SensorRegisters moves a shared-channel sensor to another source
	// register, e.g. when the PLC program shifts the xMeasure array.
	SensorRegisters map[string]uint16 `mapstructure:"sensor_registers"`
}

type PersistenceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Table   string `mapstructure:"table"`
}

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// AuxiliaryConfig selects the one value copied from another table into
// every row, e.g. the latest M-Bus volume flow.
type AuxiliaryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Table        string `mapstructure:"table"`
	Column       string `mapstructure:"column"`
	Key          string `mapstructure:"key"`
	TargetColumn string `mapstructure:"target_column"`
}

type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", TransportTCP)
	v.SetDefault("transport.address", "")
	v.SetDefault("transport.port", 502)
	v.SetDefault("transport.serial_device", "")
	v.SetDefault("transport.baud_rate", 2400)
	v.SetDefault("transport.data_bits", 8)
	v.SetDefault("transport.parity", "E")
	v.SetDefault("transport.stop_bits", 1)
	v.SetDefault("transport.unit_id", 1)
	v.SetDefault("transport.timeout", "2s")
	v.SetDefault("transport.settle_delay", "200ms")

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "500ms")
	v.SetDefault("retry.multiplier", 2.0)

	v.SetDefault("poller.interval", "60s")
	v.SetDefault("poller.run_once", false)
	v.SetDefault("poller.invalid_values", InvalidKeep)

	v.SetDefault("catalog.profile", "macon")
	v.SetDefault("catalog.path", "")
	v.SetDefault("catalog.search_paths", []string{"./profiles"})

	v.SetDefault("multiplexer.settle_time", "0s")
	v.SetDefault("multiplexer.stale_samples", StaleDiscard)

	v.SetDefault("persistence.enabled", false)
	v.SetDefault("persistence.table", "telemetry_pivot")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "telemetry")
	v.SetDefault("database.user", "telemetry")
	v.SetDefault("database.password", "")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("auxiliary.enabled", false)
	v.SetDefault("auxiliary.table", "")
	v.SetDefault("auxiliary.column", "")
	v.SetDefault("auxiliary.key", "id")
	v.SetDefault("auxiliary.target_column", "")

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("logging.development", false)
}

// Load reads the YAML file at path. An empty path runs on defaults and
// environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Environment Variables mit Prefix OHT_, z.B. OHT_DATABASE_PASSWORD
	v.SetEnvPrefix("OHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// DSN builds the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			c.User, c.Password, c.Host, c.Port, c.Database)
	default:
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			url.PathEscape(c.User), url.PathEscape(c.Password), c.Host, c.Port, c.Database)
	}
}
