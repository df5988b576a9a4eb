package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix scopes environment overrides, e.g. MESHREPLIER_CONNECTION_SERIAL_PORT.
const EnvPrefix = "MESHREPLIER"

// LoadDotEnv exports variables from a .env file without overriding ones
// already set in the environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("load %s: %w", path, err)
	}

	return nil
}

// ApplyEnv overlays MESHREPLIER_* variables on top of cfg. Unset variables
// keep the values loaded from the file.
func (c *AppConfig) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("apply environment: %w", err)
	}
	c.FillMissingDefaults()

	return nil
}

// Overrides are command line values; empty fields are ignored.
type Overrides struct {
	Connector  string
	SerialPort string
	Host       string
	LedgerFile string
	LogLevel   string
}

func (c *AppConfig) ApplyOverrides(o Overrides) {
	if v := strings.TrimSpace(o.Connector); v != "" {
		c.Connection.Connector = ConnectorType(strings.ToLower(v))
	}
	if v := strings.TrimSpace(o.SerialPort); v != "" {
		c.Connection.SerialPort = v
	}
	if v := strings.TrimSpace(o.Host); v != "" {
		c.Connection.Host = v
	}
	if v := strings.TrimSpace(o.LedgerFile); v != "" {
		c.Replier.LedgerFile = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		c.Logging.Level = v
	}
}
