package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/maybe"

	"meshreplier/internal/replier"
)

// ConnectorType identifies which transport backend should be used.
type ConnectorType string

const (
	ConnectorIP       ConnectorType = "ip"
	ConnectorSerial   ConnectorType = "serial"
	DefaultSerialPort               = "/dev/ttyUSB0"
	DefaultSerialBaud               = 115200

	// MaxMessageBytes is the firmware limit for a single text payload.
	MaxMessageBytes = 200

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level     string `json:"level" split_words:"true"`
	Format    string `json:"format" split_words:"true"`
	LogToFile bool   `json:"log_to_file" split_words:"true"`
}

// ConnectionConfig contains connector-specific connection parameters.
type ConnectionConfig struct {
	Connector  ConnectorType `json:"connector" split_words:"true"`
	Host       string        `json:"host" split_words:"true"`
	SerialPort string        `json:"serial_port" split_words:"true"`
	SerialBaud int           `json:"serial_baud" split_words:"true"`
}

// ReplierConfig holds the reply texts and the contacted ledger location.
// An empty LedgerFile means the default path next to the config file.
type ReplierConfig struct {
	LedgerFile  string `json:"ledger_file" split_words:"true"`
	CannedReply string `json:"canned_reply" split_words:"true"`
	EventInfo   string `json:"event_info" split_words:"true"`
	Onboarding  string `json:"onboarding" split_words:"true"`
}

// MetricsConfig enables the Prometheus endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `json:"listen_addr" split_words:"true"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection ConnectionConfig `json:"connection"`
	Logging    LoggingConfig    `json:"logging"`
	Replier    ReplierConfig    `json:"replier"`
	Metrics    MetricsConfig    `json:"metrics"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Connector:  ConnectorSerial,
			Host:       "",
			SerialPort: DefaultSerialPort,
			SerialBaud: DefaultSerialBaud,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    LogFormatText,
			LogToFile: false,
		},
		Replier: ReplierConfig{
			CannedReply: replier.DefaultCannedReply,
			EventInfo:   replier.DefaultEventInfo,
			Onboarding:  replier.DefaultOnboarding,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path comes from the -config flag or the user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if c.Connection.Connector == "" {
		c.Connection.Connector = ConnectorSerial
	}
	if c.Connection.SerialPort == "" && c.Connection.Connector == ConnectorSerial {
		c.Connection.SerialPort = DefaultSerialPort
	}
	if c.Connection.SerialBaud <= 0 {
		c.Connection.SerialBaud = DefaultSerialBaud
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeLogFormat(c.Logging.Format)
	if c.Replier.CannedReply == "" {
		c.Replier.CannedReply = replier.DefaultCannedReply
	}
	if c.Replier.EventInfo == "" {
		c.Replier.EventInfo = replier.DefaultEventInfo
	}
	if c.Replier.Onboarding == "" {
		c.Replier.Onboarding = replier.DefaultOnboarding
	}
}

func normalizeLogFormat(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case LogFormatJSON:
		return LogFormatJSON
	default:
		return LogFormatText
	}
}

// Messages converts the reply texts for the replier.
func (c ReplierConfig) Messages() replier.Messages {
	return replier.Messages{
		Canned:     c.CannedReply,
		EventInfo:  c.EventInfo,
		Onboarding: c.Onboarding,
	}
}

func (c AppConfig) Validate() error {
	switch c.Connection.Connector {
	case ConnectorIP:
		if strings.TrimSpace(c.Connection.Host) == "" {
			return errors.New("ip host is required")
		}
	case ConnectorSerial:
		if strings.TrimSpace(c.Connection.SerialPort) == "" {
			return errors.New("serial port is required")
		}
		if c.Connection.SerialBaud <= 0 {
			return errors.New("serial baud must be positive")
		}
	default:
		return fmt.Errorf("unknown connector: %s", c.Connection.Connector)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log level: %s", c.Logging.Level)
	}

	messages := []struct {
		name string
		text string
	}{
		{name: "canned_reply", text: c.Replier.CannedReply},
		{name: "event_info", text: c.Replier.EventInfo},
		{name: "onboarding", text: c.Replier.Onboarding},
	}
	for _, m := range messages {
		if strings.TrimSpace(m.text) == "" {
			return fmt.Errorf("replier %s is required", m.name)
		}
		if n := len(m.text); n > MaxMessageBytes {
			return fmt.Errorf("replier %s is %d bytes, limit is %d", m.name, n, MaxMessageBytes)
		}
	}

	return nil
}

// Save validates cfg and replaces the file at path with it.
func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := maybe.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
