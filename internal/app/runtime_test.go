package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"meshreplier/internal/config"
	"meshreplier/internal/platform"
)

// unsetEnv clears key for the test and restores it afterwards. An empty but
// set variable still overrides the config file.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unsetenv %s: %v", key, err)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if err := os.WriteFile(paths.ConfigFile, []byte(`{"connection":{"connector":"serial","serial_port":"/dev/from-file"},"logging":{"level":"warn"}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MESHREPLIER_LOGGING_LEVEL", "error")
	unsetEnv(t, "MESHREPLIER_CONNECTION_SERIAL_PORT")

	cfg, err := LoadConfig(paths, Options{Overrides: config.Overrides{LogLevel: "debug"}})
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Connection.SerialPort != "/dev/from-file" {
		t.Fatalf("expected file serial port, got %q", cfg.Connection.SerialPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected flag to win over env, got %q", cfg.Logging.Level)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	paths, err := PathsIn(t.TempDir())
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if _, err := LoadConfig(paths, Options{Overrides: config.Overrides{Connector: "ip"}}); err == nil {
		t.Fatalf("expected error for ip connector without host")
	}
}

func TestLedgerPath(t *testing.T) {
	paths := Paths{LedgerFile: "/state/contacted_nodes.txt"}
	cfg := config.Default()
	if got := LedgerPath(paths, cfg); got != paths.LedgerFile {
		t.Fatalf("expected default ledger path, got %q", got)
	}
	cfg.Replier.LedgerFile = "/elsewhere/ledger.txt"
	if got := LedgerPath(paths, cfg); got != "/elsewhere/ledger.txt" {
		t.Fatalf("expected configured ledger path, got %q", got)
	}
}

func TestInitializeLocksStateDir(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "MESHREPLIER_CONNECTION_CONNECTOR")
	opts := Options{StateDir: dir}

	rt, err := Initialize(context.Background(), opts)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if rt.Responder == nil || rt.Radio == nil || rt.Ledger == nil {
		t.Fatalf("runtime is missing components: %+v", rt)
	}
	if got, want := rt.Ledger.Path(), filepath.Join(dir, LedgerFilename); got != want {
		t.Fatalf("expected ledger at %q, got %q", want, got)
	}

	if _, err := Initialize(context.Background(), opts); !errors.Is(err, platform.ErrStateLocked) {
		t.Fatalf("expected state lock contention, got %v", err)
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}

	rt2, err := Initialize(context.Background(), opts)
	if err != nil {
		t.Fatalf("initialize after close: %v", err)
	}
	if err := rt2.Close(); err != nil {
		t.Fatalf("close second runtime: %v", err)
	}
}

func TestInitializeReleasesLockWhenLoggingFails(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "MESHREPLIER_CONNECTION_CONNECTOR")
	unsetEnv(t, "MESHREPLIER_LOGGING_LOG_TO_FILE")
	paths, err := PathsIn(dir)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	if err := os.WriteFile(paths.ConfigFile, []byte(`{"logging":{"log_to_file":true}}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// A directory where the log file belongs cannot be opened for append.
	if err := os.Mkdir(paths.LogFile, 0o750); err != nil {
		t.Fatalf("block log file: %v", err)
	}
	opts := Options{StateDir: dir}

	if _, err := Initialize(context.Background(), opts); err == nil {
		t.Fatalf("expected logging setup to fail")
	}

	if err := os.Remove(paths.LogFile); err != nil {
		t.Fatalf("unblock log file: %v", err)
	}
	rt, err := Initialize(context.Background(), opts)
	if err != nil {
		t.Fatalf("initialize after failed start: %v", err)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}
}

func TestWriteEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	unsetEnv(t, "MESHREPLIER_CONNECTION_CONNECTOR")
	unsetEnv(t, "MESHREPLIER_CONNECTION_SERIAL_PORT")
	t.Setenv("MESHREPLIER_METRICS_LISTEN_ADDR", "127.0.0.1:9464")
	target := filepath.Join(dir, "out", "config.json")

	path, err := WriteEffectiveConfig(Options{
		StateDir:   dir,
		ConfigFile: target,
		Overrides:  config.Overrides{SerialPort: "/dev/ttyACM0"},
	})
	if err != nil {
		t.Fatalf("write config: %v", err)
	}
	if path != target {
		t.Fatalf("expected config at %q, got %q", target, path)
	}

	saved, err := config.Load(target)
	if err != nil {
		t.Fatalf("load saved config: %v", err)
	}
	if saved.Connection.SerialPort != "/dev/ttyACM0" {
		t.Fatalf("expected flag override to be saved, got %q", saved.Connection.SerialPort)
	}
	if saved.Metrics.ListenAddr != "127.0.0.1:9464" {
		t.Fatalf("expected env value to be saved, got %q", saved.Metrics.ListenAddr)
	}
}
