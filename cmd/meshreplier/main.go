package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"meshreplier/internal/app"
	"meshreplier/internal/config"
)

type cliOptions struct {
	app.Options
	showVersion bool
	writeConfig bool
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(app.Name, app.BuildVersionWithDate())
		return
	}
	if opts.writeConfig {
		path, err := app.WriteEffectiveConfig(opts.Options)
		if err != nil {
			slog.Error("write config", "error", err)
			os.Exit(1)
		}
		fmt.Println("config written to", path)
		return
	}

	if err := run(opts.Options); err != nil {
		slog.Error("run meshreplier", "error", err)
		os.Exit(1)
	}
}

func run(opts app.Options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("initialize runtime: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Warn("close runtime", "error", closeErr)
		}
	}()

	return rt.Run()
}

func parseFlags(args []string, output io.Writer) (cliOptions, error) {
	var (
		opts      cliOptions
		overrides config.Overrides
	)
	fs := flag.NewFlagSet(app.Name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.ConfigFile, "config", "", "path to config.json (default: <state dir>/config.json)")
	fs.StringVar(&opts.StateDir, "state-dir", "", "directory for config, node cache, log and ledger")
	fs.StringVar(&overrides.Connector, "connector", "", "radio connector: serial or ip")
	fs.StringVar(&overrides.SerialPort, "port", "", "serial device, e.g. "+config.DefaultSerialPort)
	fs.StringVar(&overrides.Host, "host", "", "radio host for the ip connector")
	fs.StringVar(&overrides.LedgerFile, "ledger", "", "contacted nodes ledger file")
	fs.StringVar(&overrides.LogLevel, "log-level", "", "debug, info, warn or error")
	fs.BoolVar(&opts.ClearNodeCache, "clear-node-cache", false, "drop cached node names before starting")
	fs.BoolVar(&opts.writeConfig, "write-config", false, "save the effective config to the config file and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() > 0 {
		err := fmt.Errorf("unexpected arguments: %v", fs.Args())
		fmt.Fprintln(output, err)
		return cliOptions{}, err
	}
	opts.Overrides = overrides

	return opts, nil
}
