package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"meshreplier/internal/bus"
	"meshreplier/internal/config"
	"meshreplier/internal/domain"
	"meshreplier/internal/ledger"
	"meshreplier/internal/logging"
	"meshreplier/internal/metrics"
	"meshreplier/internal/persistence"
	"meshreplier/internal/platform"
	"meshreplier/internal/radio"
	"meshreplier/internal/replier"
	"meshreplier/internal/transport"
)

// Options are the command line inputs to Initialize.
type Options struct {
	// ConfigFile overrides <state dir>/config.json.
	ConfigFile string
	// StateDir overrides the per-user config directory.
	StateDir       string
	Overrides      config.Overrides
	ClearNodeCache bool
}

type Runtime struct {
	Ctx    context.Context
	cancel context.CancelFunc

	Paths     Paths
	Config    config.AppConfig
	StateLock platform.StateLock

	LogManager *logging.Manager
	Bus        *bus.PubSubBus
	DB         *sql.DB
	Metrics    *metrics.Metrics

	NodeRepo    *persistence.NodeRepo
	WriterQueue *persistence.WriterQueue
	NodeStore   *domain.NodeStore
	Directory   *domain.Directory
	Discovery   *NodeDiscoveryProjection
	Ledger      *ledger.Ledger

	Transport transport.Transport
	Radio     *radio.Service
	Responder *replier.Responder
}

// LoadConfig reads the config file, then applies .env, MESHREPLIER_*
// variables and command line overrides in that order.
func LoadConfig(paths Paths, opts Options) (config.AppConfig, error) {
	if err := config.LoadDotEnv(paths.DotEnvFile); err != nil {
		return config.AppConfig{}, err
	}
	cfg, err := config.Load(configFile(paths, opts))
	if err != nil {
		return config.AppConfig{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return config.AppConfig{}, err
	}
	cfg.ApplyOverrides(opts.Overrides)
	cfg.FillMissingDefaults()
	if err := cfg.Validate(); err != nil {
		return config.AppConfig{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteEffectiveConfig saves the layered config (file, .env, environment and
// overrides) to the config file it was read from and returns that path.
func WriteEffectiveConfig(opts Options) (string, error) {
	paths, err := pathsFor(opts)
	if err != nil {
		return "", err
	}
	cfg, err := LoadConfig(paths, opts)
	if err != nil {
		return "", err
	}
	path := configFile(paths, opts)
	if err := config.Save(path, cfg); err != nil {
		return "", fmt.Errorf("save config: %w", err)
	}

	return path, nil
}

func pathsFor(opts Options) (Paths, error) {
	if opts.StateDir != "" {
		return PathsIn(opts.StateDir)
	}

	return ResolvePaths()
}

func configFile(paths Paths, opts Options) string {
	if opts.ConfigFile != "" {
		return opts.ConfigFile
	}

	return paths.ConfigFile
}

// LedgerPath resolves the configured ledger file against the state dir.
func LedgerPath(paths Paths, cfg config.AppConfig) string {
	if cfg.Replier.LedgerFile != "" {
		return cfg.Replier.LedgerFile
	}

	return paths.LedgerFile
}

// Initialize builds every component without touching the radio. Subscribers
// are attached to the bus here so nothing published on connect is lost.
func Initialize(parent context.Context, opts Options) (*Runtime, error) {
	paths, err := pathsFor(opts)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadConfig(paths, opts)
	if err != nil {
		return nil, err
	}
	// One replier per state dir; two would race on the ledger file.
	lock, err := platform.AcquireStateLock(paths.RootDir, Name)
	if err != nil {
		return nil, fmt.Errorf("lock state dir: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:       ctx,
		cancel:    cancel,
		Paths:     paths,
		Config:    cfg,
		StateLock: lock,
	}

	logMgr := logging.NewManager()
	rt.LogManager = logMgr
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	slog.Info("starting meshreplier", "version", BuildVersion(), "build_date", BuildDateYMD(), "state_dir", paths.RootDir)

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.DB = db
	if opts.ClearNodeCache {
		if err := persistence.ClearDatabase(ctx, db); err != nil {
			_ = rt.Close()
			return nil, err
		}
		slog.Info("node cache cleared")
	}
	rt.NodeRepo = persistence.NewNodeRepo(db)

	nodeStore := domain.NewNodeStore()
	if err := domain.LoadNodeStoreFromRepository(ctx, nodeStore, rt.NodeRepo); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.NodeStore = nodeStore
	rt.Directory = domain.NewDirectory(logMgr.Logger("directory"), nodeStore, rt.NodeRepo)

	l, err := ledger.Load(LedgerPath(paths, cfg), logMgr.Logger("ledger"))
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.Ledger = l

	b := bus.New(logMgr.Logger("bus"), EventBusCapacity)
	rt.Bus = b
	nodeStore.Start(ctx, b)

	writerQueue := persistence.NewWriterQueue(logMgr.Logger("persistence"), WriterQueueSize)
	writerQueue.Start(ctx)
	rt.WriterQueue = writerQueue
	domain.StartPersistenceProjection(ctx, b, writerQueue, nodeStore, rt.NodeRepo)

	rt.Discovery = NewNodeDiscoveryProjection(nodeStore, logMgr.Logger("discovery"))
	rt.Discovery.Start(ctx, b)

	rt.Metrics = metrics.New()
	rt.Metrics.WatchBus(ctx, b)

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize meshtastic codec: %w", err)
	}
	tr, err := NewTransportForConnection(cfg.Connection)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("initialize transport: %w", err)
	}
	rt.Transport = tr
	rt.Radio = radio.NewService(logMgr.Logger("radio"), b, tr, codec)

	rt.Responder = replier.NewResponder(
		logMgr.Logger("replier"),
		rt.Radio,
		l,
		rt.Directory,
		cfg.Replier.Messages(),
		replier.WithObserver(rt.Metrics),
	)
	rt.Responder.Start(ctx, b)

	return rt, nil
}

// Run acquires the radio and serves until the runtime context is cancelled.
// Failing to open the radio at startup is fatal.
func (r *Runtime) Run() error {
	logger := r.LogManager.Logger("app")
	logger.Info("connecting to radio", "transport", r.Transport.Name(), "target", transport.Target(r.Transport))
	if err := r.Radio.Connect(r.Ctx); err != nil {
		return fmt.Errorf("acquire radio: %w", err)
	}
	r.Radio.Start(r.Ctx)

	if addr := r.Config.Metrics.ListenAddr; addr != "" {
		go func() {
			if err := r.Metrics.Serve(r.Ctx, addr, r.LogManager.Logger("metrics")); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	<-r.Ctx.Done()
	logger.Info("shutting down", "ledger_size", r.Ledger.Len())
	if err := context.Cause(r.Ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (r *Runtime) Close() error {
	if r.cancel != nil {
		r.cancel()
	}
	var errs []error
	if r.Radio != nil {
		if err := r.Radio.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close radio: %w", err))
		}
	}
	if r.Bus != nil {
		r.Bus.Close()
	}
	if r.DB != nil {
		if err := r.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close db: %w", err))
		}
	}
	if r.LogManager != nil {
		_ = r.LogManager.Close()
	}
	if r.StateLock != nil {
		if err := r.StateLock.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release state lock: %w", err))
		}
	}

	return errors.Join(errs...)
}
