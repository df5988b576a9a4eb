package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"meshreplier/internal/app"
	"meshreplier/internal/bus"
	"meshreplier/internal/config"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
	"meshreplier/internal/ledger"
	"meshreplier/internal/logging"
	"meshreplier/internal/mesh"
	"meshreplier/internal/persistence"
	"meshreplier/internal/radio"
	"meshreplier/internal/replier"
)

const (
	initialConfigWaitTimeout = 45 * time.Second
	maxHexPreviewLen         = 64
	maxNodeSummaryItems      = 10
)

// debug connects to the radio and logs what the replier would do without
// sending anything or touching the ledger file.
func main() {
	if err := run(); err != nil {
		slog.Error("run debug tool", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var overrides config.Overrides
	stateDir := flag.String("state-dir", "", "directory for config, node cache and ledger")
	flag.StringVar(&overrides.Connector, "connector", "", "radio connector: serial or ip")
	flag.StringVar(&overrides.SerialPort, "port", "", "serial device")
	flag.StringVar(&overrides.Host, "host", "", "radio host for the ip connector")
	flag.StringVar(&overrides.LedgerFile, "ledger", "", "contacted nodes ledger file")
	noSubscribe := flag.Bool("no-subscribe", false, "exit after initial config download completes")
	listenFor := flag.Duration("listen-for", 0, "listen duration, e.g. 30s")
	flag.Parse()
	overrides.LogLevel = "debug"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.ResolvePaths()
	if *stateDir != "" {
		paths, err = app.PathsIn(*stateDir)
	}
	if err != nil {
		return fmt.Errorf("resolve paths: %w", err)
	}
	cfg, err := app.LoadConfig(paths, app.Options{Overrides: overrides})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logMgr := logging.NewManager()
	cfg.Logging.LogToFile = false
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer func() {
		if closeErr := logMgr.Close(); closeErr != nil {
			slog.Warn("close log manager", "error", closeErr)
		}
	}()
	logger := logMgr.Logger("cli")
	logger.Info("starting meshreplier debug", "version", app.BuildVersion(), "build_date", app.BuildDateYMD())

	db, err := persistence.Open(ctx, paths.DBFile)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("close sqlite", "error", closeErr)
		}
	}()

	nodeStore := domain.NewNodeStore()
	if err := domain.LoadNodeStoreFromRepository(ctx, nodeStore, persistence.NewNodeRepo(db)); err != nil {
		return fmt.Errorf("bootstrap node store: %w", err)
	}
	logger.Info("cached state", "nodes", nodeStore.Len())

	// Loaded for membership checks only; nothing here calls Add or Persist.
	contacted, err := ledger.Load(app.LedgerPath(paths, cfg), logMgr.Logger("ledger"))
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	logger.Info("ledger loaded", "path", contacted.Path(), "nodes", contacted.Len())

	b := bus.New(logMgr.Logger("bus"), app.EventBusCapacity)
	defer b.Close()
	nodeStore.Start(ctx, b)

	codec, err := radio.NewMeshtasticCodec()
	if err != nil {
		return fmt.Errorf("initialize meshtastic codec: %w", err)
	}
	tr, err := app.NewTransportForConnection(cfg.Connection)
	if err != nil {
		return fmt.Errorf("initialize transport: %w", err)
	}
	radioSvc := radio.NewService(logMgr.Logger("radio"), b, tr, codec)
	defer func() {
		_ = radioSvc.Close()
	}()

	initialTopics := []string{
		connectors.TopicConnStatus,
		connectors.TopicLocalNode,
		connectors.TopicConfigComplete,
		connectors.TopicRawFrameIn,
		connectors.TopicRawFrameOut,
	}
	initialSub := b.Subscribe(initialTopics...)
	if err := radioSvc.Connect(ctx); err != nil {
		b.Unsubscribe(initialSub, initialTopics...)
		return fmt.Errorf("acquire radio: %w", err)
	}
	radioSvc.Start(ctx)

	logger.Info("waiting for initial config completion", "transport", tr.Name(), "timeout", initialConfigWaitTimeout)
	self, err := waitForInitialConfig(ctx, logger, initialSub, initialConfigWaitTimeout)
	b.Unsubscribe(initialSub, initialTopics...)
	if err != nil {
		return fmt.Errorf("initial config did not complete: %w", err)
	}
	logger.Info("initial config completed", "local_node", self)
	logInitialSnapshot(logger, nodeStore)

	if *noSubscribe {
		logger.Info("no-subscribe mode completed, exiting")
		return nil
	}

	watch(ctx, b, logger, self, contacted.Contains, cfg.Replier.Messages())

	if *listenFor > 0 {
		logger.Info("listen mode", "duration", *listenFor)
		select {
		case <-ctx.Done():
		case <-time.After(*listenFor):
		}
		return nil
	}

	logger.Info("listening until interrupt")
	<-ctx.Done()

	return nil
}

func waitForInitialConfig(ctx context.Context, logger *slog.Logger, sub bus.Subscription, timeout time.Duration) (mesh.NodeID, error) {
	var (
		inFrames, outFrames int
		self                mesh.NodeID
	)
	timeoutCh := time.After(timeout)
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-timeoutCh:
			logger.Info("initial phase summary", "in_frames", inFrames, "out_frames", outFrames)
			return 0, fmt.Errorf("timeout waiting for config_complete_id response after %s", timeout)
		case raw, ok := <-sub:
			if !ok {
				return 0, fmt.Errorf("bus closed while waiting for initial config")
			}
			switch ev := raw.(type) {
			case connectors.ConnStatus:
				logger.Info("initial conn", "state", ev.State, "transport", ev.TransportName, "error", ev.Err)
			case connectors.RawFrame:
				if ev.Direction == connectors.FrameOut {
					outFrames++
				} else {
					inFrames++
				}
				logger.Info("initial raw", "direction", ev.Direction, "len", ev.Len, "hex", previewHex(ev.Hex))
			case connectors.LocalNode:
				self = ev.NodeID
				logger.Info("initial local node", "id", self)
			case connectors.ConfigComplete:
				logger.Info("initial phase summary", "in_frames", inFrames, "out_frames", outFrames, "config_id", ev.ID)
				if self == 0 {
					return 0, fmt.Errorf("config completed without my_info")
				}
				return self, nil
			}
		}
	}
}

func watch(
	ctx context.Context,
	b bus.MessageBus,
	logger *slog.Logger,
	self mesh.NodeID,
	contacted func(mesh.NodeID) bool,
	msgs replier.Messages,
) {
	topics := []string{
		connectors.TopicConnStatus,
		connectors.TopicNodeInfo,
		connectors.TopicMeshPacket,
		connectors.TopicRawFrameIn,
		connectors.TopicRawFrameOut,
	}
	sub := b.Subscribe(topics...)

	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-sub:
				if !ok {
					return
				}
				switch ev := raw.(type) {
				case connectors.ConnStatus:
					logger.Info("conn", "state", ev.State, "transport", ev.TransportName, "error", ev.Err)
				case domain.NodeUpdate:
					logger.Info("node", "id", ev.Node.NodeID, "name", ev.Node.LongName, "type", ev.Type)
				case connectors.RawFrame:
					logger.Debug("raw", "direction", ev.Direction, "len", ev.Len, "hex", previewHex(ev.Hex))
				case mesh.Packet:
					logDryRun(logger, ev, self, contacted, msgs, time.Now())
				}
			}
		}
	}()
}

func logDryRun(
	logger *slog.Logger,
	pkt mesh.Packet,
	self mesh.NodeID,
	contacted func(mesh.NodeID) bool,
	msgs replier.Messages,
	now time.Time,
) replier.Decision {
	c := replier.Classify(pkt, self)
	decision := replier.Decide(c, pkt.From, pkt.Signal, contacted, msgs, now)
	logger.Info(
		"packet",
		"from", pkt.From,
		"to", pkt.To,
		"category", c.Category,
		"relay", c.Relay.Describe(),
		"would_reply", decision.Kind,
	)
	for i, reply := range decision.Replies {
		logger.Debug("dry-run reply", "index", i, "to", reply.To, "text", reply.Text)
	}

	return decision
}

func logInitialSnapshot(logger *slog.Logger, nodeStore *domain.NodeStore) {
	nodes := nodeStore.SnapshotSorted()
	logger.Info("node summary", "count", len(nodes))
	for i, node := range nodes {
		if i >= maxNodeSummaryItems {
			logger.Info("node summary truncated", "remaining", len(nodes)-i)
			break
		}
		name := strings.TrimSpace(node.LongName)
		if name == "" {
			name = node.NodeID.String()
		}
		logger.Info("node item", "id", node.NodeID, "name", name, "heard", node.LastHeardAt.Format(time.RFC3339))
	}
}

func previewHex(hex string) string {
	hex = strings.TrimSpace(hex)
	if len(hex) <= maxHexPreviewLen {
		return hex
	}
	return hex[:maxHexPreviewLen] + "..."
}
