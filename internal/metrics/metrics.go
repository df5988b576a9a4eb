// Package metrics exposes replier and radio counters in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meshreplier/internal/bus"
	"meshreplier/internal/connectors"
	"meshreplier/internal/domain"
)

const (
	namespace         = "meshreplier"
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	packets         *prometheus.CounterVec
	replies         *prometheus.CounterVec
	replyFailures   *prometheus.CounterVec
	ledgerNodes     prometheus.Gauge
	persistFailures prometheus.Counter
	frames          *prometheus.CounterVec
	connected       prometheus.Gauge
	reconnects      prometheus.Counter
	discovered      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		packets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_total",
			Help:      "Mesh packets handled, by category",
		}, []string{"category"}),
		replies: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_sent_total",
			Help:      "Replies written to the radio, by kind",
		}, []string{"kind"}),
		replyFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_failures_total",
			Help:      "Replies that could not be written to the radio, by kind",
		}, []string{"kind"}),
		ledgerNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_nodes",
			Help:      "Nodes recorded in the contacted ledger",
		}),
		persistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_persist_failures_total",
			Help:      "Failed ledger file rewrites",
		}),
		frames: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_frames_total",
			Help:      "Raw radio frames, by direction",
		}, []string{"direction"}),
		connected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "radio_connected",
			Help:      "1 while the radio link is up",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "radio_reconnects_total",
			Help:      "Radio link losses followed by a reconnect attempt",
		}),
		discovered: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_discovered_total",
			Help:      "Nodes first heard after the initial config download",
		}),
	}
}

func (m *Metrics) PacketClassified(category string) {
	m.packets.WithLabelValues(category).Inc()
}

func (m *Metrics) ReplySent(kind string) {
	m.replies.WithLabelValues(kind).Inc()
}

func (m *Metrics) ReplyFailed(kind string) {
	m.replyFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) LedgerSize(n int) {
	m.ledgerNodes.Set(float64(n))
}

func (m *Metrics) LedgerPersistFailed() {
	m.persistFailures.Inc()
}

// WatchBus tracks radio link state, frame counts and node discoveries from bus events.
func (m *Metrics) WatchBus(ctx context.Context, b bus.MessageBus) {
	topics := []string{
		connectors.TopicConnStatus,
		connectors.TopicRawFrameIn,
		connectors.TopicRawFrameOut,
		connectors.TopicNodeDiscovered,
	}
	sub := b.Subscribe(topics...)
	go func() {
		defer b.Unsubscribe(sub, topics...)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				m.observeEvent(msg)
			}
		}
	}()
}

func (m *Metrics) observeEvent(msg any) {
	switch ev := msg.(type) {
	case connectors.ConnStatus:
		switch ev.State {
		case connectors.ConnectionStateConnected:
			m.connected.Set(1)
		case connectors.ConnectionStateReconnecting:
			m.connected.Set(0)
			m.reconnects.Inc()
		case connectors.ConnectionStateDisconnected:
			m.connected.Set(0)
		}
	case connectors.RawFrame:
		m.frames.WithLabelValues(string(ev.Direction)).Inc()
	case domain.NodeDiscovered:
		m.discovered.Inc()
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: readHeaderTimeout}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", "error", err)
		}
	}()

	logger.Info("serving metrics", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve metrics: %w", err)
	}

	return nil
}
