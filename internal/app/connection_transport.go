package app

import (
	"fmt"

	"meshreplier/internal/config"
	"meshreplier/internal/transport"
)

// NewTransportForConnection builds the transport selected by the connector.
func NewTransportForConnection(cfg config.ConnectionConfig) (transport.Transport, error) {
	switch cfg.Connector {
	case config.ConnectorIP:
		return transport.NewIPTransport(cfg.Host, transport.DefaultIPPort), nil
	case config.ConnectorSerial:
		return transport.NewSerialTransport(cfg.SerialPort, cfg.SerialBaud), nil
	default:
		return nil, fmt.Errorf("unknown connector: %q", cfg.Connector)
	}
}
