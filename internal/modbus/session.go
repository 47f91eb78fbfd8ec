package modbus

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/config"
)

// Session is an open connection to the controller, owned and closed by
// the poller. ErrNotConnected means it is gone for good.
type Session interface {
	ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error)
	ReadInputBlock(ctx context.Context, start, count uint16) ([]uint16, error)
	WriteRegister(ctx context.Context, address, value uint16) error
	Close() error
}

// Dialer opens a new session; one attempt per call.
type Dialer func(ctx context.Context) (Session, error)

// NewDialer returns the dialer for the configured transport kind.
func NewDialer(cfg config.TransportConfig) (Dialer, error) {
	switch cfg.Kind {
	case config.TransportTCP:
		address := net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port))
		return func(ctx context.Context) (Session, error) {
			s, err := DialTCP(ctx, address, cfg.UnitID, cfg.Timeout)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil

	case config.TransportRTU:
		serial := SerialConfig{
			Device:   cfg.SerialDevice,
			BaudRate: cfg.BaudRate,
			DataBits: cfg.DataBits,
			Parity:   cfg.Parity,
			StopBits: cfg.StopBits,
			SlaveID:  cfg.UnitID,
			Timeout:  cfg.Timeout,
		}
		return func(ctx context.Context) (Session, error) {
			s, err := DialRTU(serial)
			if err != nil {
				return nil, err
			}
			return s, nil
		}, nil

	default:
		return nil, fmt.Errorf("unsupported transport kind %q", cfg.Kind)
	}
}
