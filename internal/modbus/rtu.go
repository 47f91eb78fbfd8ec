package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
)

// SerialConfig describes an RTU line, e.g. 2400 baud 8E1.
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string
	StopBits int
	SlaveID  uint8
	Timeout  time.Duration
}

// RTUSession talks Modbus RTU over a serial line. Requests are
// serialised; the bus allows one outstanding transaction.
type RTUSession struct {
	mu      sync.Mutex
	handler *gomodbus.RTUClientHandler
	client  gomodbus.Client
}

func DialRTU(cfg SerialConfig) (*RTUSession, error) {
	h := gomodbus.NewRTUClientHandler(cfg.Device)
	h.BaudRate = cfg.BaudRate
	h.DataBits = cfg.DataBits
	h.Parity = cfg.Parity
	h.StopBits = cfg.StopBits
	h.SlaveId = cfg.SlaveID
	h.Timeout = cfg.Timeout

	if err := h.Connect(); err != nil {
		return nil, fmt.Errorf("%w: serial port %s: %w", types.ErrTransportUnavailable, cfg.Device, err)
	}

	return &RTUSession{
		handler: h,
		client:  gomodbus.NewClient(h),
	}, nil
}

func (s *RTUSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler.Close()
}

func (s *RTUSession) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	return s.read(ctx, count, func() ([]byte, error) {
		return s.client.ReadHoldingRegisters(start, count)
	})
}

func (s *RTUSession) ReadInputBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	return s.read(ctx, count, func() ([]byte, error) {
		return s.client.ReadInputRegisters(start, count)
	})
}

func (s *RTUSession) read(ctx context.Context, count uint16, fn func() ([]byte, error)) ([]uint16, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	payload, err := fn()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return unpackRegisters(payload, count)
}

func (s *RTUSession) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	echo, err := s.client.WriteSingleRegister(addr, value)
	if err != nil {
		return err
	}
	if len(echo) >= 2 && binary.BigEndian.Uint16(echo[0:2]) != value {
		return fmt.Errorf("write echo mismatch: wrote %d=%d, device echoed %d", addr, value, binary.BigEndian.Uint16(echo[0:2]))
	}
	return nil
}

func unpackRegisters(data []byte, count uint16) ([]uint16, error) {
	if len(data) != 2*int(count) {
		return nil, fmt.Errorf("expected %d register bytes, got %d", 2*int(count), len(data))
	}
	out := make([]uint16, count)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i : 2*i+2])
	}
	return out, nil
}
