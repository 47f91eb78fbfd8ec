package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
)

// ErrNotConnected is returned when a session is closed or could not
// reconnect; the owner has to dial a new one.
var ErrNotConnected = errors.New("modbus: not connected")

// TCPSession is a Modbus TCP client bound to one unit ID.
type TCPSession struct {
	address       string
	unitID        uint8
	conn          net.Conn
	mu            sync.Mutex
	transactionID uint16
	timeout       time.Duration
	closed        bool
}

// DialTCP stellt die TCP-Verbindung her.
func DialTCP(ctx context.Context, address string, unitID uint8, timeout time.Duration) (*TCPSession, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: connection to %s failed: %w", types.ErrTransportUnavailable, address, err)
	}

	return &TCPSession{
		address: address,
		unitID:  unitID,
		conn:    conn,
		timeout: timeout,
	}, nil
}

// Close schließt die Verbindung
func (c *TCPSession) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	return err
}

// roundTrip sends one request and waits for the matching response.
func (c *TCPSession) roundTrip(ctx context.Context, request *Frame) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrNotConnected
	}
	if c.conn == nil {
		if err := c.redial(ctx); err != nil {
			return nil, err
		}
	}

	c.transactionID++
	request.TransactionID = c.transactionID

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(fmt.Errorf("set deadline failed: %w", err))
	}

	if _, err := c.conn.Write(request.Encode()); err != nil {
		return nil, c.fail(fmt.Errorf("write failed: %w", err))
	}

	raw, err := c.readFrame()
	if err != nil {
		return nil, c.fail(err)
	}

	response, err := DecodeFrame(raw)
	if err != nil {
		return nil, c.fail(fmt.Errorf("decode failed: %w", err))
	}

	if response.TransactionID != request.TransactionID {
		return nil, c.fail(fmt.Errorf("transaction ID mismatch: expected %d, got %d",
			request.TransactionID, response.TransactionID))
	}

	if code, ok := response.Exception(); ok {
		return nil, fmt.Errorf("modbus exception: fc=0x%02X code=%d", request.FunctionCode, code)
	}
	if response.FunctionCode != request.FunctionCode {
		return nil, fmt.Errorf("function code mismatch: expected 0x%02X, got 0x%02X",
			request.FunctionCode, response.FunctionCode)
	}

	return response, nil
}

// readFrame reads exactly one ADU: the MBAP header, then Length-1 bytes.
func (c *TCPSession) readFrame() ([]byte, error) {
	header := make([]byte, mbapLength)
	if _, err := io.ReadFull(c.conn, header); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}

	length := int(binary.BigEndian.Uint16(header[4:6]))
	if length < 2 || mbapLength+length-1 > maxFrameSize {
		return nil, fmt.Errorf("invalid MBAP length %d", length)
	}

	frame := make([]byte, mbapLength+length-1)
	copy(frame, header)
	if _, err := io.ReadFull(c.conn, frame[mbapLength:]); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return frame, nil
}

// redial replaces a connection dropped by fail. Caller holds mu.
func (c *TCPSession) redial(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return fmt.Errorf("%w: reconnect to %s failed: %w", ErrNotConnected, c.address, err)
	}
	c.conn = conn
	return nil
}

// fail drops the connection; after an I/O error the stream position is
// unknown and later responses could be mismatched. The next request
// reconnects.
func (c *TCPSession) fail(err error) error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	return err
}

// ReadBlock liest Holding Registers.
func (c *TCPSession) ReadBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	response, err := c.roundTrip(ctx, ReadHoldingRegistersRequest(c.unitID, start, count))
	if err != nil {
		return nil, err
	}
	return response.ParseRegisterResponse(count)
}

// ReadInputBlock liest Input Registers.
func (c *TCPSession) ReadInputBlock(ctx context.Context, start, count uint16) ([]uint16, error) {
	response, err := c.roundTrip(ctx, ReadInputRegistersRequest(c.unitID, start, count))
	if err != nil {
		return nil, err
	}
	return response.ParseRegisterResponse(count)
}

// WriteRegister schreibt ein einzelnes Register; the echo must match.
func (c *TCPSession) WriteRegister(ctx context.Context, addr uint16, value uint16) error {
	response, err := c.roundTrip(ctx, WriteSingleRegisterRequest(c.unitID, addr, value))
	if err != nil {
		return err
	}

	if len(response.Data) < 4 {
		return fmt.Errorf("write response too short")
	}
	gotAddr := binary.BigEndian.Uint16(response.Data[0:2])
	gotValue := binary.BigEndian.Uint16(response.Data[2:4])
	if gotAddr != addr || gotValue != value {
		return fmt.Errorf("write echo mismatch: wrote %d=%d, device echoed %d=%d", addr, value, gotAddr, gotValue)
	}
	return nil
}
