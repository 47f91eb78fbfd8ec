package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
)

// fakeServer speaks just enough Modbus TCP for the client tests.
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	mu       sync.Mutex
	holding  map[uint16]uint16
	input    map[uint16]uint16
	badTxID  bool
	// number of responses sent with a wrong transaction ID
	badFrames int
	requests  int
	accepted  int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &fakeServer{t: t, ln: ln, holding: map[uint16]uint16{}, input: map[uint16]uint16{}}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.accepted++
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *fakeServer) handle(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, mbapLength)
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}
		body := make([]byte, int(binary.BigEndian.Uint16(header[4:6]))-1)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		req, err := DecodeFrame(append(header, body...))
		if err != nil {
			return
		}

		resp := s.respond(req)
		if _, err := conn.Write(resp.Encode()); err != nil {
			return
		}
	}
}

func (s *fakeServer) respond(req *Frame) *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++

	resp := &Frame{TransactionID: req.TransactionID, UnitID: req.UnitID, FunctionCode: req.FunctionCode}
	if s.badTxID || s.badFrames > 0 {
		resp.TransactionID++
		if s.badFrames > 0 {
			s.badFrames--
		}
	}

	addr := binary.BigEndian.Uint16(req.Data[0:2])
	switch req.FunctionCode {
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		bank := s.holding
		if req.FunctionCode == FuncCodeReadInputRegisters {
			bank = s.input
		}
		qty := binary.BigEndian.Uint16(req.Data[2:4])
		data := []byte{byte(qty * 2)}
		for i := uint16(0); i < qty; i++ {
			v, ok := bank[addr+i]
			if !ok {
				// illegal data address
				resp.FunctionCode |= exceptionFlag
				resp.Data = []byte{0x02}
				return resp
			}
			data = binary.BigEndian.AppendUint16(data, v)
		}
		resp.Data = data
	case FuncCodeWriteSingleRegister:
		s.holding[addr] = binary.BigEndian.Uint16(req.Data[2:4])
		resp.Data = req.Data
	}
	return resp
}

func dialFake(t *testing.T, s *fakeServer) *TCPSession {
	t.Helper()
	c, err := DialTCP(context.Background(), s.ln.Addr().String(), 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestTCPSession_ReadBlock(t *testing.T) {
	s := newFakeServer(t)
	s.holding[12327] = 26402
	s.holding[12328] = 0xFFFF
	c := dialFake(t, s)

	regs, err := c.ReadBlock(context.Background(), 12327, 2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if regs[0] != 26402 || regs[1] != 0xFFFF {
		t.Fatalf("registers = %v", regs)
	}
}

func TestTCPSession_ReadInputBlock(t *testing.T) {
	s := newFakeServer(t)
	for i := uint16(0); i < 4; i++ {
		s.input[i] = 1000 + i
	}
	c := dialFake(t, s)

	regs, err := c.ReadInputBlock(context.Background(), 0, 4)
	if err != nil {
		t.Fatalf("ReadInputBlock: %v", err)
	}
	for i, v := range regs {
		if v != 1000+uint16(i) {
			t.Fatalf("AI%d = %d", i, v)
		}
	}
}

func TestTCPSession_ExceptionKeepsConnection(t *testing.T) {
	s := newFakeServer(t)
	s.holding[2004] = 215
	c := dialFake(t, s)

	if _, err := c.ReadBlock(context.Background(), 9000, 1); err == nil {
		t.Fatal("expected exception error")
	}

	// an exception is a valid response; the session stays usable
	regs, err := c.ReadBlock(context.Background(), 2004, 1)
	if err != nil {
		t.Fatalf("read after exception: %v", err)
	}
	if regs[0] != 215 {
		t.Fatalf("register 2004 = %d", regs[0])
	}
}

func TestTCPSession_WriteRegister(t *testing.T) {
	s := newFakeServer(t)
	c := dialFake(t, s)

	if err := c.WriteRegister(context.Background(), 2136, 8); err != nil {
		t.Fatalf("WriteRegister: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holding[2136] != 8 {
		t.Fatalf("server holds %d", s.holding[2136])
	}
}

func TestTCPSession_TransactionMismatchReconnects(t *testing.T) {
	s := newFakeServer(t)
	s.holding[1] = 42
	s.badFrames = 1
	c := dialFake(t, s)

	if _, err := c.ReadBlock(context.Background(), 1, 1); err == nil {
		t.Fatal("expected mismatch error")
	}

	regs, err := c.ReadBlock(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("read after mismatch: %v", err)
	}
	if regs[0] != 42 {
		t.Fatalf("register 1 = %d", regs[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accepted != 2 {
		t.Fatalf("connections = %d, want 2", s.accepted)
	}
}

func TestTCPSession_RetryRecoversFromBadFrame(t *testing.T) {
	s := newFakeServer(t)
	s.holding[12330] = 0x0010
	s.badFrames = 1
	c := WithRetry(dialFake(t, s), RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond}, nil)

	regs, err := c.ReadBlock(context.Background(), 12330, 1)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if regs[0] != 0x0010 {
		t.Fatalf("status word = %#x", regs[0])
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.requests != 2 {
		t.Fatalf("server requests = %d, want 2", s.requests)
	}
}

func TestTCPSession_ReconnectFailure(t *testing.T) {
	s := newFakeServer(t)
	s.holding[1] = 1
	s.badTxID = true
	c := dialFake(t, s)

	if _, err := c.ReadBlock(context.Background(), 1, 1); err == nil {
		t.Fatal("expected mismatch error")
	}
	s.ln.Close()

	if _, err := c.ReadBlock(context.Background(), 1, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestTCPSession_ClosedStaysClosed(t *testing.T) {
	s := newFakeServer(t)
	s.holding[1] = 1
	c := dialFake(t, s)
	c.Close()

	if _, err := c.ReadBlock(context.Background(), 1, 1); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestDialTCP_Unavailable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	_, err = DialTCP(context.Background(), addr, 1, 200*time.Millisecond)
	if !errors.Is(err, types.ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
}
