package modbus

import (
	"encoding/binary"
	"fmt"
)

// MBAP Header (7 Bytes) + Function Code + Data
type Frame struct {
	TransactionID uint16 // Request/Response Korrelation
	ProtocolID    uint16 // Immer 0x0000 für Modbus
	Length        uint16 // Anzahl folgender Bytes
	UnitID        uint8
	FunctionCode  uint8
	Data          []byte
}

const (
	FuncCodeReadHoldingRegisters = 0x03
	FuncCodeReadInputRegisters   = 0x04
	FuncCodeWriteSingleRegister  = 0x06

	exceptionFlag = 0x80
	mbapLength    = 7
	maxFrameSize  = 260
)

// Encode builds the complete TCP ADU.
func (f *Frame) Encode() []byte {
	f.Length = uint16(len(f.Data) + 2) // UnitID + FunctionCode

	frame := make([]byte, mbapLength+1+len(f.Data))

	binary.BigEndian.PutUint16(frame[0:2], f.TransactionID)
	binary.BigEndian.PutUint16(frame[2:4], f.ProtocolID)
	binary.BigEndian.PutUint16(frame[4:6], f.Length)
	frame[6] = f.UnitID

	frame[7] = f.FunctionCode
	copy(frame[8:], f.Data)

	return frame
}

// DecodeFrame parses a received ADU.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < mbapLength+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}

	frame := &Frame{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
		ProtocolID:    binary.BigEndian.Uint16(data[2:4]),
		Length:        binary.BigEndian.Uint16(data[4:6]),
		UnitID:        data[6],
		FunctionCode:  data[7],
	}

	if frame.ProtocolID != 0x0000 {
		return nil, fmt.Errorf("invalid protocol ID: 0x%04X", frame.ProtocolID)
	}

	if len(data) > mbapLength+1 {
		frame.Data = data[mbapLength+1:]
	}

	return frame, nil
}

func readRequest(fc uint8, unitID uint8, startAddr uint16, quantity uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], startAddr)
	binary.BigEndian.PutUint16(data[2:4], quantity)

	return &Frame{
		ProtocolID:   0x0000,
		UnitID:       unitID,
		FunctionCode: fc,
		Data:         data,
	}
}

// ReadHoldingRegistersRequest builds a function code 0x03 request.
func ReadHoldingRegistersRequest(unitID uint8, startAddr uint16, quantity uint16) *Frame {
	return readRequest(FuncCodeReadHoldingRegisters, unitID, startAddr, quantity)
}

// ReadInputRegistersRequest builds a function code 0x04 request.
func ReadInputRegistersRequest(unitID uint8, startAddr uint16, quantity uint16) *Frame {
	return readRequest(FuncCodeReadInputRegisters, unitID, startAddr, quantity)
}

// WriteSingleRegisterRequest builds a function code 0x06 request.
func WriteSingleRegisterRequest(unitID uint8, addr uint16, value uint16) *Frame {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data[0:2], addr)
	binary.BigEndian.PutUint16(data[2:4], value)

	return &Frame{
		ProtocolID:   0x0000,
		UnitID:       unitID,
		FunctionCode: FuncCodeWriteSingleRegister,
		Data:         data,
	}
}

// Exception returns the exception code when the frame is an error response.
func (f *Frame) Exception() (uint8, bool) {
	if f.FunctionCode&exceptionFlag == 0 {
		return 0, false
	}
	if len(f.Data) < 1 {
		return 0, true
	}
	return f.Data[0], true
}

// ParseRegisterResponse unpacks a holding/input register response.
func (f *Frame) ParseRegisterResponse(quantity uint16) ([]uint16, error) {
	if len(f.Data) < 1 {
		return nil, fmt.Errorf("response too short")
	}

	byteCount := int(f.Data[0])
	if byteCount%2 != 0 {
		return nil, fmt.Errorf("odd byte count %d", byteCount)
	}
	if len(f.Data) < byteCount+1 {
		return nil, fmt.Errorf("incomplete response data")
	}
	if byteCount/2 != int(quantity) {
		return nil, fmt.Errorf("expected %d registers, got %d", quantity, byteCount/2)
	}

	registers := make([]uint16, byteCount/2)
	for i := range registers {
		offset := 1 + (i * 2)
		registers[i] = binary.BigEndian.Uint16(f.Data[offset : offset+2])
	}

	return registers, nil
}
