package modbus

import (
	"bytes"
	"testing"
)

func TestFrame_EncodeReadRequest(t *testing.T) {
	f := ReadHoldingRegistersRequest(1, 12320, 32)
	f.TransactionID = 7

	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x30, 0x20, 0x00, 0x20}
	if got := f.Encode(); !bytes.Equal(got, want) {
		t.Fatalf("Encode = % X, want % X", got, want)
	}
}

func TestFrame_DecodeRoundTrip(t *testing.T) {
	req := WriteSingleRegisterRequest(0, 2136, 0x0008)
	req.TransactionID = 42

	got, err := DecodeFrame(req.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.TransactionID != 42 || got.FunctionCode != FuncCodeWriteSingleRegister || got.Length != 6 {
		t.Fatalf("decoded %+v", got)
	}
	if !bytes.Equal(got.Data, req.Data) {
		t.Fatalf("data % X, want % X", got.Data, req.Data)
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	if _, err := DecodeFrame([]byte{0, 1, 0, 0}); err == nil {
		t.Error("short frame accepted")
	}
	if _, err := DecodeFrame([]byte{0, 1, 0, 1, 0, 2, 1, 3}); err == nil {
		t.Error("non-zero protocol ID accepted")
	}
}

func TestFrame_Exception(t *testing.T) {
	f := &Frame{FunctionCode: FuncCodeReadHoldingRegisters | exceptionFlag, Data: []byte{0x02}}
	code, ok := f.Exception()
	if !ok || code != 2 {
		t.Fatalf("Exception = %d, %v", code, ok)
	}

	f = &Frame{FunctionCode: FuncCodeReadHoldingRegisters, Data: []byte{0x00}}
	if _, ok := f.Exception(); ok {
		t.Fatal("normal response reported as exception")
	}
}

func TestParseRegisterResponse(t *testing.T) {
	f := &Frame{Data: []byte{0x04, 0x67, 0x22, 0xFF, 0xFF}}
	regs, err := f.ParseRegisterResponse(2)
	if err != nil {
		t.Fatal(err)
	}
	if regs[0] != 26402 || regs[1] != 65535 {
		t.Fatalf("registers = %v", regs)
	}

	if _, err := f.ParseRegisterResponse(3); err == nil {
		t.Error("quantity mismatch accepted")
	}
	if _, err := (&Frame{Data: []byte{0x03, 0, 0, 0}}).ParseRegisterResponse(1); err == nil {
		t.Error("odd byte count accepted")
	}
	if _, err := (&Frame{Data: []byte{0x04, 0, 1}}).ParseRegisterResponse(2); err == nil {
		t.Error("truncated data accepted")
	}
}
