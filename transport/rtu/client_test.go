// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package rtu

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ffutop/is4320-bridge/internal/config"
	"github.com/ffutop/is4320-bridge/modbus"
	"github.com/ffutop/is4320-bridge/modbus/crc"
	"github.com/ffutop/is4320-bridge/transport"
)

type mockPort struct {
	io.Reader
	io.Writer
}

func (m *mockPort) Close() error { return nil }

// emptyReader never returns data.
type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	return 0, nil
}

func withCRC(frame []byte) []byte {
	var c crc.CRC
	sum := c.Reset().PushBytes(frame).Value()
	return append(frame, byte(sum), byte(sum>>8))
}

func newMockClient(port io.ReadWriteCloser) *Client {
	client := NewClient(config.SerialConfig{BaudRate: 19200})
	// connect skips serial.Open when a port is already set.
	client.rtuSerialTransporter.port = port
	client.Config.Timeout = 100 * time.Millisecond
	return client
}

func TestClient_Send(t *testing.T) {
	// Request: 03 (Read Holding) 00 00 00 01
	// Response: 03 02 AA BB
	reqPDU := []byte{0x00, 0x00, 0x00, 0x01}
	respData := []byte{0x02, 0xAA, 0xBB}

	expectedReq := withCRC([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01})
	respADU := withCRC(append([]byte{0x01, 0x03}, respData...))

	writer := &bytes.Buffer{}
	client := newMockClient(&mockPort{Reader: bytes.NewReader(respADU), Writer: writer})

	pdu := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: reqPDU}
	resp, err := client.Send(context.Background(), 1, pdu)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if !bytes.Equal(writer.Bytes(), expectedReq) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", expectedReq, writer.Bytes())
	}
	if resp.FunctionCode != 0x03 {
		t.Errorf("Response Func mismatch: %02X", resp.FunctionCode)
	}
	if !bytes.Equal(resp.Data, respData) {
		t.Errorf("Response Data mismatch.\nWant: %X\nGot:  %X", respData, resp.Data)
	}
}

func TestClient_Exception(t *testing.T) {
	respADU := withCRC([]byte{0x01, 0x84, 0x02})
	client := newMockClient(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})

	resp, err := client.Send(context.Background(), 1, modbus.ProtocolDataUnit{FunctionCode: 0x04, Data: []byte{0xFF, 0xFF, 0x00, 0x02}})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !resp.IsException() || resp.ExceptionCode() != 0x02 {
		t.Errorf("Expected exception 2, got %02X %X", resp.FunctionCode, resp.Data)
	}
}

func TestClient_CRCError(t *testing.T) {
	respADU := []byte{0x01, 0x03, 0x02, 0xAA, 0xBB, 0xFF, 0xFF} // Bad CRC
	client := newMockClient(&mockPort{Reader: bytes.NewReader(respADU), Writer: &bytes.Buffer{}})

	pdu := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}
	_, err := client.Send(context.Background(), 1, pdu)
	if err == nil {
		t.Fatal("Expected CRC error, got nil")
	}
	if transport.IsTimeout(err) {
		t.Errorf("CRC error reported as timeout: %v", err)
	}
}

func TestClient_Timeout(t *testing.T) {
	client := newMockClient(&mockPort{Reader: emptyReader{}, Writer: &bytes.Buffer{}})

	pdu := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}
	_, err := client.Send(context.Background(), 1, pdu)
	if !errors.Is(err, transport.ErrNoResponse) {
		t.Errorf("Send() error = %v, want ErrNoResponse", err)
	}
}

func TestClient_Broadcast(t *testing.T) {
	writer := &bytes.Buffer{}
	client := newMockClient(&mockPort{Reader: emptyReader{}, Writer: writer})

	pdu := modbus.ProtocolDataUnit{FunctionCode: 0x03, Data: []byte{0x00, 0x00, 0x00, 0x01}}
	_, err := client.Send(context.Background(), 0, pdu)
	if !errors.Is(err, transport.ErrNoResponse) {
		t.Errorf("Send() error = %v, want ErrNoResponse", err)
	}
	if want := withCRC([]byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x01}); !bytes.Equal(writer.Bytes(), want) {
		t.Errorf("Request mismatch.\nWant: %X\nGot:  %X", want, writer.Bytes())
	}
}
