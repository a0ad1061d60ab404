// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"encoding/binary"
	"testing"

	goburrow "github.com/goburrow/modbus"

	"github.com/ffutop/dh5-modbus/modbus/crc"
)

// recordingTransporter captures the frames goburrow sends and answers them
// the way a DH5 would.
type recordingTransporter struct {
	sent      [][]byte
	registers map[uint16]uint16
}

func (tr *recordingTransporter) Send(aduRequest []byte) ([]byte, error) {
	tr.sent = append(tr.sent, append([]byte(nil), aduRequest...))

	switch aduRequest[1] {
	case 0x03:
		address := binary.BigEndian.Uint16(aduRequest[2:])
		quantity := binary.BigEndian.Uint16(aduRequest[4:])
		resp := []byte{aduRequest[0], 0x03, byte(quantity * 2)}
		for i := uint16(0); i < quantity; i++ {
			resp = binary.BigEndian.AppendUint16(resp, tr.registers[address+i])
		}
		return crc.Append(resp), nil
	default:
		return crc.Append(append([]byte(nil), aduRequest[:6]...)), nil
	}
}

func newReferenceClient(tr *recordingTransporter) goburrow.Client {
	handler := goburrow.NewRTUClientHandler("")
	handler.SlaveId = 0x01
	return goburrow.NewClient2(handler, tr)
}

func TestEncodeMatchesReferenceImplementation(t *testing.T) {
	tr := &recordingTransporter{}
	client := newReferenceClient(tr)

	positions := []uint16{700, 1600, 1600, 1600, 1600, 700}
	positionBytes := make([]byte, 0, 12)
	for _, p := range positions {
		positionBytes = binary.BigEndian.AppendUint16(positionBytes, p)
	}

	if _, err := client.ReadHoldingRegisters(0x0B00, 0x3F); err != nil {
		t.Fatalf("reference ReadHoldingRegisters: %v", err)
	}
	if _, err := client.WriteSingleRegister(0x0504, 0b000001); err != nil {
		t.Fatalf("reference WriteSingleRegister: %v", err)
	}
	if _, err := client.WriteMultipleRegisters(0x0300, 6, positionBytes); err != nil {
		t.Fatalf("reference WriteMultipleRegisters: %v", err)
	}

	requests := []Request{
		ReadHoldingRegisters(0x0B00, 0x3F),
		WriteSingleRegister(0x0504, 0b000001),
		WriteMultipleRegisters(0x0300, positions),
	}
	if len(tr.sent) != len(requests) {
		t.Fatalf("reference sent %d frames, want %d", len(tr.sent), len(requests))
	}
	for i, req := range requests {
		got, err := Encode(0x01, req)
		if err != nil {
			t.Fatalf("Encode(%v) error = %v", req, err)
		}
		if !bytes.Equal(got, tr.sent[i]) {
			t.Errorf("Encode(%v) = % X, reference % X", req, got, tr.sent[i])
		}
	}
}

func TestDecodeAgreesWithReferenceImplementation(t *testing.T) {
	tr := &recordingTransporter{registers: map[uint16]uint16{
		0x0230: 100, 0x0231: 200, 0x0232: 300, 0x0233: 400, 0x0234: 500, 0x0235: 600,
	}}
	client := newReferenceClient(tr)

	results, err := client.ReadHoldingRegisters(0x0230, 6)
	if err != nil {
		t.Fatalf("reference ReadHoldingRegisters: %v", err)
	}

	req := ReadHoldingRegisters(0x0230, 6)
	raw, _ := tr.Send(tr.sent[0])
	resp, err := Decode(0x01, req, raw)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	for i, v := range resp.Values {
		if ref := binary.BigEndian.Uint16(results[i*2:]); ref != v {
			t.Errorf("register %d = %v, reference %v", i, v, ref)
		}
	}
}
