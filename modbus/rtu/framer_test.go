// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/modbus/crc"
)

func TestCalculateRequestLength(t *testing.T) {
	tests := []struct {
		name     string
		funcCode byte
		header   []byte
		want     int
		wantErr  bool
	}{
		{"ReadHoldingRegisters", 0x03, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 8, false},
		{"WriteSingleRegister", 0x06, []byte{0x01, 0x06, 0x00, 0x00, 0xAA, 0xBB}, 8, false},
		{"WriteMultipleRegisters_ShortHeader", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01}, 0, true},
		{"WriteMultipleRegisters_Valid", 0x10, []byte{0x01, 0x10, 0x00, 0x01, 0x00, 0x01, 0x02}, 7 + 2 + 2, false},
		{"UnknownFunction", 0x99, []byte{0x01, 0x99}, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CalculateRequestLength(tt.funcCode, tt.header)
			if (err != nil) != tt.wantErr {
				t.Errorf("CalculateRequestLength() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("CalculateRequestLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateResponseLength(t *testing.T) {
	tests := []struct {
		name string
		adu  []byte
		want int
	}{
		{"ReadOne", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x01}, 7},
		{"ReadHistory", []byte{0x01, 0x03, 0x0B, 0x00, 0x00, 0x3F}, 4 + 1 + 0x3F*2},
		{"WriteSingle", []byte{0x01, 0x06, 0x05, 0x04, 0x00, 0x01}, 8},
		{"WriteMultiple", []byte{0x01, 0x10, 0x03, 0x00, 0x00, 0x06, 0x0C}, 8},
		{"Short", []byte{0x01}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CalculateResponseLength(tt.adu); got != tt.want {
				t.Errorf("CalculateResponseLength() = %v, want %v", got, tt.want)
			}
		})
	}
}

func frame(b ...byte) []byte {
	return crc.Append(b)
}

func TestReadResponse(t *testing.T) {
	read := frame(0x01, 0x03, 0x02, 0xAA, 0xBB)
	write := frame(0x01, 0x06, 0x05, 0x04, 0x00, 0x01)
	exception := frame(0x01, 0x83, 0x02)

	tests := []struct {
		name     string
		function byte
		input    []byte
		want     []byte
	}{
		{"Read", 0x03, read, read},
		{"Write", 0x06, write, write},
		{"Exception", 0x03, exception, exception},
		{"LeadingNoise", 0x03, append([]byte{0x00, 0x7F, 0x01, 0x55}, read...), read},
		{"TrailingBytesIgnored", 0x06, append(append([]byte(nil), write...), 0xFF, 0xFF), write},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadResponse(0x01, tt.function, bytes.NewReader(tt.input), time.Now().Add(time.Second))
			if err != nil {
				t.Fatalf("ReadResponse() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReadResponse() = % X, want % X", got, tt.want)
			}
		})
	}
}

func TestReadResponseErrors(t *testing.T) {
	t.Run("Truncated", func(t *testing.T) {
		_, err := ReadResponse(0x01, 0x03, bytes.NewReader([]byte{0x01, 0x03, 0x02, 0xAA}), time.Now().Add(time.Second))
		if !errors.Is(err, modbus.ErrConnectionFailed) {
			t.Errorf("expected ErrConnectionFailed, got %v", err)
		}
	})
	t.Run("Empty", func(t *testing.T) {
		_, err := ReadResponse(0x01, 0x03, bytes.NewReader(nil), time.Now().Add(time.Second))
		if !errors.Is(err, modbus.ErrConnectionFailed) {
			t.Errorf("expected ErrConnectionFailed, got %v", err)
		}
	})
	t.Run("DeadlinePassed", func(t *testing.T) {
		_, err := ReadResponse(0x01, 0x03, bytes.NewReader(frame(0x01, 0x03, 0x02, 0x00, 0x00)), time.Now().Add(-time.Second))
		if !errors.Is(err, ErrRequestTimedOut) || !errors.Is(err, modbus.ErrConnectionFailed) {
			t.Errorf("expected ErrRequestTimedOut, got %v", err)
		}
	})
	t.Run("ZeroLength", func(t *testing.T) {
		_, err := ReadResponse(0x01, 0x03, bytes.NewReader([]byte{0x01, 0x03, 0x00}), time.Now().Add(time.Second))
		var lengthErr *InvalidLengthError
		if !errors.As(err, &lengthErr) || !errors.Is(err, modbus.ErrInvalidResponse) {
			t.Errorf("expected InvalidLengthError, got %v", err)
		}
	})
}
