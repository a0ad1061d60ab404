// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"fmt"

	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/modbus/crc"
)

// ApplicationDataUnit is an RTU frame: unit id, PDU and trailing CRC.
type ApplicationDataUnit struct {
	SlaveID byte
	Pdu     modbus.ProtocolDataUnit
}

// DecodeADU splits a raw frame into unit id and PDU after checking its
// length and checksum.
func DecodeADU(raw []byte) (adu *ApplicationDataUnit, err error) {
	length := len(raw)
	// Minimum size (including address, function and CRC)
	if length < MinSize {
		err = fmt.Errorf("%w: frame length '%v' does not meet minimum '%v'", modbus.ErrInvalidResponse, length, MinSize)
		return
	}
	if length > MaxSize {
		err = fmt.Errorf("%w: frame length '%v' exceeds maximum '%v'", modbus.ErrInvalidResponse, length, MaxSize)
		return
	}

	if !crc.Valid(raw) {
		checksum := uint16(raw[length-1])<<8 | uint16(raw[length-2])
		err = fmt.Errorf("%w: crc '0x%04X' does not match expected '0x%04X'",
			modbus.ErrCrcCheckFailed, checksum, crc.Checksum(raw[:length-2]))
		return
	}
	adu = &ApplicationDataUnit{}
	adu.SlaveID = raw[0]
	adu.Pdu.FunctionCode = raw[1]
	adu.Pdu.Data = raw[2 : length-2]
	return
}

// Encode encodes PDU in an RTU frame:
//
//	Slave Address   : 1 byte
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
//	CRC             : 2 bytes
func (adu *ApplicationDataUnit) Encode() (raw []byte, err error) {
	length := len(adu.Pdu.Data) + 4
	if length > MaxSize {
		err = fmt.Errorf("%w: length of data '%v' must not be bigger than '%v'", modbus.ErrArgumentInvalid, length, MaxSize)
		return
	}
	raw = make([]byte, 2, length)
	raw[0] = adu.SlaveID
	raw[1] = adu.Pdu.FunctionCode
	raw = append(raw, adu.Pdu.Data...)
	raw = crc.Append(raw)
	return
}

// Verify verifies that resp answers req: same slave id and either the same
// function code or its exception form.
func (req *ApplicationDataUnit) Verify(resp *ApplicationDataUnit) (err error) {
	if req.SlaveID != resp.SlaveID {
		err = fmt.Errorf("%w: response slave id '%v' does not match request '%v'",
			modbus.ErrInvalidResponse, resp.SlaveID, req.SlaveID)
		return
	}
	if resp.Pdu.FunctionCode == req.Pdu.FunctionCode|modbus.FuncCodeExceptionFlag {
		if len(resp.Pdu.Data) != 1 {
			err = fmt.Errorf("%w: exception response data length '%v' does not match expected '1'",
				modbus.ErrInvalidResponse, len(resp.Pdu.Data))
			return
		}
		err = &modbus.ExceptionError{FunctionCode: req.Pdu.FunctionCode, Code: resp.Pdu.Data[0]}
		return
	}
	if req.Pdu.FunctionCode != resp.Pdu.FunctionCode {
		err = fmt.Errorf("%w: response function '%v' does not match request '%v'",
			modbus.ErrInvalidResponse, resp.Pdu.FunctionCode, req.Pdu.FunctionCode)
		return
	}
	return
}
