// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"encoding/binary"
	"fmt"

	"github.com/ffutop/dh5-modbus/modbus"
)

// Request is a register request before it is framed.
type Request struct {
	FunctionCode byte
	Address      uint16
	// Quantity is the number of registers to read. For writes it is
	// derived from Values.
	Quantity uint16
	Values   []uint16
}

// ReadHoldingRegisters builds a 0x03 request.
func ReadHoldingRegisters(address, quantity uint16) Request {
	return Request{FunctionCode: modbus.FuncCodeReadHoldingRegisters, Address: address, Quantity: quantity}
}

// WriteSingleRegister builds a 0x06 request.
func WriteSingleRegister(address, value uint16) Request {
	return Request{FunctionCode: modbus.FuncCodeWriteSingleRegister, Address: address, Quantity: 1, Values: []uint16{value}}
}

// WriteMultipleRegisters builds a 0x10 request.
func WriteMultipleRegisters(address uint16, values []uint16) Request {
	return Request{FunctionCode: modbus.FuncCodeWriteMultipleRegisters, Address: address, Quantity: uint16(len(values)), Values: values}
}

func (r Request) String() string {
	switch r.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return fmt.Sprintf("%s(0x%04X, %d)", modbus.FunctionName(r.FunctionCode), r.Address, r.Quantity)
	default:
		return fmt.Sprintf("%s(0x%04X, %v)", modbus.FunctionName(r.FunctionCode), r.Address, r.Values)
	}
}

// Validate checks quantities against the protocol limits.
func (r Request) Validate() error {
	switch r.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if r.Quantity < 1 || r.Quantity > MaxReadRegisters {
			return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'",
				modbus.ErrArgumentInvalid, r.Quantity, 1, MaxReadRegisters)
		}
	case modbus.FuncCodeWriteSingleRegister:
		if len(r.Values) != 1 {
			return fmt.Errorf("%w: single register write needs exactly one value, got '%v'",
				modbus.ErrArgumentInvalid, len(r.Values))
		}
	case modbus.FuncCodeWriteMultipleRegisters:
		if len(r.Values) < 1 || len(r.Values) > MaxWriteRegisters {
			return fmt.Errorf("%w: quantity '%v' must be between '%v' and '%v'",
				modbus.ErrArgumentInvalid, len(r.Values), 1, MaxWriteRegisters)
		}
	default:
		return fmt.Errorf("%w: unsupported function code 0x%02X", modbus.ErrArgumentInvalid, r.FunctionCode)
	}
	return nil
}

// PDU returns the request PDU.
func (r Request) PDU() (modbus.ProtocolDataUnit, error) {
	if err := r.Validate(); err != nil {
		return modbus.ProtocolDataUnit{}, err
	}
	pdu := modbus.ProtocolDataUnit{FunctionCode: r.FunctionCode}
	switch r.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		pdu.Data = dataBlock(r.Address, r.Quantity)
	case modbus.FuncCodeWriteSingleRegister:
		pdu.Data = dataBlock(r.Address, r.Values[0])
	case modbus.FuncCodeWriteMultipleRegisters:
		count := uint16(len(r.Values))
		pdu.Data = dataBlock(r.Address, count)
		pdu.Data = append(pdu.Data, byte(count*2))
		for _, v := range r.Values {
			pdu.Data = binary.BigEndian.AppendUint16(pdu.Data, v)
		}
	}
	return pdu, nil
}

// Response is a decoded and verified reply.
type Response struct {
	FunctionCode byte
	Address      uint16
	Quantity     uint16
	// Values holds the registers read, or the echoed value of a single
	// register write.
	Values []uint16
}

// Encode frames req for unitID.
func Encode(unitID byte, req Request) ([]byte, error) {
	pdu, err := req.PDU()
	if err != nil {
		return nil, err
	}
	adu := &ApplicationDataUnit{SlaveID: unitID, Pdu: pdu}
	return adu.Encode()
}

// Decode validates raw as the reply of unitID to req and extracts its
// payload. The checksum is checked before anything else is looked at.
func Decode(unitID byte, req Request, raw []byte) (*Response, error) {
	adu, err := DecodeADU(raw)
	if err != nil {
		return nil, err
	}
	reqADU := &ApplicationDataUnit{SlaveID: unitID, Pdu: modbus.ProtocolDataUnit{FunctionCode: req.FunctionCode}}
	if err := reqADU.Verify(adu); err != nil {
		return nil, err
	}

	data := adu.Pdu.Data
	resp := &Response{FunctionCode: adu.Pdu.FunctionCode}
	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		if len(data) < 1 {
			return nil, fmt.Errorf("%w: response data is empty", modbus.ErrInvalidResponse)
		}
		count := int(data[0])
		if count != len(data)-1 {
			return nil, fmt.Errorf("%w: response data size '%v' does not match count '%v'",
				modbus.ErrInvalidResponse, len(data)-1, count)
		}
		if count != int(req.Quantity)*2 {
			return nil, fmt.Errorf("%w: response byte count '%v' does not match requested quantity '%v'",
				modbus.ErrInvalidResponse, count, req.Quantity)
		}
		resp.Address = req.Address
		resp.Quantity = req.Quantity
		resp.Values = make([]uint16, req.Quantity)
		for i := range resp.Values {
			resp.Values[i] = binary.BigEndian.Uint16(data[1+i*2:])
		}
	case modbus.FuncCodeWriteSingleRegister:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: response data size '%v' does not match expected '%v'",
				modbus.ErrInvalidResponse, len(data), 4)
		}
		resp.Address = binary.BigEndian.Uint16(data)
		if resp.Address != req.Address {
			return nil, fmt.Errorf("%w: response address '%v' does not match request '%v'",
				modbus.ErrInvalidResponse, resp.Address, req.Address)
		}
		value := binary.BigEndian.Uint16(data[2:])
		if len(req.Values) != 1 || value != req.Values[0] {
			return nil, fmt.Errorf("%w: response value '%v' does not match request '%v'",
				modbus.ErrInvalidResponse, value, req.Values)
		}
		resp.Quantity = 1
		resp.Values = []uint16{value}
	case modbus.FuncCodeWriteMultipleRegisters:
		if len(data) != 4 {
			return nil, fmt.Errorf("%w: response data size '%v' does not match expected '%v'",
				modbus.ErrInvalidResponse, len(data), 4)
		}
		resp.Address = binary.BigEndian.Uint16(data)
		if resp.Address != req.Address {
			return nil, fmt.Errorf("%w: response address '%v' does not match request '%v'",
				modbus.ErrInvalidResponse, resp.Address, req.Address)
		}
		resp.Quantity = binary.BigEndian.Uint16(data[2:])
		if resp.Quantity != uint16(len(req.Values)) {
			return nil, fmt.Errorf("%w: response quantity '%v' does not match request '%v'",
				modbus.ErrInvalidResponse, resp.Quantity, len(req.Values))
		}
	default:
		return nil, fmt.Errorf("%w: function code not handled: 0x%02X", modbus.ErrInvalidResponse, req.FunctionCode)
	}
	return resp, nil
}

func dataBlock(a, b uint16) []byte {
	data := make([]byte, 4)
	binary.BigEndian.PutUint16(data, a)
	binary.BigEndian.PutUint16(data[2:], b)
	return data
}
