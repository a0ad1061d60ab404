// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import "fmt"

// Function codes spoken by the DH5 controller.
const (
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleRegisters = 0x10

	// Set on the function code of an exception response.
	FuncCodeExceptionFlag = 0x80
)

const (
	ExceptionCodeIllegalFunction     = 1
	ExceptionCodeIllegalDataAddress  = 2
	ExceptionCodeIllegalDataValue    = 3
	ExceptionCodeServerDeviceFailure = 4
	ExceptionCodeAcknowledge         = 5
	ExceptionCodeServerDeviceBusy    = 6
)

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// IsException reports whether the PDU carries an exception response.
func (pdu ProtocolDataUnit) IsException() bool {
	return pdu.FunctionCode&FuncCodeExceptionFlag != 0
}

func (pdu ProtocolDataUnit) String() string {
	return fmt.Sprintf("function=0x%02X data=% X", pdu.FunctionCode, pdu.Data)
}

// FunctionName returns a readable name for the function codes this driver speaks.
func FunctionName(code byte) string {
	switch code &^ FuncCodeExceptionFlag {
	case FuncCodeReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncCodeWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncCodeWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return fmt.Sprintf("0x%02X", code)
	}
}
