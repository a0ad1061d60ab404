// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package modbus

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the codec, the transaction
// engine and the device facade wraps exactly one of these.
var (
	ErrConnectionFailed = errors.New("modbus: connection failed")
	ErrInvalidResponse  = errors.New("modbus: invalid response")
	ErrCrcCheckFailed   = errors.New("modbus: crc check failed")
	ErrInvalidCommand   = errors.New("modbus: invalid command")
	ErrArgumentInvalid  = errors.New("modbus: invalid argument")
)

// ErrorKind enumerates the error categories. The numeric values match the
// status codes reported by the vendor tooling (0 is success).
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConnectionFailed
	KindInvalidResponse
	KindCrcCheckFailed
	KindInvalidCommand
	KindArgumentInvalid
)

var kindNames = map[ErrorKind]string{
	KindNone:             "Success",
	KindConnectionFailed: "ConnectionFailed",
	KindInvalidResponse:  "InvalidResponse",
	KindCrcCheckFailed:   "CrcCheckFailed",
	KindInvalidCommand:   "InvalidCommand",
	KindArgumentInvalid:  "ArgumentInvalid",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindOf classifies err. Unclassified non-nil errors are reported as
// KindInvalidResponse.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrArgumentInvalid):
		return KindArgumentInvalid
	case errors.Is(err, ErrConnectionFailed):
		return KindConnectionFailed
	case errors.Is(err, ErrCrcCheckFailed):
		return KindCrcCheckFailed
	case errors.Is(err, ErrInvalidCommand):
		return KindInvalidCommand
	default:
		return KindInvalidResponse
	}
}

// ExceptionError is returned when the device answers with an exception
// response. It matches ErrInvalidCommand.
type ExceptionError struct {
	FunctionCode byte
	Code         byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus: exception '%v' (%s) for function %s",
		e.Code, exceptionText(e.Code), FunctionName(e.FunctionCode))
}

func (e *ExceptionError) Is(target error) bool {
	return target == ErrInvalidCommand
}

func exceptionText(code byte) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "illegal function"
	case ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		return "server device failure"
	case ExceptionCodeAcknowledge:
		return "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		return "server device busy"
	default:
		return "unknown"
	}
}
