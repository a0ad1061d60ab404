// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"fmt"

	"github.com/ffutop/dh5-modbus/modbus"
)

// Axis is a 1-based axis index.
type Axis int

// Axes lists every axis in order.
var Axes = [AxisCount]Axis{1, 2, 3, 4, 5, 6}

// Validate checks that a is within [1, AxisCount].
func (a Axis) Validate() error {
	if a < 1 || a > AxisCount {
		return fmt.Errorf("%w: axis %d must be between 1 and %d", modbus.ErrArgumentInvalid, int(a), AxisCount)
	}
	return nil
}

// String returns the label the vendor uses for the axis, F1..F6.
func (a Axis) String() string {
	return fmt.Sprintf("F%d", int(a))
}

// MarshalText lets Axis key maps in JSON and YAML output.
func (a Axis) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// AxisMask selects axes; bit i selects axis i+1.
type AxisMask uint16

// AllAxes selects all six axes.
const AllAxes AxisMask = 0b111111

// MaskOf builds a mask selecting axes.
func MaskOf(axes ...Axis) (AxisMask, error) {
	var m AxisMask
	for _, a := range axes {
		if err := a.Validate(); err != nil {
			return 0, err
		}
		m |= 1 << uint(a-1)
	}
	return m, nil
}

// Has reports whether a is selected.
func (m AxisMask) Has(a Axis) bool {
	return a.Validate() == nil && m&(1<<uint(a-1)) != 0
}

// EncodeBackToZeroMask returns the value written to the back-to-zero
// command register.
func EncodeBackToZeroMask(mask AxisMask) (uint16, error) {
	if mask&^AllAxes != 0 {
		return 0, fmt.Errorf("%w: axis mask 0b%b selects axes beyond %d", modbus.ErrArgumentInvalid, mask, AxisCount)
	}
	return uint16(mask), nil
}

// InitMode is the 2-bit initialization mode of an axis.
type InitMode uint16

const (
	InitModeClose      InitMode = 0b01
	InitModeOpen       InitMode = 0b10
	InitModeFindStroke InitMode = 0b11
)

func (m InitMode) String() string {
	switch m {
	case InitModeClose:
		return "close"
	case InitModeOpen:
		return "open"
	case InitModeFindStroke:
		return "find-stroke"
	default:
		return fmt.Sprintf("InitMode(%d)", uint16(m))
	}
}

// ParseInitMode accepts the mode names and their numeric forms.
func ParseInitMode(s string) (InitMode, error) {
	switch s {
	case "close", "1":
		return InitModeClose, nil
	case "open", "2":
		return InitModeOpen, nil
	case "find-stroke", "stroke", "3":
		return InitModeFindStroke, nil
	}
	return 0, fmt.Errorf("%w: unknown initialization mode %q", modbus.ErrArgumentInvalid, s)
}

// Validate checks that m is one of the three defined modes.
func (m InitMode) Validate() error {
	switch m {
	case InitModeClose, InitModeOpen, InitModeFindStroke:
		return nil
	}
	return fmt.Errorf("%w: mode 0b%b must be 0b01 (close), 0b10 (open) or 0b11 (find stroke)", modbus.ErrArgumentInvalid, uint16(m))
}

const (
	slotWidth = 2
	slotMask  = 0b11
)

func slotShift(a Axis) uint {
	return uint(a-1) * slotWidth
}

// EncodeInitializeAll replicates mode into every axis slot.
func EncodeInitializeAll(mode InitMode) (uint16, error) {
	if err := mode.Validate(); err != nil {
		return 0, err
	}
	var v uint16
	for _, a := range Axes {
		v |= uint16(mode) << slotShift(a)
	}
	return v, nil
}

// EncodeInitializeAxis places mode in the slot of axis, leaving the
// other slots zero.
func EncodeInitializeAxis(axis Axis, mode InitMode) (uint16, error) {
	if err := axis.Validate(); err != nil {
		return 0, err
	}
	if err := mode.Validate(); err != nil {
		return 0, err
	}
	return uint16(mode) << slotShift(axis), nil
}

// InitializationState is the read-back state of one axis.
type InitializationState int

const (
	NotInitialized InitializationState = iota
	Initializing
	Initialized
)

func (s InitializationState) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Initializing:
		return "initializing"
	default:
		return "not initialized"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s InitializationState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var initStates = map[uint16]InitializationState{
	0b01: Initialized,
	0b10: Initializing,
}

// DecodeInitializationStatus splits the initialization status register
// into per-axis states. Each axis owns the 2-bit slot at (axis-1)*2;
// 0b01 reads as initialized, 0b10 as initializing, anything else as not
// initialized.
func DecodeInitializationStatus(raw uint16) map[Axis]InitializationState {
	out := make(map[Axis]InitializationState, AxisCount)
	for _, a := range Axes {
		out[a] = initStates[raw>>slotShift(a)&slotMask]
	}
	return out
}

// EncodeInitializationStatus is the inverse of DecodeInitializationStatus.
// Axes missing from states are encoded as not initialized.
func EncodeInitializationStatus(states map[Axis]InitializationState) uint16 {
	var raw uint16
	for a, s := range states {
		if a.Validate() != nil {
			continue
		}
		for bits, state := range initStates {
			if state == s {
				raw |= bits << slotShift(a)
			}
		}
	}
	return raw
}

// DecodeFaultList returns the fault codes in regs, dropping empty slots.
func DecodeFaultList(regs []uint16) []uint16 {
	out := make([]uint16, 0, len(regs))
	for _, r := range regs {
		if r != 0 {
			out = append(out, r)
		}
	}
	return out
}

// EncodeAllPositions checks that values holds exactly one value per axis.
func EncodeAllPositions(values []uint16) ([]uint16, error) {
	if len(values) != AxisCount {
		return nil, fmt.Errorf("%w: must provide exactly %d values, got %d", modbus.ErrArgumentInvalid, AxisCount, len(values))
	}
	return append([]uint16(nil), values...), nil
}

// Parity codes as stored in the UART configuration registers.
const (
	ParityNone = 0
	ParityEven = 1
	ParityOdd  = 2
)

// ParityCode maps "N", "E" and "O" to the register encoding.
func ParityCode(parity string) (uint16, error) {
	switch parity {
	case "N", "n", "":
		return ParityNone, nil
	case "E", "e":
		return ParityEven, nil
	case "O", "o":
		return ParityOdd, nil
	}
	return 0, fmt.Errorf("%w: parity %q must be N, E or O", modbus.ErrArgumentInvalid, parity)
}

// UartConfig is the content of the four UART configuration registers.
// Values are written verbatim; BaudRate is the controller's own baud
// code, not bits per second.
type UartConfig struct {
	UnitID   uint16
	BaudRate uint16
	StopBits uint16
	Parity   uint16
}

// Registers returns the register values in device order.
func (c UartConfig) Registers() ([]uint16, error) {
	if c.UnitID < 1 || c.UnitID > 247 {
		return nil, fmt.Errorf("%w: unit id %d must be between 1 and 247", modbus.ErrArgumentInvalid, c.UnitID)
	}
	if c.Parity > ParityOdd {
		return nil, fmt.Errorf("%w: parity code %d must be 0, 1 or 2", modbus.ErrArgumentInvalid, c.Parity)
	}
	return []uint16{c.UnitID, c.BaudRate, c.StopBits, c.Parity}, nil
}
