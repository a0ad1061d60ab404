// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"fmt"
	"sort"

	"github.com/ffutop/dh5-modbus/modbus"
)

// AxisCount is the number of independently driven axes on the hand.
const AxisCount = 6

// HistoryFaultsLength is the fixed number of registers in the fault history.
const HistoryFaultsLength = 0x3F

// Field names a logical register of the controller.
type Field int

const (
	FieldInitializeAll Field = iota
	FieldInitializeAxis
	FieldInitializationStatus
	FieldSaveParam
	FieldUartConfig
	FieldAxisPosition
	FieldAxisForce
	FieldAxisSpeed
	FieldPositionStatus
	FieldSpeedStatus
	FieldCurrentStatus
	FieldCurrentFaults
	FieldBusy
	FieldCurrentPositions
	FieldResetFaults
	FieldBackToInitial
	FieldRestartSystem
	FieldBackToZero
	FieldTargetPositions
	FieldHistoryFaults
)

// Register describes where a field lives.
type Register struct {
	Name    string
	Address uint16
	// Stride is the address step between consecutive axes. Only meaningful
	// when PerAxis is set.
	Stride  uint16
	PerAxis bool
	// Length is the number of consecutive registers the field spans.
	Length uint16
}

// String implements fmt.Stringer.
func (f Field) String() string {
	if r, ok := defaultRegisters[f]; ok {
		return r.Name
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

var defaultRegisters = map[Field]Register{
	FieldInitializeAll:        {Name: "initialize_all", Address: 0x0001, Length: 1},
	FieldInitializeAxis:       {Name: "initialize_axis", Address: 0x0100, Length: 1},
	FieldInitializationStatus: {Name: "initialization_status", Address: 0x0200, Length: 1},
	FieldSaveParam:            {Name: "save_param", Address: 0x0300, Length: 1},
	FieldUartConfig:           {Name: "uart_config", Address: 0x0302, Length: 4},
	FieldAxisPosition:         {Name: "axis_position", Address: 0x0101, Stride: 1, PerAxis: true, Length: 1},
	FieldAxisForce:            {Name: "axis_force", Address: 0x0107, Stride: 0x10, PerAxis: true, Length: 1},
	FieldAxisSpeed:            {Name: "axis_speed", Address: 0x010D, Stride: 1, PerAxis: true, Length: 1},
	FieldPositionStatus:       {Name: "position_status", Address: 0x0207, Stride: 1, PerAxis: true, Length: 1},
	FieldSpeedStatus:          {Name: "speed_status", Address: 0x020D, Stride: 1, PerAxis: true, Length: 1},
	FieldCurrentStatus:        {Name: "current_status", Address: 0x0213, Stride: 1, PerAxis: true, Length: 1},
	FieldCurrentFaults:        {Name: "current_faults", Address: 0x021F, Length: 1},
	FieldBusy:                 {Name: "is_busy", Address: 0x0220, Length: 1},
	FieldCurrentPositions:     {Name: "current_positions", Address: 0x0230, Length: AxisCount},
	FieldResetFaults:          {Name: "reset_faults", Address: 0x0501, Length: 1},
	FieldBackToInitial:        {Name: "back_to_initial", Address: 0x0502, Length: 1},
	FieldRestartSystem:        {Name: "restart_system", Address: 0x0503, Length: 1},
	FieldBackToZero:           {Name: "back_to_zero", Address: 0x0504, Length: 1},
	FieldTargetPositions:      {Name: "target_positions", Address: 0x0300, Length: AxisCount},
	FieldHistoryFaults:        {Name: "history_faults", Address: 0x0B00, Length: HistoryFaultsLength},
}

// RegisterMap is an immutable table from fields to registers. The zero
// value is not usable; build one with DefaultRegisterMap or NewRegisterMap.
type RegisterMap struct {
	regs map[Field]Register
}

// DefaultRegisterMap returns the table documented for the DH5 controller.
func DefaultRegisterMap() *RegisterMap {
	return NewRegisterMap(defaultRegisters)
}

// NewRegisterMap builds a map from table. The table is copied.
func NewRegisterMap(table map[Field]Register) *RegisterMap {
	regs := make(map[Field]Register, len(table))
	for f, r := range table {
		regs[f] = r
	}
	return &RegisterMap{regs: regs}
}

// WithOverrides returns a copy of m with the addresses of the named
// registers replaced.
func (m *RegisterMap) WithOverrides(addresses map[string]uint16) (*RegisterMap, error) {
	byName := make(map[string]Field, len(m.regs))
	for f, r := range m.regs {
		byName[r.Name] = f
	}
	out := NewRegisterMap(m.regs)
	for name, address := range addresses {
		f, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown register %q", modbus.ErrArgumentInvalid, name)
		}
		r := out.regs[f]
		r.Address = address
		out.regs[f] = r
	}
	return out, nil
}

// Register returns the register of f.
func (m *RegisterMap) Register(f Field) (Register, error) {
	r, ok := m.regs[f]
	if !ok {
		return Register{}, fmt.Errorf("%w: no register for %v", modbus.ErrArgumentInvalid, f)
	}
	return r, nil
}

// Address returns the base address of f.
func (m *RegisterMap) Address(f Field) (uint16, error) {
	r, err := m.Register(f)
	if err != nil {
		return 0, err
	}
	return r.Address, nil
}

// ResolveAxisAddress returns the address of a per-axis field for axis,
// computed as base + (axis-1)*stride.
func (m *RegisterMap) ResolveAxisAddress(f Field, axis Axis) (uint16, error) {
	if err := axis.Validate(); err != nil {
		return 0, err
	}
	r, err := m.Register(f)
	if err != nil {
		return 0, err
	}
	if !r.PerAxis {
		return 0, fmt.Errorf("%w: %s is not a per-axis register", modbus.ErrArgumentInvalid, r.Name)
	}
	return r.Address + uint16(axis-1)*r.Stride, nil
}

// All returns every register ordered by address.
func (m *RegisterMap) All() []Register {
	out := make([]Register, 0, len(m.regs))
	for _, r := range m.regs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Address != out[j].Address {
			return out[i].Address < out[j].Address
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Collision is a pair of registers whose address ranges overlap.
type Collision struct {
	A, B Register
}

// Collisions reports every pair of registers whose address ranges overlap.
// Per-axis fields span AxisCount instances.
func (m *RegisterMap) Collisions() []Collision {
	fields := make([]Field, 0, len(m.regs))
	for f := range m.regs {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	var out []Collision
	for i, fa := range fields {
		for _, fb := range fields[i+1:] {
			a, b := m.regs[fa], m.regs[fb]
			if overlaps(a, b) {
				out = append(out, Collision{A: a, B: b})
			}
		}
	}
	return out
}

func addresses(r Register) []uint16 {
	var out []uint16
	if r.PerAxis {
		for axis := 0; axis < AxisCount; axis++ {
			for i := uint16(0); i < r.Length; i++ {
				out = append(out, r.Address+uint16(axis)*r.Stride+i)
			}
		}
		return out
	}
	for i := uint16(0); i < r.Length; i++ {
		out = append(out, r.Address+i)
	}
	return out
}

func overlaps(a, b Register) bool {
	set := make(map[uint16]struct{})
	for _, addr := range addresses(a) {
		set[addr] = struct{}{}
	}
	for _, addr := range addresses(b) {
		if _, ok := set[addr]; ok {
			return true
		}
	}
	return false
}
