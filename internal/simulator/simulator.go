// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package simulator implements a software DH5 controller. It answers the
// same register map as the hardware and reproduces the side effects of
// its command registers, so the whole stack can run without a hand
// attached.
package simulator

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/internal/simulator/model"
	"github.com/ffutop/dh5-modbus/internal/simulator/persistence"
	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/modbus/rtu"
)

// Simulator executes request PDUs against a register bank.
type Simulator struct {
	mu      sync.Mutex
	bank    *model.Bank
	storage persistence.Storage
	regs    *dh5.RegisterMap

	addr      map[dh5.Field]uint16
	positions map[uint16]dh5.Axis
	speeds    map[uint16]dh5.Axis
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRegisterMap makes the simulator answer a non-default register table.
func WithRegisterMap(m *dh5.RegisterMap) Option {
	return func(s *Simulator) { s.regs = m }
}

// New loads the bank from storage and returns a simulator serving it.
func New(storage persistence.Storage, opts ...Option) (*Simulator, error) {
	bank, err := storage.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load register bank: %w", err)
	}
	s := &Simulator{
		bank:      bank,
		storage:   storage,
		regs:      dh5.DefaultRegisterMap(),
		addr:      make(map[dh5.Field]uint16),
		positions: make(map[uint16]dh5.Axis, dh5.AxisCount),
		speeds:    make(map[uint16]dh5.Axis, dh5.AxisCount),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, f := range []dh5.Field{
		dh5.FieldInitializeAll, dh5.FieldInitializeAxis, dh5.FieldInitializationStatus,
		dh5.FieldSaveParam, dh5.FieldCurrentFaults, dh5.FieldBusy, dh5.FieldCurrentPositions,
		dh5.FieldResetFaults, dh5.FieldBackToInitial, dh5.FieldRestartSystem,
		dh5.FieldBackToZero, dh5.FieldTargetPositions, dh5.FieldHistoryFaults,
	} {
		a, err := s.regs.Address(f)
		if err != nil {
			return nil, err
		}
		s.addr[f] = a
	}
	for _, axis := range dh5.Axes {
		p, err := s.regs.ResolveAxisAddress(dh5.FieldAxisPosition, axis)
		if err != nil {
			return nil, err
		}
		s.positions[p] = axis
		v, err := s.regs.ResolveAxisAddress(dh5.FieldAxisSpeed, axis)
		if err != nil {
			return nil, err
		}
		s.speeds[v] = axis
	}
	return s, nil
}

// Bank exposes the register bank, mainly for inspection in tests.
func (s *Simulator) Bank() *model.Bank {
	return s.bank
}

// Close releases the storage.
func (s *Simulator) Close() error {
	return s.storage.Close()
}

// Process executes req and returns the response PDU. Requests the
// controller would refuse come back as exception responses.
func (s *Simulator) Process(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req.FunctionCode {
	case modbus.FuncCodeReadHoldingRegisters:
		return s.handleReadHoldingRegisters(req)
	case modbus.FuncCodeWriteSingleRegister:
		return s.handleWriteSingleRegister(req)
	case modbus.FuncCodeWriteMultipleRegisters:
		return s.handleWriteMultipleRegisters(req)
	default:
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalFunction)
	}
}

func (s *Simulator) handleReadHoldingRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	if quantity < 1 || quantity > rtu.MaxReadRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values, err := s.bank.Read(address, quantity)
	if err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}

	respData := make([]byte, 1+2*len(values))
	respData[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(respData[1+2*i:], v)
	}
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

func (s *Simulator) handleWriteSingleRegister(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) != 4 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])

	if code := s.check(address, value); code != 0 {
		return exception(req.FunctionCode, code)
	}
	if err := s.bank.Write(address, value); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.storage.OnWrite(address, 1)

	if address == s.addr[dh5.FieldSaveParam] {
		s.saveParams()
	} else {
		s.apply(address, value)
	}

	// Echo request
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         append([]byte(nil), req.Data...),
	}
}

func (s *Simulator) handleWriteMultipleRegisters(req modbus.ProtocolDataUnit) modbus.ProtocolDataUnit {
	if len(req.Data) < 5 {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]

	if quantity < 1 || quantity > rtu.MaxWriteRegisters {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}
	if int(byteCount) != len(req.Data)-5 || int(byteCount) != 2*int(quantity) {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataValue)
	}

	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(req.Data[5+2*i:])
	}
	for i, v := range values {
		if code := s.check(address+uint16(i), v); code != 0 {
			return exception(req.FunctionCode, code)
		}
	}
	if err := s.bank.Write(address, values...); err != nil {
		return exception(req.FunctionCode, modbus.ExceptionCodeIllegalDataAddress)
	}
	s.storage.OnWrite(address, quantity)

	// 0x0300 is both save-param and the target positions block; a block
	// write there is always a move.
	if address == s.addr[dh5.FieldTargetPositions] && int(quantity) == dh5.AxisCount {
		s.moveAll(values)
	} else {
		for i, v := range values {
			s.apply(address+uint16(i), v)
		}
	}

	respData := make([]byte, 4)
	binary.BigEndian.PutUint16(respData[0:2], address)
	binary.BigEndian.PutUint16(respData[2:4], quantity)
	return modbus.ProtocolDataUnit{
		FunctionCode: req.FunctionCode,
		Data:         respData,
	}
}

// check returns the exception code for a value the controller refuses,
// or zero.
func (s *Simulator) check(address, value uint16) byte {
	switch address {
	case s.addr[dh5.FieldBackToZero]:
		if _, err := dh5.EncodeBackToZeroMask(dh5.AxisMask(value)); err != nil {
			return modbus.ExceptionCodeIllegalDataValue
		}
	case s.addr[dh5.FieldInitializeAll], s.addr[dh5.FieldInitializeAxis]:
		if value>>(2*dh5.AxisCount) != 0 {
			return modbus.ExceptionCodeIllegalDataValue
		}
	}
	return 0
}

// apply runs the side effect of writing value to a command or setpoint
// register.
func (s *Simulator) apply(address, value uint16) {
	switch address {
	case s.addr[dh5.FieldInitializeAll], s.addr[dh5.FieldInitializeAxis]:
		s.initialize(value)
	case s.addr[dh5.FieldResetFaults]:
		s.bank.Set(s.addr[dh5.FieldCurrentFaults], 0)
	case s.addr[dh5.FieldRestartSystem]:
		s.bank.Set(s.addr[dh5.FieldInitializationStatus], 0)
		slog.Info("simulated controller restarted")
	case s.addr[dh5.FieldBackToInitial]:
		for _, axis := range dh5.Axes {
			s.moveAxis(axis, 0)
		}
	case s.addr[dh5.FieldBackToZero]:
		mask := dh5.AxisMask(value)
		for _, axis := range dh5.Axes {
			if mask.Has(axis) {
				s.moveAxis(axis, 0)
			}
		}
	default:
		if axis, ok := s.positions[address]; ok {
			s.moveAxis(axis, value)
		} else if axis, ok := s.speeds[address]; ok {
			s.mirror(dh5.FieldSpeedStatus, axis, value)
		}
	}
}

// initialize marks every axis with a non-zero mode slot as initialized.
func (s *Simulator) initialize(value uint16) {
	statusAddr := s.addr[dh5.FieldInitializationStatus]
	states := dh5.DecodeInitializationStatus(s.bank.Get(statusAddr))
	for _, axis := range dh5.Axes {
		if value>>(uint(axis-1)*2)&0b11 != 0 {
			states[axis] = dh5.Initialized
		}
	}
	s.bank.Set(statusAddr, dh5.EncodeInitializationStatus(states))
}

func (s *Simulator) moveAll(positions []uint16) {
	for i, axis := range dh5.Axes {
		s.moveAxis(axis, positions[i])
	}
}

// moveAxis completes a move instantly: setpoint, feedback and the
// position snapshot all take the new value.
func (s *Simulator) moveAxis(axis dh5.Axis, position uint16) {
	s.mirror(dh5.FieldAxisPosition, axis, position)
	s.mirror(dh5.FieldPositionStatus, axis, position)
	s.bank.Set(s.addr[dh5.FieldCurrentPositions]+uint16(axis-1), position)
}

func (s *Simulator) mirror(f dh5.Field, axis dh5.Axis, value uint16) {
	address, err := s.regs.ResolveAxisAddress(f, axis)
	if err != nil {
		return
	}
	s.bank.Set(address, value)
}

func (s *Simulator) saveParams() {
	if err := s.storage.Save(s.bank); err != nil {
		slog.Error("failed to save parameters", "err", err)
		return
	}
	slog.Info("parameters saved")
}

// InjectFault raises code as the current fault and appends it to the
// fault history. A full history drops its oldest entry. The current fault
// is raised even when the history cannot be updated.
func (s *Simulator) InjectFault(code uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bank.Set(s.addr[dh5.FieldCurrentFaults], code)

	base := s.addr[dh5.FieldHistoryFaults]
	history, err := s.bank.Read(base, dh5.HistoryFaultsLength)
	if err != nil {
		slog.Error("failed to record fault history", "code", code, "err", err)
		return fmt.Errorf("fault history at 0x%04X: %w", base, err)
	}
	slot := -1
	for i, v := range history {
		if v == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		copy(history, history[1:])
		slot = len(history) - 1
	}
	history[slot] = code
	if err := s.bank.Write(base, history...); err != nil {
		slog.Error("failed to record fault history", "code", code, "err", err)
		return fmt.Errorf("fault history at 0x%04X: %w", base, err)
	}
	s.storage.OnWrite(base, dh5.HistoryFaultsLength)
	return nil
}

// SetBusy sets the busy flag reported to the master.
func (s *Simulator) SetBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v uint16
	if busy {
		v = 1
	}
	s.bank.Set(s.addr[dh5.FieldBusy], v)
}

// SetCurrent sets the motor current reported for axis.
func (s *Simulator) SetCurrent(axis dh5.Axis, current uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mirror(dh5.FieldCurrentStatus, axis, current)
}

func exception(funcCode byte, code byte) modbus.ProtocolDataUnit {
	return modbus.ProtocolDataUnit{
		FunctionCode: funcCode | modbus.FuncCodeExceptionFlag,
		Data:         []byte{code},
	}
}
