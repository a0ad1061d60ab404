// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/modbus/rtu"
)

// DefaultUnitID is the factory Modbus address of the controller.
const DefaultUnitID = 1

// Transactor performs one request/response exchange with a unit.
type Transactor interface {
	Execute(ctx context.Context, unitID byte, req rtu.Request) (*rtu.Response, error)
}

// Device exposes the controller's operations on top of a Transactor.
type Device struct {
	tr     Transactor
	unitID byte
	regs   *RegisterMap
	retry  *RetryPolicy
}

// Option configures a Device.
type Option func(*Device)

// WithUnitID sets the Modbus address of the controller.
func WithUnitID(id byte) Option {
	return func(d *Device) { d.unitID = id }
}

// WithRegisterMap replaces the documented register table.
func WithRegisterMap(m *RegisterMap) Option {
	return func(d *Device) { d.regs = m }
}

// WithRetryPolicy enables retrying of failed reads.
func WithRetryPolicy(p *RetryPolicy) Option {
	return func(d *Device) { d.retry = p }
}

// NewDevice creates a Device talking through tr.
func NewDevice(tr Transactor, opts ...Option) *Device {
	d := &Device{
		tr:     tr,
		unitID: DefaultUnitID,
		regs:   DefaultRegisterMap(),
	}
	for _, opt := range opts {
		opt(d)
	}
	for _, c := range d.regs.Collisions() {
		slog.Warn("register addresses overlap",
			"a", c.A.Name, "a_address", fmt.Sprintf("0x%04X", c.A.Address),
			"b", c.B.Name, "b_address", fmt.Sprintf("0x%04X", c.B.Address))
	}
	return d
}

// UnitID returns the Modbus address the device is talking to.
func (d *Device) UnitID() byte {
	return d.unitID
}

// Registers returns the register table in use.
func (d *Device) Registers() *RegisterMap {
	return d.regs
}

func (d *Device) read(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	req := rtu.ReadHoldingRegisters(address, quantity)
	var values []uint16
	err := d.retry.do(ctx, func() error {
		resp, err := d.tr.Execute(ctx, d.unitID, req)
		if err != nil {
			return err
		}
		if len(resp.Values) != int(quantity) {
			return fmt.Errorf("%w: got %d registers, want %d", modbus.ErrInvalidResponse, len(resp.Values), quantity)
		}
		values = resp.Values
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read 0x%04X x%d: %w", address, quantity, err)
	}
	return values, nil
}

func (d *Device) write(ctx context.Context, address, value uint16) error {
	if _, err := d.tr.Execute(ctx, d.unitID, rtu.WriteSingleRegister(address, value)); err != nil {
		return fmt.Errorf("write 0x%04X: %w", address, err)
	}
	return nil
}

func (d *Device) writeMultiple(ctx context.Context, address uint16, values []uint16) error {
	if _, err := d.tr.Execute(ctx, d.unitID, rtu.WriteMultipleRegisters(address, values)); err != nil {
		return fmt.Errorf("write 0x%04X x%d: %w", address, len(values), err)
	}
	return nil
}

func (d *Device) readField(ctx context.Context, f Field) ([]uint16, error) {
	r, err := d.regs.Register(f)
	if err != nil {
		return nil, err
	}
	return d.read(ctx, r.Address, r.Length)
}

func (d *Device) readOne(ctx context.Context, f Field) (uint16, error) {
	address, err := d.regs.Address(f)
	if err != nil {
		return 0, err
	}
	values, err := d.read(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func (d *Device) writeField(ctx context.Context, f Field, value uint16) error {
	address, err := d.regs.Address(f)
	if err != nil {
		return err
	}
	return d.write(ctx, address, value)
}

func (d *Device) readAxis(ctx context.Context, f Field, axis Axis) (uint16, error) {
	address, err := d.regs.ResolveAxisAddress(f, axis)
	if err != nil {
		return 0, err
	}
	values, err := d.read(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return values[0], nil
}

func (d *Device) writeAxis(ctx context.Context, f Field, axis Axis, value uint16) error {
	address, err := d.regs.ResolveAxisAddress(f, axis)
	if err != nil {
		return err
	}
	return d.write(ctx, address, value)
}

// readAxes reads a per-axis field for all axes: in one transaction when
// the instances are contiguous, axis by axis otherwise.
func (d *Device) readAxes(ctx context.Context, f Field) ([]uint16, error) {
	r, err := d.regs.Register(f)
	if err != nil {
		return nil, err
	}
	if r.Stride == 1 {
		return d.read(ctx, r.Address, AxisCount)
	}
	values := make([]uint16, 0, AxisCount)
	for _, a := range Axes {
		v, err := d.readAxis(ctx, f, a)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// writeAxes is the write counterpart of readAxes.
func (d *Device) writeAxes(ctx context.Context, f Field, values []uint16) error {
	values, err := EncodeAllPositions(values)
	if err != nil {
		return err
	}
	r, err := d.regs.Register(f)
	if err != nil {
		return err
	}
	if r.Stride == 1 {
		return d.writeMultiple(ctx, r.Address, values)
	}
	for i, a := range Axes {
		if err := d.writeAxis(ctx, f, a, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Status

// CurrentFaults returns the current fault register.
func (d *Device) CurrentFaults(ctx context.Context) ([]uint16, error) {
	return d.readField(ctx, FieldCurrentFaults)
}

// HistoryFaults returns the fault history, HistoryFaultsLength registers
// in device order.
func (d *Device) HistoryFaults(ctx context.Context) ([]uint16, error) {
	return d.readField(ctx, FieldHistoryFaults)
}

// IsBusy reports whether the controller is executing a command.
func (d *Device) IsBusy(ctx context.Context) (bool, error) {
	v, err := d.readOne(ctx, FieldBusy)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// AllPositions returns the current position of every axis.
func (d *Device) AllPositions(ctx context.Context) ([]uint16, error) {
	return d.readField(ctx, FieldCurrentPositions)
}

// CheckInitialization returns the initialization state of every axis.
func (d *Device) CheckInitialization(ctx context.Context) (map[Axis]InitializationState, error) {
	raw, err := d.readOne(ctx, FieldInitializationStatus)
	if err != nil {
		return nil, err
	}
	return DecodeInitializationStatus(raw), nil
}

// AxisPosition returns the measured position of axis.
func (d *Device) AxisPosition(ctx context.Context, axis Axis) (uint16, error) {
	return d.readAxis(ctx, FieldPositionStatus, axis)
}

// AxisSpeed returns the measured speed of axis.
func (d *Device) AxisSpeed(ctx context.Context, axis Axis) (uint16, error) {
	return d.readAxis(ctx, FieldSpeedStatus, axis)
}

// AxisCurrent returns the motor current of axis.
func (d *Device) AxisCurrent(ctx context.Context, axis Axis) (uint16, error) {
	return d.readAxis(ctx, FieldCurrentStatus, axis)
}

func (d *Device) PositionFeedback(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldPositionStatus)
}

func (d *Device) SpeedFeedback(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldSpeedStatus)
}

func (d *Device) CurrentFeedback(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldCurrentStatus)
}

func (d *Device) PositionSetpoints(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldAxisPosition)
}

func (d *Device) SpeedSetpoints(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldAxisSpeed)
}

func (d *Device) ForceSetpoints(ctx context.Context) ([]uint16, error) {
	return d.readAxes(ctx, FieldAxisForce)
}

// Commands

// ResetFaults clears the current faults.
func (d *Device) ResetFaults(ctx context.Context) error {
	return d.writeField(ctx, FieldResetFaults, 1)
}

// RestartSystem restarts the controller.
func (d *Device) RestartSystem(ctx context.Context) error {
	return d.writeField(ctx, FieldRestartSystem, 1)
}

// BackToInitialPosition moves every axis to its initial position.
func (d *Device) BackToInitialPosition(ctx context.Context) error {
	return d.writeField(ctx, FieldBackToInitial, 1)
}

// BackToZero moves the axes selected by mask to zero.
func (d *Device) BackToZero(ctx context.Context, mask AxisMask) error {
	v, err := EncodeBackToZeroMask(mask)
	if err != nil {
		return err
	}
	return d.writeField(ctx, FieldBackToZero, v)
}

// SetAllPositions writes the six target positions in one transaction.
func (d *Device) SetAllPositions(ctx context.Context, positions []uint16) error {
	values, err := EncodeAllPositions(positions)
	if err != nil {
		return err
	}
	address, err := d.regs.Address(FieldTargetPositions)
	if err != nil {
		return err
	}
	return d.writeMultiple(ctx, address, values)
}

// SetPositions writes the six position setpoints.
func (d *Device) SetPositions(ctx context.Context, positions []uint16) error {
	return d.writeAxes(ctx, FieldAxisPosition, positions)
}

// SetSpeeds writes the six speed setpoints.
func (d *Device) SetSpeeds(ctx context.Context, speeds []uint16) error {
	return d.writeAxes(ctx, FieldAxisSpeed, speeds)
}

// SetForces writes the six force setpoints. Force registers are not
// contiguous, so this costs one transaction per axis.
func (d *Device) SetForces(ctx context.Context, forces []uint16) error {
	return d.writeAxes(ctx, FieldAxisForce, forces)
}

// SetAxisPosition sets the target position of axis.
func (d *Device) SetAxisPosition(ctx context.Context, axis Axis, position uint16) error {
	return d.writeAxis(ctx, FieldAxisPosition, axis, position)
}

// SetAxisSpeed sets the speed of axis.
func (d *Device) SetAxisSpeed(ctx context.Context, axis Axis, speed uint16) error {
	return d.writeAxis(ctx, FieldAxisSpeed, axis, speed)
}

// SetAxisForce sets the force of axis.
func (d *Device) SetAxisForce(ctx context.Context, axis Axis, force uint16) error {
	return d.writeAxis(ctx, FieldAxisForce, axis, force)
}

// Initialize initializes all axes with mode.
func (d *Device) Initialize(ctx context.Context, mode InitMode) error {
	v, err := EncodeInitializeAll(mode)
	if err != nil {
		return err
	}
	return d.writeField(ctx, FieldInitializeAll, v)
}

// InitializeAxis initializes a single axis with mode.
func (d *Device) InitializeAxis(ctx context.Context, axis Axis, mode InitMode) error {
	v, err := EncodeInitializeAxis(axis, mode)
	if err != nil {
		return err
	}
	return d.writeField(ctx, FieldInitializeAxis, v)
}

// Configuration

// SetUartConfig writes the serial settings the controller uses after the
// next restart. Call SaveParams to make them survive a power cycle.
func (d *Device) SetUartConfig(ctx context.Context, cfg UartConfig) error {
	values, err := cfg.Registers()
	if err != nil {
		return err
	}
	address, err := d.regs.Address(FieldUartConfig)
	if err != nil {
		return err
	}
	return d.writeMultiple(ctx, address, values)
}

// SaveParams asks the controller to store its parameters in non-volatile
// memory.
func (d *Device) SaveParams(ctx context.Context, flag uint16) error {
	return d.writeField(ctx, FieldSaveParam, flag)
}

// Snapshot is a point-in-time view of the controller state.
type Snapshot struct {
	Time           time.Time                    `json:"time" yaml:"time"`
	UnitID         byte                         `json:"unit_id" yaml:"unit_id"`
	Busy           bool                         `json:"busy" yaml:"busy"`
	Initialization map[Axis]InitializationState `json:"initialization" yaml:"initialization"`
	Positions      []uint16                     `json:"positions" yaml:"positions"`
	Speeds         []uint16                     `json:"speeds" yaml:"speeds"`
	Currents       []uint16                     `json:"currents" yaml:"currents"`
	Faults         []uint16                     `json:"faults" yaml:"faults"`
}

// Snapshot reads the status registers. It stops at the first failure.
func (d *Device) Snapshot(ctx context.Context) (*Snapshot, error) {
	s := &Snapshot{Time: time.Now(), UnitID: d.unitID}
	var err error
	if s.Busy, err = d.IsBusy(ctx); err != nil {
		return nil, err
	}
	if s.Initialization, err = d.CheckInitialization(ctx); err != nil {
		return nil, err
	}
	if s.Positions, err = d.PositionFeedback(ctx); err != nil {
		return nil, err
	}
	if s.Speeds, err = d.SpeedFeedback(ctx); err != nil {
		return nil, err
	}
	if s.Currents, err = d.CurrentFeedback(ctx); err != nil {
		return nil, err
	}
	faults, err := d.CurrentFaults(ctx)
	if err != nil {
		return nil, err
	}
	s.Faults = DecodeFaultList(faults)
	return s, nil
}
