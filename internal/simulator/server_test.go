// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package simulator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	goburrow "github.com/goburrow/modbus"
	"github.com/grid-x/serial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/dh5-modbus/dh5"
	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/modbus"
	"github.com/ffutop/dh5-modbus/modbus/crc"
	transport "github.com/ffutop/dh5-modbus/transport/rtu"
)

// startServer runs a simulator behind one end of an in-memory pipe and
// returns a client holding the other end.
func startServer(t *testing.T, unitID byte) (*Simulator, *transport.Client) {
	t.Helper()
	sim, _ := newSimulator(t)
	master, slave := net.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(sim, unitID).Serve(ctx, slave) }()

	client := transport.NewClient(
		config.SerialConfig{Device: "pipe", BaudRate: 115200, Timeout: 500 * time.Millisecond},
		transport.WithOpener(func(*serial.Config) (io.ReadWriteCloser, error) { return master, nil }),
	)
	t.Cleanup(func() {
		client.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("server did not stop")
		}
	})
	return sim, client
}

func TestDeviceAgainstSimulator(t *testing.T) {
	sim, client := startServer(t, 1)
	ctx := context.Background()

	err := dh5.WithSession(ctx, client, nil, func(dev *dh5.Device) error {
		require.NoError(t, dev.Initialize(ctx, dh5.InitModeClose))
		states, err := dev.CheckInitialization(ctx)
		require.NoError(t, err)
		for _, axis := range dh5.Axes {
			assert.Equal(t, dh5.Initialized, states[axis], "axis %v", axis)
		}

		positions := []uint16{700, 1600, 1600, 1600, 1600, 700}
		require.NoError(t, dev.SetAllPositions(ctx, positions))
		got, err := dev.AllPositions(ctx)
		require.NoError(t, err)
		assert.Equal(t, positions, got)

		mask, err := dh5.MaskOf(1)
		require.NoError(t, err)
		require.NoError(t, dev.BackToZero(ctx, mask))
		p, err := dev.AxisPosition(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, uint16(0), p)

		require.NoError(t, dev.SetForces(ctx, []uint16{10, 20, 30, 40, 50, 60}))
		forces, err := dev.ForceSetpoints(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint16{10, 20, 30, 40, 50, 60}, forces)

		require.NoError(t, sim.InjectFault(0x21))
		history, err := dev.HistoryFaults(ctx)
		require.NoError(t, err)
		assert.Len(t, history, dh5.HistoryFaultsLength)
		assert.Equal(t, uint16(0x21), history[0])

		snap, err := dev.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0x21}, snap.Faults)
		assert.Equal(t, []uint16{0, 1600, 1600, 1600, 1600, 700}, snap.Positions)

		require.NoError(t, dev.ResetFaults(ctx))
		faults, err := dev.CurrentFaults(ctx)
		require.NoError(t, err)
		assert.Equal(t, []uint16{0}, faults)
		return nil
	})
	require.NoError(t, err)
	assert.False(t, client.IsOpen(), "session must close the channel")
}

func TestDeviceExceptionFromSimulator(t *testing.T) {
	_, client := startServer(t, 1)
	ctx := context.Background()
	require.NoError(t, client.Open(ctx))

	dev := dh5.NewDevice(client)
	err := dev.BackToZero(ctx, 0x40)
	assert.Equal(t, modbus.KindArgumentInvalid, modbus.KindOf(err), "mask is checked before sending")

	regs, err := dh5.DefaultRegisterMap().WithOverrides(map[string]uint16{"is_busy": 0xFFFF})
	require.NoError(t, err)
	dev = dh5.NewDevice(client, dh5.WithRegisterMap(regs))
	_, err = dev.IsBusy(ctx)
	require.NoError(t, err, "last register is readable")

	regs, err = dh5.DefaultRegisterMap().WithOverrides(map[string]uint16{"current_positions": 0xFFFD})
	require.NoError(t, err)
	dev = dh5.NewDevice(client, dh5.WithRegisterMap(regs))
	// 0xFFFD+6 runs past the end of the bank.
	_, err = dev.AllPositions(ctx)
	assert.Equal(t, modbus.KindInvalidCommand, modbus.KindOf(err))
	var exc *modbus.ExceptionError
	require.True(t, errors.As(err, &exc))
	assert.Equal(t, byte(modbus.ExceptionCodeIllegalDataAddress), exc.Code)
}

func TestWrongUnitTimesOut(t *testing.T) {
	_, client := startServer(t, 2)
	ctx := context.Background()
	require.NoError(t, client.Open(ctx))

	dev := dh5.NewDevice(client, dh5.WithUnitID(1))
	_, err := dev.IsBusy(ctx)
	assert.Equal(t, modbus.KindConnectionFailed, modbus.KindOf(err))

	dev = dh5.NewDevice(client, dh5.WithUnitID(2))
	busy, err := dev.IsBusy(ctx)
	require.NoError(t, err)
	assert.False(t, busy)
}

// frameTransporter hands goburrow's frames straight to a server.
type frameTransporter struct {
	srv *Server
}

func (tr *frameTransporter) Send(aduRequest []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := tr.srv.handleFrame(&out, aduRequest); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func TestReferenceMaster(t *testing.T) {
	sim, _ := newSimulator(t)
	handler := goburrow.NewRTUClientHandler("")
	handler.SlaveId = 1
	master := goburrow.NewClient2(handler, &frameTransporter{srv: NewServer(sim, 1)})

	values := make([]byte, 0, 12)
	for _, p := range []uint16{10, 20, 30, 40, 50, 60} {
		values = binary.BigEndian.AppendUint16(values, p)
	}
	_, err := master.WriteMultipleRegisters(0x0300, 6, values)
	require.NoError(t, err)

	results, err := master.ReadHoldingRegisters(0x0230, 6)
	require.NoError(t, err)
	assert.Equal(t, values, results)

	_, err = master.WriteSingleRegister(0x0504, 0b111111)
	require.NoError(t, err)
	results, err = master.ReadHoldingRegisters(0x0230, 6)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 12), results)

	_, err = master.ReadHoldingRegisters(0xFFFF, 2)
	var merr *goburrow.ModbusError
	require.True(t, errors.As(err, &merr), "got %v", err)
	assert.Equal(t, byte(goburrow.ExceptionCodeIllegalDataAddress), merr.ExceptionCode)
}

func TestServerDropsCorruptFrames(t *testing.T) {
	sim, _ := newSimulator(t)
	srv := NewServer(sim, 1)

	frame := crc.Append([]byte{0x01, 0x06, 0x05, 0x04, 0x00, 0x01})
	frame[len(frame)-1] ^= 0xFF

	var out bytes.Buffer
	require.NoError(t, srv.handleFrame(&out, frame))
	assert.Zero(t, out.Len())
	assert.Equal(t, uint16(0), sim.Bank().Get(0x0504))
}

func TestServerBroadcast(t *testing.T) {
	sim, _ := newSimulator(t)
	srv := NewServer(sim, 1)

	var out bytes.Buffer
	require.NoError(t, srv.handleFrame(&out, crc.Append([]byte{0x00, 0x06, 0x01, 0x07, 0x00, 0x05})))
	assert.Zero(t, out.Len(), "broadcasts are not answered")
	assert.Equal(t, uint16(5), sim.Bank().Get(0x0107))
}
