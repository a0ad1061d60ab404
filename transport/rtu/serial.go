// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package rtu

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grid-x/serial"

	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/modbus"
)

const (
	// Default timeout
	serialTimeout = 1 * time.Second
)

// Opener acquires the byte channel described by cfg.
type Opener func(cfg *serial.Config) (io.ReadWriteCloser, error)

func openSerial(cfg *serial.Config) (io.ReadWriteCloser, error) {
	return serial.Open(cfg)
}

// SerialConfig maps the application serial settings onto grid-x/serial.
func SerialConfig(cfg config.SerialConfig) serial.Config {
	c := serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.Timeout,
	}
	if c.Timeout <= 0 {
		c.Timeout = serialTimeout
	}
	if cfg.RS485 {
		c.RS485 = serial.RS485Config{
			Enabled:            true,
			DelayRtsBeforeSend: cfg.DelayRtsBeforeSend,
			DelayRtsAfterSend:  cfg.DelayRtsAfterSend,
			RtsHighDuringSend:  cfg.RtsHighDuringSend,
			RtsHighAfterSend:   cfg.RtsHighAfterSend,
			RxDuringTx:         cfg.RxDuringTx,
		}
	}
	return c
}

// serialPort has configuration and I/O controller.
type serialPort struct {
	// Serial port configuration.
	serial.Config

	open Opener

	mu sync.Mutex
	// port is platform-dependent data structure for serial port.
	port io.ReadWriteCloser
}

// Open acquires the serial port. Opening an open port is a no-op.
func (mb *serialPort) Open(ctx context.Context) (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.connect(ctx)
}

// connect connects to the serial port if it is not connected. Caller must hold the mutex.
func (mb *serialPort) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", modbus.ErrConnectionFailed, ctx.Err())
	default:
	}
	if mb.port == nil {
		open := mb.open
		if open == nil {
			open = openSerial
		}
		port, err := open(&mb.Config)
		if err != nil {
			return fmt.Errorf("%w: could not open %s: %v", modbus.ErrConnectionFailed, mb.Config.Address, err)
		}
		mb.port = port
		slog.Info("serial port opened", "device", mb.Config.Address, "baud_rate", mb.Config.BaudRate)
	}
	return nil
}

// Close releases the serial port. Closing a closed port is a no-op.
func (mb *serialPort) Close() (err error) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.close()
}

// close closes the serial port if it is connected. Caller must hold the mutex.
func (mb *serialPort) close() (err error) {
	if mb.port != nil {
		err = mb.port.Close()
		mb.port = nil
		slog.Info("serial port closed", "device", mb.Config.Address)
	}
	return
}

// IsOpen reports whether the port is held.
func (mb *serialPort) IsOpen() bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	return mb.port != nil
}
