// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"

	"github.com/ffutop/dh5-modbus/internal/config"
	"github.com/ffutop/dh5-modbus/internal/simulator/model"
)

// Storage defines the interface for persisting the simulated register bank.
type Storage interface {
	// Load loads the bank from storage. A missing store yields a zeroed bank.
	Load() (*model.Bank, error)

	// Save writes the bank to storage. The simulator calls it when the
	// controller is asked to save its parameters; writes made since the
	// last Save are lost on restart, as on the hardware.
	Save(bank *model.Bank) error

	// OnWrite is a hook called whenever registers are modified. It must
	// not make the change durable.
	OnWrite(address, quantity uint16)

	// Close releases the backing store.
	Close() error
}

// New returns the storage described by cfg.
func New(cfg config.PersistenceConfig) (Storage, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStorage(), nil
	case "file":
		return NewFileStorage(cfg.Path), nil
	case "mmap":
		return NewMmapStorage(cfg.Path), nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
