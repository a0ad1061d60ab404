// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package model

import (
	"errors"
	"fmt"
	"sync"
)

const (
	MaxAddress = 65535

	// Size is the number of holding registers in a Bank.
	Size = MaxAddress + 1
)

// ErrOutOfRange is returned for accesses past the end of the address space.
var ErrOutOfRange = errors.New("address range out of bounds")

// Bank holds the holding registers of a simulated controller.
// It uses a simple flat memory model covering the full 16-bit address space.
type Bank struct {
	mu sync.RWMutex

	// Registers may be backed by persistent storage; see persistence.
	Registers []uint16
}

// NewBank creates a new bank initialized to zero.
func NewBank() *Bank {
	return &Bank{Registers: make([]uint16, Size)}
}

// NewBankFrom wraps regs, which must hold Size registers.
func NewBankFrom(regs []uint16) (*Bank, error) {
	if len(regs) != Size {
		return nil, fmt.Errorf("bank needs %d registers, got %d", Size, len(regs))
	}
	return &Bank{Registers: regs}, nil
}

// Read returns a copy of quantity registers starting at address.
func (b *Bank) Read(address, quantity uint16) ([]uint16, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if err := validateRange(address, quantity); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, b.Registers[int(address):int(address)+int(quantity)])
	return out, nil
}

// Write stores values starting at address.
func (b *Bank) Write(address uint16, values ...uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := validateRange(address, uint16(len(values))); err != nil {
		return err
	}
	copy(b.Registers[int(address):], values)
	return nil
}

// CopyTo copies every register into dst and returns the count copied.
func (b *Bank) CopyTo(dst []uint16) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copy(dst, b.Registers)
}

// Get returns the register at address.
func (b *Bank) Get(address uint16) uint16 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.Registers[address]
}

// Set stores v at address.
func (b *Bank) Set(address, v uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Registers[address] = v
}

func validateRange(address, quantity uint16) error {
	if quantity == 0 {
		return fmt.Errorf("quantity must be greater than 0")
	}
	// address is 0-based.
	if int(address)+int(quantity) > Size {
		return fmt.Errorf("%w: 0x%04X+%d", ErrOutOfRange, address, quantity)
	}
	return nil
}
