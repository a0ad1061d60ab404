// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/ffutop/dh5-modbus/internal/simulator/model"
)

// totalSize is the on-disk size of a bank: every holding register, two
// bytes each, in host byte order.
const totalSize = model.Size * 2

// registersOf returns a zero-copy register view of data. The view uses
// the host's endianness; a store written on one architecture is not
// portable to another with different byte order.
func registersOf(data []byte) ([]uint16, error) {
	if len(data) != totalSize {
		return nil, fmt.Errorf("store holds %d bytes, want %d", len(data), totalSize)
	}
	return unsafe.Slice((*uint16)(unsafe.Pointer(&data[0])), model.Size), nil
}

// mapBytesToBank constructs a Bank backed by the provided data slice.
func mapBytesToBank(data []byte) (*model.Bank, error) {
	regs, err := registersOf(data)
	if err != nil {
		return nil, err
	}
	return model.NewBankFrom(regs)
}

// openSized opens path read-write, creating it and fixing its size.
func openSized(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize %s: %w", path, err)
		}
	}
	return f, nil
}
