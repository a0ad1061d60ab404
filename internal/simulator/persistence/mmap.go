// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/ffutop/dh5-modbus/internal/simulator/model"
)

// MmapStorage implements persistence using memory-mapped files. The bank
// lives on the heap; Save copies it into the mapping and flushes, so
// unsaved writes never reach the file.
type MmapStorage struct {
	path string
	file *os.File
	data mmap.MMap
	view []uint16
}

// NewMmapStorage creates a new MmapStorage.
func NewMmapStorage(path string) *MmapStorage {
	return &MmapStorage{
		path: path,
	}
}

// Load loads the bank by memory-mapping the file.
func (ms *MmapStorage) Load() (*model.Bank, error) {
	f, err := openSized(ms.path)
	if err != nil {
		return nil, err
	}
	ms.file = f

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	ms.data = data

	view, err := registersOf(data)
	if err != nil {
		ms.Close()
		return nil, err
	}
	ms.view = view
	return model.NewBankFrom(append([]uint16(nil), view...))
}

// Save copies the bank into the mapping and flushes it to disk.
func (ms *MmapStorage) Save(bank *model.Bank) error {
	if ms.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	bank.CopyTo(ms.view)
	if err := ms.data.Flush(); err != nil {
		return fmt.Errorf("failed to flush mmap: %w", err)
	}
	slog.Debug("register image flushed", "path", ms.path)
	return nil
}

// OnWrite does nothing; changes stay on the heap until Save.
func (ms *MmapStorage) OnWrite(address, quantity uint16) {}

// Close unmaps and closes the file.
func (ms *MmapStorage) Close() error {
	var err error
	if ms.data != nil {
		if e := ms.data.Unmap(); e != nil {
			err = e
		}
		ms.data = nil
		ms.view = nil
	}
	if ms.file != nil {
		if e := ms.file.Close(); e != nil {
			err = e
		}
		ms.file = nil
	}
	return err
}
