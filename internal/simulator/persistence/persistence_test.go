// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/dh5-modbus/internal/config"
)

func TestReload(t *testing.T) {
	for _, typ := range []string{"file", "mmap"} {
		t.Run(typ, func(t *testing.T) {
			cfg := config.PersistenceConfig{Type: typ, Path: filepath.Join(t.TempDir(), "dh5.bin")}

			st, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			bank, err := st.Load()
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if err := bank.Write(0x0302, 2, 5, 1, 0); err != nil {
				t.Fatal(err)
			}
			st.OnWrite(0x0302, 4)
			if err := st.Save(bank); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}

			st, err = New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer st.Close()
			bank, err = st.Load()
			if err != nil {
				t.Fatalf("second Load failed: %v", err)
			}
			got, err := bank.Read(0x0302, 4)
			if err != nil {
				t.Fatal(err)
			}
			want := []uint16{2, 5, 1, 0}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("register 0x%04X: got %d, want %d", 0x0302+i, got[i], want[i])
				}
			}
		})
	}
}

func TestMemoryStorage(t *testing.T) {
	st, err := New(config.PersistenceConfig{})
	if err != nil {
		t.Fatal(err)
	}
	bank, err := st.Load()
	if err != nil {
		t.Fatal(err)
	}
	if bank.Get(0x0300) != 0 {
		t.Error("fresh memory bank is not zeroed")
	}
	if err := st.Save(bank); err != nil {
		t.Error(err)
	}
}

func TestUnknownType(t *testing.T) {
	if _, err := New(config.PersistenceConfig{Type: "redis"}); err == nil {
		t.Error("expected error for unknown persistence type")
	}
}

func TestUnsavedWritesAreLost(t *testing.T) {
	for _, typ := range []string{"file", "mmap"} {
		t.Run(typ, func(t *testing.T) {
			cfg := config.PersistenceConfig{Type: typ, Path: filepath.Join(t.TempDir(), "dh5.bin")}

			st, err := New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			bank, err := st.Load()
			if err != nil {
				t.Fatal(err)
			}
			bank.Set(0x0302, 7)
			st.OnWrite(0x0302, 1)
			if err := st.Save(bank); err != nil {
				t.Fatal(err)
			}
			bank.Set(0x0302, 9)
			st.OnWrite(0x0302, 1)
			if err := st.Close(); err != nil {
				t.Fatal(err)
			}

			st, err = New(cfg)
			if err != nil {
				t.Fatal(err)
			}
			defer st.Close()
			bank, err = st.Load()
			if err != nil {
				t.Fatal(err)
			}
			if got := bank.Get(0x0302); got != 7 {
				t.Errorf("register 0x0302 = %d after restart, want the saved 7", got)
			}
		})
	}
}

func BenchmarkFileStorage_Save(b *testing.B) {
	ms := NewFileStorage(filepath.Join(b.TempDir(), "bench_file.bin"))
	bank, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bank.Set(0x0101, uint16(i))
		if err := ms.Save(bank); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkMmapStorage_Save benchmarks copying the bank into the mapping and msync.
func BenchmarkMmapStorage_Save(b *testing.B) {
	ms := NewMmapStorage(filepath.Join(b.TempDir(), "bench_mmap.bin"))
	bank, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bank.Set(0x0101, uint16(i))
		if err := ms.Save(bank); err != nil {
			b.Fatal(err)
		}
	}
}
