// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/dh5-modbus/modbus"
)

func TestResolveAxisAddress(t *testing.T) {
	m := DefaultRegisterMap()
	for _, axis := range Axes {
		p, err := m.ResolveAxisAddress(FieldAxisPosition, axis)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0101)+uint16(axis-1), p)

		f, err := m.ResolveAxisAddress(FieldAxisForce, axis)
		require.NoError(t, err)
		assert.Equal(t, uint16(0x0107)+uint16(axis-1)*0x10, f)
	}

	_, err := m.ResolveAxisAddress(FieldAxisPosition, 0)
	assert.Equal(t, modbus.KindArgumentInvalid, modbus.KindOf(err))
	_, err = m.ResolveAxisAddress(FieldAxisPosition, 7)
	assert.Equal(t, modbus.KindArgumentInvalid, modbus.KindOf(err))
	_, err = m.ResolveAxisAddress(FieldBusy, 1)
	assert.Equal(t, modbus.KindArgumentInvalid, modbus.KindOf(err), "is_busy is not per axis")
}

func TestDefaultCollisions(t *testing.T) {
	collisions := DefaultRegisterMap().Collisions()
	require.Len(t, collisions, 2)

	var pairs [][2]string
	for _, c := range collisions {
		pairs = append(pairs, [2]string{c.A.Name, c.B.Name})
	}
	assert.ElementsMatch(t, [][2]string{
		{"save_param", "target_positions"},
		{"uart_config", "target_positions"},
	}, pairs)
}

func TestWithOverrides(t *testing.T) {
	base := DefaultRegisterMap()
	m, err := base.WithOverrides(map[string]uint16{"target_positions": 0x0310})
	require.NoError(t, err)

	a, err := m.Address(FieldTargetPositions)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0310), a)
	assert.Empty(t, m.Collisions())

	a, err = base.Address(FieldTargetPositions)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0300), a, "base map is unchanged")

	_, err = base.WithOverrides(map[string]uint16{"no_such_register": 1})
	assert.Equal(t, modbus.KindArgumentInvalid, modbus.KindOf(err))
}

func TestFieldNames(t *testing.T) {
	assert.Equal(t, "history_faults", FieldHistoryFaults.String())
	assert.Equal(t, "Field(99)", Field(99).String())
}
