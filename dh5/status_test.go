// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package dh5

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMask(t *testing.T) {
	m, err := MaskOf(1, 3, 6)
	require.NoError(t, err)
	assert.Equal(t, AxisMask(0b100101), m)
	assert.True(t, m.Has(3))
	assert.False(t, m.Has(2))
	assert.False(t, m.Has(7))

	_, err = MaskOf(0)
	assert.Error(t, err)

	v, err := EncodeBackToZeroMask(AllAxes)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b111111), v)
	_, err = EncodeBackToZeroMask(0b1000000)
	assert.Error(t, err)
}

func TestEncodeInitialize(t *testing.T) {
	v, err := EncodeInitializeAll(InitModeClose)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b010101010101), v)

	v, err = EncodeInitializeAll(InitModeFindStroke)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0FFF), v)

	v, err = EncodeInitializeAxis(6, InitModeOpen)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b10<<10), v)

	_, err = EncodeInitializeAll(0)
	assert.Error(t, err)
	_, err = EncodeInitializeAxis(1, 4)
	assert.Error(t, err)
}

func TestParseInitMode(t *testing.T) {
	for in, want := range map[string]InitMode{
		"close": InitModeClose, "1": InitModeClose,
		"open": InitModeOpen, "2": InitModeOpen,
		"find-stroke": InitModeFindStroke, "3": InitModeFindStroke,
	} {
		got, err := ParseInitMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseInitMode("half")
	assert.Error(t, err)
}

func TestInitializationStatusRoundTrip(t *testing.T) {
	for raw := uint16(0); raw < 1<<12; raw++ {
		states := DecodeInitializationStatus(raw)
		require.Len(t, states, AxisCount)

		// 0b00 and 0b11 both read as not initialized and encode as 0b00.
		want := raw
		for _, a := range Axes {
			if raw>>slotShift(a)&slotMask == 0b11 {
				want &^= slotMask << slotShift(a)
			}
		}
		assert.Equal(t, want, EncodeInitializationStatus(states), "raw 0x%03X", raw)
	}
}

func TestDecodeFaultList(t *testing.T) {
	assert.Equal(t, []uint16{3, 9}, DecodeFaultList([]uint16{0, 3, 0, 9}))
	assert.Empty(t, DecodeFaultList(make([]uint16, HistoryFaultsLength)))
}

func TestParityCode(t *testing.T) {
	for in, want := range map[string]uint16{"N": ParityNone, "e": ParityEven, "O": ParityOdd} {
		got, err := ParityCode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParityCode("M")
	assert.Error(t, err)
}

func TestAxisText(t *testing.T) {
	b, err := Axis(4).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "F4", string(b))
	assert.Equal(t, "initializing", Initializing.String())
}
