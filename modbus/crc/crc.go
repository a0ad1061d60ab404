// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package crc

const (
	initialValue = 0xFFFF
	polynomial   = 0xA001 // reversed 0x8005
)

var table [256]uint16

func init() {
	for i := range table {
		v := uint16(i)
		for j := 0; j < 8; j++ {
			if v&1 != 0 {
				v = v>>1 ^ polynomial
			} else {
				v >>= 1
			}
		}
		table[i] = v
	}
}

// CRC is the Modbus CRC-16 accumulator.
type CRC struct {
	value uint16
}

func (crc *CRC) Reset() *CRC {
	crc.value = initialValue
	return crc
}

func (crc *CRC) PushByte(b byte) *CRC {
	crc.value = crc.value>>8 ^ table[byte(crc.value)^b]
	return crc
}

func (crc *CRC) PushBytes(bs []byte) *CRC {
	for _, b := range bs {
		crc.PushByte(b)
	}
	return crc
}

func (crc *CRC) Value() uint16 {
	return crc.value
}

// Checksum returns the CRC-16 of b.
func Checksum(b []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(b).Value()
}

// Append appends the checksum of frame to it, low byte first.
func Append(frame []byte) []byte {
	sum := Checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

// Valid reports whether the trailing two bytes of frame hold the checksum
// of the bytes before them. Frames with nothing in front of the checksum
// are never valid.
func Valid(frame []byte) bool {
	n := len(frame)
	if n < 3 {
		return false
	}
	received := uint16(frame[n-1])<<8 | uint16(frame[n-2])
	return received == Checksum(frame[:n-2])
}
