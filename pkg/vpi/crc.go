// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package vpi

// CRC8Update folds one byte into a running CRC-8 (polynomial 0x07)
func CRC8Update(crc, b byte) byte {
	crc ^= b
	for i := 0; i < 8; i++ {
		if crc&0x80 != 0 {
			crc = (crc << 1) ^ crcPolynomial
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC8 computes the CRC-8 of data starting from seed.
// Chaining holds: CRC8(CRC8(seed, a), b) == CRC8(seed, a++b).
func CRC8(seed byte, data []byte) byte {
	crc := seed
	for _, b := range data {
		crc = CRC8Update(crc, b)
	}
	return crc
}

// CalculateCRC computes the CRC-8 of data with the initial value used by the board
func CalculateCRC(data []byte) byte {
	return CRC8(crcInitial, data)
}
