// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rtrans

// Checksum returns the byte that makes the sum of data plus the checksum
// equal 0xFF (mod 256).
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// VerifyChecksum reports whether the bytes of frame, trailing checksum
// included, sum to 0xFF (mod 256).
func VerifyChecksum(frame []byte) bool {
	var sum byte
	for _, b := range frame {
		sum += b
	}
	return sum == 0xFF
}
