package protocol

import "encoding/binary"

// The device firmware runs on an STM32 and reuses its hardware CRC unit
// for packet checksums: CRC-32 with polynomial 0x04C11DB7, processed one
// little-endian 32-bit word at a time, no final xor, no reflection.
// The host has to reproduce it bit-exactly in software.

const crcPolynomial = 0x04C11DB7

// CRCWord folds one data word into the accumulator.
func CRCWord(crc uint32, data uint32) uint32 {
	crc ^= data
	for i := 0; i < 32; i++ {
		if crc&0x80000000 != 0 {
			crc = (crc << 1) ^ crcPolynomial
		} else {
			crc <<= 1
		}
	}
	return crc
}

// CRC computes the checksum of data, starting from 0xFFFFFFFF.
// len(data) must be a multiple of 4; callers pad with zero bytes.
func CRC(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for i := 0; i+4 <= len(data); i += 4 {
		crc = CRCWord(crc, binary.LittleEndian.Uint32(data[i:]))
	}
	return crc
}
