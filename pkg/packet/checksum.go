package packet

import "github.com/snksoft/crc"

// cksum is CRC-32/CKSUM: initial value 0, no bit reflection, final xor 0xFFFFFFFF.
var cksum = crc.NewTable(&crc.Parameters{
	Width:      32,
	Polynomial: 0x04C11DB7,
	Init:       0,
	ReflectIn:  false,
	ReflectOut: false,
	FinalXor:   0xFFFFFFFF,
})

// Checksum computes CRC-32/CKSUM of b. The frame trailer carries it big-endian.
func Checksum(b []byte) uint32 {
	return uint32(cksum.CalculateCRC(b))
}
