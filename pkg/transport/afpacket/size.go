package afpacket

import (
	"fmt"
)

// ringLayout computes TPACKET_V3 ring dimensions for a capture of snapLen bytes in a ring of
// about ringSizeMB megabytes.
//
// PACKET_MMAP requires:
//  1. frameSize to be a multiple of TPACKET_ALIGNMENT (16 bytes)
//  2. blockSize to be a multiple of the page size
//  3. blockSize to be a multiple of frameSize
func ringLayout(ringSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52
	const minBlockSize = 128 * 1024

	if ringSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ring size must be positive, got %d", ringSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snap length must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("page size must be positive and a multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	frameSize = (tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment * tpacketAlignment

	// any valid block is a multiple of lcm(page, frame); grow small ones towards minBlockSize
	blockSize = lcm(pageSize, frameSize)
	if blockSize < minBlockSize {
		blockSize *= minBlockSize / blockSize
	}

	numBlocks = ringSizeMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return a / gcd(a, b) * b
}
