package afpacket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingLayout(t *testing.T) {
	tests := []struct {
		name     string
		ringMB   int
		snapLen  int
		pageSize int
	}{
		{"jumbo snap", 8, 65535, 4096},
		{"ethernet snap", 8, 1600, 4096},
		{"small ring", 1, 1514, 4096},
		{"large pages", 64, 9000, 65536},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frameSize, blockSize, numBlocks, err := ringLayout(tt.ringMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.Zero(t, frameSize%16, "frame size must be TPACKET aligned")
			assert.GreaterOrEqual(t, frameSize, tt.snapLen)
			assert.Zero(t, blockSize%tt.pageSize, "block size must be page aligned")
			assert.Zero(t, blockSize%frameSize, "block size must hold whole frames")
			assert.GreaterOrEqual(t, numBlocks, 1)
		})
	}
}

func TestRingLayoutInvalid(t *testing.T) {
	_, _, _, err := ringLayout(0, 1500, 4096)
	assert.Error(t, err)
	_, _, _, err = ringLayout(8, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = ringLayout(8, 1500, 1000)
	assert.Error(t, err)
}

func TestLCM(t *testing.T) {
	assert.Equal(t, 12, lcm(4, 6))
	assert.Equal(t, 0, lcm(0, 6))
	assert.Equal(t, 4096, lcm(4096, 16))
}
