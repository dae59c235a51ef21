package packet

import (
	"encoding/binary"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/rlink/pkg/ethtype"
)

var (
	dstMAC = net.HardwareAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}
	srcMAC = net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
)

// buildFrame returns a 60-byte padded IPv4 frame with payload, plus a valid trailer.
func buildFrame(payload []byte) []byte {
	b := make([]byte, 0, 64)
	b = append(b, dstMAC...)
	b = append(b, srcMAC...)
	b = binary.BigEndian.AppendUint16(b, 0x0800)
	b = append(b, payload...)
	for len(b) < 60 {
		b = append(b, 0)
	}
	return binary.BigEndian.AppendUint32(b, Checksum(b))
}

func newRaw(data []byte) *RawPacket {
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0).UTC(), CaptureLength: len(data), Length: len(data)}
	return NewRaw(ci, data, srcMAC)
}

func TestChecksumCheckValue(t *testing.T) {
	assert.Equal(t, uint32(0x765E7680), Checksum([]byte("123456789")))
	assert.Equal(t, uint32(0xFFFFFFFF), Checksum(nil))
}

func TestParseEthTooSmall(t *testing.T) {
	for _, n := range []int{0, 1, 14, 60, 63} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i)
		}
		orig := append([]byte(nil), data...)
		raw := newRaw(data)

		eth, err := raw.ParseEth(false)
		require.Error(t, err)
		assert.Nil(t, eth)
		assert.True(t, errors.Is(err, ErrFrameTooSmall))

		var perr *ParseError
		require.True(t, errors.As(err, &perr))
		assert.Same(t, raw, perr.Packet)
		assert.Equal(t, orig, perr.Packet.Data())
	}
}

func TestParseEthChecksum(t *testing.T) {
	data := buildFrame([]byte{0xAA})
	eth, err := newRaw(data).ParseEth(true)
	require.NoError(t, err)
	assert.Equal(t, 64, eth.Len())

	data[len(data)-1] ^= 0x01
	_, err = newRaw(data).ParseEth(true)
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	// without verification the corrupted trailer is accepted
	_, err = newRaw(data).ParseEth(false)
	assert.NoError(t, err)
}

func TestParseEthSingleBitCorruption(t *testing.T) {
	payload := []byte("single bit flips must be detected")
	good := buildFrame(payload)

	for i := 0; i < len(good)-TrailerLen; i++ {
		for bit := 0; bit < 8; bit++ {
			data := append([]byte(nil), good...)
			data[i] ^= 1 << bit
			_, err := newRaw(data).ParseEth(true)
			if !errors.Is(err, ErrChecksumMismatch) {
				t.Fatalf("flip of byte %d bit %d not detected", i, bit)
			}
		}
	}
}

func TestEthAccessors(t *testing.T) {
	payload := []byte{0xAA}
	eth, err := newRaw(buildFrame(payload)).ParseEth(true)
	require.NoError(t, err)

	assert.Equal(t, dstMAC, eth.Destination())
	assert.Equal(t, srcMAC, eth.Source())
	assert.Equal(t, ethtype.IPv4, eth.EtherType())
	assert.Equal(t, srcMAC, eth.HardwareAddr())

	// payload spans header end to trailer start, padding included
	assert.Len(t, eth.Payload(), 64-HeaderLen-TrailerLen)
	assert.Equal(t, byte(0xAA), eth.Payload()[0])

	// views share the buffer
	eth.Payload()[0] = 0xBB
	assert.Equal(t, byte(0xBB), eth.Data()[HeaderLen])
}

func TestEthStringLayout(t *testing.T) {
	data := buildFrame([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12})
	eth, err := newRaw(data).ParseEth(false)
	require.NoError(t, err)

	lines := strings.Split(eth.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 7)
	assert.Equal(t, "ts: 1970-01-01 00:00:00.000000, caplen: 64, len: 64", lines[0])
	assert.Equal(t, "mac_address: AA:BB:CC:DD:EE:FF", lines[1])
	assert.Equal(t, "dst_addr: 11:22:33:44:55:66", lines[2])
	assert.Equal(t, "src_addr: AA:BB:CC:DD:EE:FF", lines[3])
	assert.Equal(t, "ether type: 0x0800 (Internet Protocol version 4)", lines[4])
	assert.Equal(t, "00 01 02 03 04 05  06 07 08 09 0A 0B ", lines[5])
	assert.Equal(t, "0C 00 00 00 00 00  00 00 00 00 00 00 ", lines[6])
	// 46 payload bytes: three full lines then ten bytes without a trailing newline
	assert.Equal(t, "00 00 00 00 00 00  00 00 00 00 ", lines[len(lines)-1])
}

func TestRawString(t *testing.T) {
	raw := newRaw([]byte{1, 2, 3, 4, 5, 6, 7})
	out := raw.String()
	assert.True(t, strings.HasSuffix(out, "01 02 03 04 05 06  07 "))
	assert.Contains(t, out, "mac_address: AA:BB:CC:DD:EE:FF\n")
}

func TestParseErrorMessage(t *testing.T) {
	_, err := newRaw(make([]byte, 10)).ParseEth(false)
	assert.EqualError(t, err, "parse ethernet frame (10 bytes): rlink: frame too small")
}

func BenchmarkParseEth(b *testing.B) {
	data := buildFrame([]byte("benchmark payload"))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := newRaw(data).ParseEth(true); err != nil {
			b.Fatal(err)
		}
	}
}
