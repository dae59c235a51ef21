// Package packet implements the two-stage packet pipeline: a RawPacket as delivered by the
// transport and an EthPacket validated as an Ethernet II frame.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"

	"firestige.xyz/rlink/pkg/ethtype"
)

const (
	// MinFrameSize is the smallest frame accepted on receive, trailer included.
	MinFrameSize = 64
	// HeaderLen is the Ethernet II header length.
	HeaderLen = 14
	// TrailerLen is the checksum trailer length.
	TrailerLen = 4
)

var (
	ErrFrameTooSmall    = errors.New("rlink: frame too small")
	ErrChecksumMismatch = errors.New("rlink: checksum mismatch")
)

// ParseError reports a failed validation and hands the untouched raw packet back to the caller.
type ParseError struct {
	Reason error
	Packet *RawPacket
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse ethernet frame (%d bytes): %v", len(e.Packet.Data()), e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Reason
}

// frame is the record shared by both packet stages.
type frame struct {
	info   gopacket.CaptureInfo
	data   []byte
	hwAddr net.HardwareAddr
}

// Info returns the capture header.
func (f *frame) Info() gopacket.CaptureInfo { return f.info }

// Data returns the whole owned buffer.
func (f *frame) Data() []byte { return f.data }

// HardwareAddr returns the address of the interface the packet was received on.
func (f *frame) HardwareAddr() net.HardwareAddr { return f.hwAddr }

// Len returns the buffer length.
func (f *frame) Len() int { return len(f.data) }

// RawPacket is exactly what the transport delivered, stamped with the receiving interface address.
type RawPacket struct {
	frame
}

// NewRaw takes ownership of data; the caller must not modify it afterwards.
func NewRaw(ci gopacket.CaptureInfo, data []byte, hwAddr net.HardwareAddr) *RawPacket {
	return &RawPacket{frame{info: ci, data: data, hwAddr: hwAddr}}
}

// ParseEth validates the packet as an Ethernet II frame. On success the returned EthPacket
// shares the buffer and p must no longer be used. On failure the error is a *ParseError
// carrying p unchanged.
func (p *RawPacket) ParseEth(verifyChecksum bool) (*EthPacket, error) {
	n := len(p.data)
	if n < MinFrameSize {
		return nil, &ParseError{Reason: ErrFrameTooSmall, Packet: p}
	}
	if verifyChecksum {
		want := binary.BigEndian.Uint32(p.data[n-TrailerLen:])
		if Checksum(p.data[:n-TrailerLen]) != want {
			return nil, &ParseError{Reason: ErrChecksumMismatch, Packet: p}
		}
	}
	return &EthPacket{p.frame}, nil
}

func (p *RawPacket) String() string {
	var b strings.Builder
	writeMeta(&b, &p.frame)
	hexDump(&b, p.data)
	return b.String()
}

// EthPacket is a validated Ethernet II frame. Accessors are views into the owned buffer.
type EthPacket struct {
	frame
}

// Destination returns bytes [0:6).
func (p *EthPacket) Destination() net.HardwareAddr {
	return net.HardwareAddr(p.data[0:6:6])
}

// Source returns bytes [6:12).
func (p *EthPacket) Source() net.HardwareAddr {
	return net.HardwareAddr(p.data[6:12:12])
}

// EtherType decodes bytes [12:14).
func (p *EthPacket) EtherType() ethtype.EtherType {
	return ethtype.Decode(binary.BigEndian.Uint16(p.data[12:HeaderLen]))
}

// Payload returns the bytes between the header and the checksum trailer. The trailer is
// excluded whether or not it was verified.
func (p *EthPacket) Payload() []byte {
	return p.data[HeaderLen : len(p.data)-TrailerLen]
}

func (p *EthPacket) String() string {
	var b strings.Builder
	writeMeta(&b, &p.frame)
	fmt.Fprintf(&b, "dst_addr: %s\n", FormatAddr(p.Destination()))
	fmt.Fprintf(&b, "src_addr: %s\n", FormatAddr(p.Source()))
	et := p.EtherType()
	fmt.Fprintf(&b, "ether type: 0x%04X (%s)\n", ethtype.Encode(et), et)
	hexDump(&b, p.Payload())
	return b.String()
}

// FormatAddr renders a hardware address as upper-case colon separated hex.
func FormatAddr(addr net.HardwareAddr) string {
	parts := make([]string, len(addr))
	for i, v := range addr {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

func writeMeta(b *strings.Builder, f *frame) {
	fmt.Fprintf(b, "ts: %s, caplen: %d, len: %d\n",
		f.info.Timestamp.Format("2006-01-02 15:04:05.000000"), f.info.CaptureLength, f.info.Length)
	fmt.Fprintf(b, "mac_address: %s\n", FormatAddr(f.hwAddr))
}

// hexDump writes 12 bytes per line with a gap after the sixth.
func hexDump(b *strings.Builder, data []byte) {
	for i, v := range data {
		fmt.Fprintf(b, "%02X ", v)
		switch i % 12 {
		case 5:
			b.WriteByte(' ')
		case 11:
			b.WriteByte('\n')
		}
	}
}
