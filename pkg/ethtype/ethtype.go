// Package ethtype implements the EtherType codec.
package ethtype

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/gopacket/layers"
)

// MaxLength is the largest EtherType value interpreted as an IEEE 802.3 payload length.
const MaxLength = 1500

var (
	ErrNotLength = errors.New("rlink: value exceeds IEEE 802.3 length range")
	ErrUnknown   = errors.New("rlink: unknown ether type")
)

// Kind classifies an EtherType value.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindLength
	KindIPv4
	KindNDP
	KindARP
	KindRARP
	KindIPX
	KindIPv6
	KindEFC
)

// EtherType is the 16-bit protocol identifier of an Ethernet II frame. Values up to
// MaxLength are IEEE 802.3 length fields rather than protocol identifiers.
type EtherType uint16

const (
	IPv4 EtherType = 0x0800
	// NDP is the Neighbor Detection Protocol of the rip routing stack; the number is private.
	NDP  EtherType = 0x1101
	ARP  EtherType = 0x0806
	RARP EtherType = 0x8035
	IPX  EtherType = 0x8137
	IPv6 EtherType = 0x86DD
	EFC  EtherType = 0x8808
)

var known = map[EtherType]Kind{
	IPv4: KindIPv4,
	NDP:  KindNDP,
	ARP:  KindARP,
	RARP: KindRARP,
	IPX:  KindIPX,
	IPv6: KindIPv6,
	EFC:  KindEFC,
}

var names = map[Kind]string{
	KindIPv4: "Internet Protocol version 4",
	KindNDP:  "Neighbor Detection Protocol",
	KindARP:  "Address Resolution Protocol",
	KindRARP: "Reverse Address Resolution Protocol",
	KindIPX:  "Internetwork Packet Exchange",
	KindIPv6: "Internet Protocol version 6",
	KindEFC:  "Ethernet Flow Control",
}

var symbols = map[string]EtherType{
	"ipv4": IPv4,
	"ndp":  NDP,
	"arp":  ARP,
	"rarp": RARP,
	"ipx":  IPX,
	"ipv6": IPv6,
	"efc":  EFC,
}

// Decode maps a wire value to its EtherType. It never fails.
func Decode(v uint16) EtherType {
	return EtherType(v)
}

// Encode maps an EtherType back to its wire value.
func Encode(e EtherType) uint16 {
	return uint16(e)
}

// NewLength builds the IEEE 802.3 length variant for a payload of n bytes.
func NewLength(n int) (EtherType, error) {
	if n < 0 || n > MaxLength {
		return 0, fmt.Errorf("%w: %d", ErrNotLength, n)
	}
	return EtherType(n), nil
}

// Kind reports which variant e belongs to.
func (e EtherType) Kind() Kind {
	if e <= MaxLength {
		return KindLength
	}
	if k, ok := known[e]; ok {
		return k
	}
	return KindUnknown
}

// IsLength reports whether e is an IEEE 802.3 length field.
func (e EtherType) IsLength() bool {
	return e.Kind() == KindLength
}

// Length returns the payload length carried by the length variant.
func (e EtherType) Length() (int, bool) {
	if !e.IsLength() {
		return 0, false
	}
	return int(e), true
}

// Value returns the raw numeric value.
func (e EtherType) Value() uint16 {
	return uint16(e)
}

// LayerType converts e for gopacket serialization.
func (e EtherType) LayerType() layers.EthernetType {
	return layers.EthernetType(e)
}

func (e EtherType) String() string {
	switch k := e.Kind(); k {
	case KindLength:
		return fmt.Sprintf("IEEE 802.3 length field (%d)", uint16(e))
	case KindUnknown:
		return fmt.Sprintf("Unknown EtherType (%d)", uint16(e))
	default:
		return names[k]
	}
}

// Parse accepts a symbolic name (ipv4, arp, ...), a 0x-prefixed hex value or a decimal value.
func Parse(s string) (EtherType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if e, ok := symbols[s]; ok {
		return e, nil
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknown, s)
	}
	return Decode(uint16(v)), nil
}
