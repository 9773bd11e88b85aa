package blehost

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Addr is a 6 byte device address stored little endian, the way it travels
// on the wire. Addr[5] carries the random address sub-type bits.
type Addr [6]byte

// AddrType tags an Addr with its classification. An address keeps its type
// for its whole lifetime.
type AddrType uint8

const (
	AddrTypePublic AddrType = iota
	AddrTypeRandomStatic
	AddrTypeRandomPrivateResolvable
	AddrTypeRandomPrivateNonResolvable
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandomStatic:
		return "random-static"
	case AddrTypeRandomPrivateResolvable:
		return "random-private-resolvable"
	case AddrTypeRandomPrivateNonResolvable:
		return "random-private-non-resolvable"
	default:
		return fmt.Sprintf("addr-type(%d)", uint8(t))
	}
}

// IsRandom reports whether the type is one of the random sub-types.
func (t AddrType) IsRandom() bool {
	return t != AddrTypePublic
}

func (a Addr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a[5], a[4], a[3], a[2], a[1], a[0])
}

// Bytes returns the address in wire (little endian) order.
func (a Addr) Bytes() []byte {
	b := make([]byte, 6)
	copy(b, a[:])
	return b
}

// ParseAddr parses "aa:bb:cc:dd:ee:ff" (or the bare hex form) into an Addr.
func ParseAddr(s string) (Addr, error) {
	var a Addr
	h := strings.Replace(strings.ToLower(s), ":", "", -1)
	b, err := hex.DecodeString(h)
	if err != nil || len(b) != 6 {
		return a, errors.Wrapf(ErrInvalidParameter, "bad address %q", s)
	}
	for i := 0; i < 6; i++ {
		a[i] = b[5-i]
	}
	return a, nil
}

// prandValid checks the randomness requirement on the random part of a
// random address: at least one bit set and one bit cleared, excluding the
// sub-type bits. Two leading identical bytes are tolerated, an all-zero or
// all-one remainder is not. [Vol 6, Part B, 1.3.2]
func prandValid(b []byte) bool {
	for i := 0; i < len(b)-1; i++ {
		if b[i] != 0x00 && b[i] != 0xFF {
			return true
		}
		if i > 0 && b[i] != b[i-1] {
			return true
		}
	}

	last := len(b) - 1
	if (b[last]&0x3F) == 0x3F && b[last-1] == 0xFF {
		return false
	}
	if (b[last]&0x3F) == 0x00 && b[last-1] == 0x00 {
		return false
	}

	return true
}

// IsRandomStaticAddr reports whether a is a valid random static address.
func IsRandomStaticAddr(a Addr) bool {
	if a[5]&0xC0 != 0xC0 {
		return false
	}
	return prandValid(a[:])
}

// IsRandomPrivateNonResolvableAddr reports whether a is a valid
// non-resolvable private address.
func IsRandomPrivateNonResolvableAddr(a Addr) bool {
	if a[5]&0xC0 != 0x00 {
		return false
	}
	return prandValid(a[:])
}

// IsRandomPrivateResolvableAddr reports whether a is a valid resolvable
// private address. The randomness check only covers the prand bytes, the
// hash part is unconstrained.
func IsRandomPrivateResolvableAddr(a Addr) bool {
	if a[5]&0xC0 != 0x40 {
		return false
	}
	return prandValid(a[3:])
}

// IsRandomAddr reports whether a is valid as any random address sub-type.
func IsRandomAddr(a Addr) bool {
	return IsRandomPrivateResolvableAddr(a) ||
		IsRandomPrivateNonResolvableAddr(a) ||
		IsRandomStaticAddr(a)
}

// ClassifyRandomAddr derives the random address sub-type from the two most
// significant bits of a and validates the randomness requirement. It fails
// with ErrInvalidParameter for the reserved bit pattern or an address whose
// random part is degenerate.
func ClassifyRandomAddr(a Addr) (AddrType, error) {
	switch a[5] >> 6 {
	case 0x03:
		if !prandValid(a[:]) {
			return 0, errors.Wrap(ErrInvalidParameter, "degenerate static address")
		}
		return AddrTypeRandomStatic, nil
	case 0x00:
		if !prandValid(a[:]) {
			return 0, errors.Wrap(ErrInvalidParameter, "degenerate non-resolvable address")
		}
		return AddrTypeRandomPrivateNonResolvable, nil
	case 0x01:
		if !prandValid(a[3:]) {
			return 0, errors.Wrap(ErrInvalidParameter, "degenerate resolvable address")
		}
		return AddrTypeRandomPrivateResolvable, nil
	default:
		return 0, errors.Wrap(ErrInvalidParameter, "reserved random address type")
	}
}
