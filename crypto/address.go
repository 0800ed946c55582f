package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressLength is the size in bytes of every account identity.
const AddressLength = 20

// AddressPrefix defines the human-readable part used when rendering addresses.
type AddressPrefix string

const (
	// StakePrefix is the default prefix for participant and pool addresses.
	StakePrefix AddressPrefix = "stk"
)

var errAddressLength = fmt.Errorf("crypto: address must be %d bytes", AddressLength)

// Address is an opaque, stable 20-byte account identity.
type Address [AddressLength]byte

// BytesToAddress copies b into an Address. It fails when b has the wrong length.
func BytesToAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != AddressLength {
		return addr, errAddressLength
	}
	copy(addr[:], b)
	return addr, nil
}

// MustBytesToAddress is like BytesToAddress but panics on malformed input.
func MustBytesToAddress(b []byte) Address {
	addr, err := BytesToAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// Bytes returns a copy of the raw address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Hex renders the address as 0x-prefixed hex.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// String renders the address in bech32 form using the default prefix.
func (a Address) String() string {
	return a.Encode(StakePrefix)
}

// Encode renders the address in bech32 form using the supplied prefix.
func (a Address) Encode(prefix AddressPrefix) string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler and accepts both bech32
// and 0x-prefixed hex input.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// DecodeAddress parses a bech32 address and returns its prefix and bytes.
func DecodeAddress(addrStr string) (AddressPrefix, Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return "", Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return "", Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	addr, err := BytesToAddress(conv)
	if err != nil {
		return "", Address{}, err
	}
	return AddressPrefix(prefix), addr, nil
}

// ParseAddress accepts either a bech32 address carrying the stake prefix or a
// 0x-prefixed hex string.
func ParseAddress(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Address{}, errors.New("crypto: address required")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		decoded, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return Address{}, fmt.Errorf("crypto: decode hex address: %w", err)
		}
		return BytesToAddress(decoded)
	}
	prefix, addr, err := DecodeAddress(trimmed)
	if err != nil {
		return Address{}, err
	}
	if prefix != StakePrefix {
		return Address{}, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	return addr, nil
}
