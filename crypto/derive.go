package crypto

import (
	"strings"

	"lukechampine.com/blake3"
)

// derivationContext separates derived identities from any other use of blake3
// in the process.
const derivationContext = "stakepool address derivation v1"

// DeriveAddress returns a stable identity for the given namespace and seeds.
// The namespace keys a blake3 hash so the same seeds under two namespaces never
// collide; each seed is length-prefixed so ("ab","c") and ("a","bc") differ.
func DeriveAddress(namespace string, seeds ...[]byte) Address {
	key := namespaceKey(namespace)
	h := blake3.New(AddressLength, key[:])
	var lenBuf [4]byte
	for _, seed := range seeds {
		n := uint32(len(seed))
		lenBuf[0] = byte(n >> 24)
		lenBuf[1] = byte(n >> 16)
		lenBuf[2] = byte(n >> 8)
		lenBuf[3] = byte(n)
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(seed)
	}
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// DeriveAddressString is a convenience wrapper for string seeds.
func DeriveAddressString(namespace string, seeds ...string) Address {
	raw := make([][]byte, 0, len(seeds))
	for _, seed := range seeds {
		raw = append(raw, []byte(seed))
	}
	return DeriveAddress(namespace, raw...)
}

func namespaceKey(namespace string) [32]byte {
	var key [32]byte
	blake3.DeriveKey(key[:], derivationContext, []byte(strings.TrimSpace(namespace)))
	return key
}
