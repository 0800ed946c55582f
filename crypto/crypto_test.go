package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestAddressBech32RoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.Address()
	encoded := addr.String()
	if encoded[:4] != "stk1" {
		t.Fatalf("unexpected prefix in %s", encoded)
	}
	parsed, err := ParseAddress(encoded)
	if err != nil {
		t.Fatalf("parse address: %v", err)
	}
	if parsed != addr {
		t.Fatalf("round trip mismatch: got %s want %s", parsed, addr)
	}
	fromHex, err := ParseAddress(addr.Hex())
	if err != nil {
		t.Fatalf("parse hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestParseAddressRejectsForeignPrefix(t *testing.T) {
	addr := DeriveAddressString("test", "a")
	if _, err := ParseAddress(addr.Encode("nope")); err == nil {
		t.Fatalf("expected prefix error")
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected length error")
	}
	if _, err := ParseAddress("  "); err == nil {
		t.Fatalf("expected empty error")
	}
}

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddressString("stakepool", "pool")
	b := DeriveAddressString("stakepool", "pool")
	if a != b {
		t.Fatalf("derivation not deterministic")
	}
	if a.IsZero() {
		t.Fatalf("derived zero address")
	}
	if DeriveAddressString("other", "pool") == a {
		t.Fatalf("namespace did not separate identities")
	}
	if DeriveAddressString("stakepool", "custody") == a {
		t.Fatalf("seed did not separate identities")
	}
	if DeriveAddressString("stakepool", "ab", "c") == DeriveAddressString("stakepool", "a", "bc") {
		t.Fatalf("seed boundaries are ambiguous")
	}
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := Keccak256([]byte("payload"))
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	recovered, err := RecoverAddress(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != key.Address() {
		t.Fatalf("recovered %s want %s", recovered, key.Address())
	}
	other := Keccak256([]byte("other"))
	recovered, err = RecoverAddress(other, sig)
	if err == nil && recovered == key.Address() {
		t.Fatalf("signature verified against a different digest")
	}
	if _, err := key.Sign([]byte("short")); err == nil {
		t.Fatalf("expected digest length error")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "staker.json")
	if err := SaveToKeystore(path, key, "secret", WithScrypt(LightScrypt)); err != nil {
		t.Fatalf("save: %v", err)
	}
	params, err := KeystoreScrypt(path)
	if err != nil {
		t.Fatalf("scrypt params: %v", err)
	}
	if params != LightScrypt {
		t.Fatalf("expected light scrypt params, got %+v", params)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected keystore mode %v", info.Mode().Perm())
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(loaded.Bytes(), key.Bytes()) {
		t.Fatalf("loaded key differs")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase error")
	}
}

func TestKeystoreDefaultsToStandardScrypt(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "operator.json")
	if err := SaveToKeystore(path, key, "secret"); err != nil {
		t.Fatalf("save: %v", err)
	}
	params, err := KeystoreScrypt(path)
	if err != nil {
		t.Fatalf("scrypt params: %v", err)
	}
	if params != StandardScrypt {
		t.Fatalf("expected standard scrypt params, got %+v", params)
	}
	if params.N <= LightScrypt.N {
		t.Fatalf("standard params must be stronger than light")
	}
}
