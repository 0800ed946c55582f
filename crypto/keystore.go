package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// ScryptParams selects the key-derivation cost of a keystore file.
type ScryptParams struct {
	N int
	P int
}

var (
	// StandardScrypt is the go-ethereum default and what operator keys get.
	StandardScrypt = ScryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightScrypt trades KDF strength for speed. Only tests should use it.
	LightScrypt = ScryptParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

// KeystoreOption adjusts how SaveToKeystore encrypts a key.
type KeystoreOption func(*ScryptParams)

// WithScrypt overrides the scrypt parameters.
func WithScrypt(params ScryptParams) KeystoreOption {
	return func(p *ScryptParams) {
		if params.N > 0 && params.P > 0 {
			*p = params
		}
	}
}

// SaveToKeystore encrypts key into an Ethereum v3 keystore file at path. The
// file is written 0600 through a temporary sibling and renamed into place, so
// a crash never leaves a truncated keystore behind.
func SaveToKeystore(path string, key *PrivateKey, passphrase string, opts ...KeystoreOption) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	params := StandardScrypt
	for _, opt := range opts {
		opt(&params)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    ethcrypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}, passphrase, params.N, params.P)
	if err != nil {
		return fmt.Errorf("crypto: encrypt keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(encrypted); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using passphrase.
// The scrypt cost is read from the file itself.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore %s: %w", path, err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreScrypt reports the scrypt parameters recorded in a keystore file.
func KeystoreScrypt(path string) (ScryptParams, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ScryptParams{}, err
	}
	var doc struct {
		Crypto struct {
			KDF       string `json:"kdf"`
			KDFParams struct {
				N int `json:"n"`
				P int `json:"p"`
			} `json:"kdfparams"`
		} `json:"crypto"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ScryptParams{}, fmt.Errorf("crypto: decode keystore %s: %w", path, err)
	}
	if doc.Crypto.KDF != "scrypt" {
		return ScryptParams{}, fmt.Errorf("crypto: keystore %s uses kdf %q", path, doc.Crypto.KDF)
	}
	return ScryptParams{N: doc.Crypto.KDFParams.N, P: doc.Crypto.KDFParams.P}, nil
}
