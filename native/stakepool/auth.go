package stakepool

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/crypto"
)

const authDomain = "stakepool/authorization/v1"

const (
	OpInitialize = "initialize"
	OpStake      = "stake"
	OpUnstake    = "unstakeAndClaim"
)

// Authorization proves that Signer approved one specific operation at the
// given nonce. Tokens are bound to a pool identity.
type Authorization struct {
	Signer    crypto.Address `json:"signer"`
	Nonce     uint64         `json:"nonce"`
	Signature hexutil.Bytes  `json:"signature"`
}

type authPayload struct {
	Domain string
	Pool   []byte
	Op     string
	Signer []byte
	Nonce  uint64
	Params []uint64
}

// Digest returns the 32-byte message an authorization for op signs.
func Digest(pool crypto.Address, op string, signer crypto.Address, nonce uint64, params ...uint64) ([]byte, error) {
	if params == nil {
		params = []uint64{}
	}
	encoded, err := rlp.EncodeToBytes(authPayload{
		Domain: authDomain,
		Pool:   pool.Bytes(),
		Op:     op,
		Signer: signer.Bytes(),
		Nonce:  nonce,
		Params: params,
	})
	if err != nil {
		return nil, fmt.Errorf("stakepool: encode authorization: %w", err)
	}
	return crypto.Keccak256(encoded), nil
}

func sign(key *crypto.PrivateKey, pool crypto.Address, op string, nonce uint64, params ...uint64) (Authorization, error) {
	if key == nil {
		return Authorization{}, fmt.Errorf("stakepool: nil signing key")
	}
	signer := key.Address()
	digest, err := Digest(pool, op, signer, nonce, params...)
	if err != nil {
		return Authorization{}, err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Signer: signer, Nonce: nonce, Signature: sig}, nil
}

// SignInitialize authorizes creation of pool with the given budget.
func SignInitialize(key *crypto.PrivateKey, pool crypto.Address, budget uint64) (Authorization, error) {
	return sign(key, pool, OpInitialize, 0, budget)
}

// SignStake authorizes a stake of amount locked for lockPeriodSeconds.
func SignStake(key *crypto.PrivateKey, pool crypto.Address, nonce, amount, lockPeriodSeconds uint64) (Authorization, error) {
	return sign(key, pool, OpStake, nonce, amount, lockPeriodSeconds)
}

// SignUnstake authorizes withdrawal of the signer's stake and reward.
func SignUnstake(key *crypto.PrivateKey, pool crypto.Address, nonce uint64) (Authorization, error) {
	return sign(key, pool, OpUnstake, nonce)
}

// verify checks that auth was produced by required for op at nonce.
func verify(auth Authorization, pool crypto.Address, op string, required crypto.Address, nonce uint64, params ...uint64) error {
	if auth.Signer != required {
		return fmt.Errorf("signer %s does not match %s", auth.Signer, required)
	}
	if auth.Nonce != nonce {
		return fmt.Errorf("nonce %d, expected %d", auth.Nonce, nonce)
	}
	digest, err := Digest(pool, op, auth.Signer, auth.Nonce, params...)
	if err != nil {
		return err
	}
	recovered, err := crypto.RecoverAddress(digest, auth.Signature)
	if err != nil {
		return err
	}
	if recovered != required {
		return fmt.Errorf("signature recovers to %s", recovered)
	}
	return nil
}
