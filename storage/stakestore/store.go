// Package stakestore persists staking pool state and operation receipts as
// RLP records in a storage.Database.
package stakestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"stakepool/crypto"
	"stakepool/native/stakepool"
	"stakepool/storage"
)

var (
	poolKey       = []byte("pool")
	stakerPrefix  = []byte("staker/")
	receiptPrefix = []byte("receipt/")
	receiptSeqKey = []byte("meta/receiptSeq")
	genesisKey    = []byte("meta/genesis")
)

// Receipt records one successful operation.
type Receipt struct {
	Seq        uint64
	ID         string
	Operation  string
	Account    crypto.Address
	Amount     uint64
	Reward     uint64
	Shortfall  uint64
	LockPeriod time.Duration
	At         time.Time
}

type poolRecord struct {
	ID            crypto.Address
	Custody       crypto.Address
	Initializer   crypto.Address
	Budget        uint64
	Distributed   uint64
	TotalStaked   uint64
	RateNum       uint64
	RateDenom     uint64
	ActiveStakers uint64
	InitializedAt uint64
}

type stakerRecord struct {
	Owner        crypto.Address
	Amount       uint64
	StartedAt    uint64
	LockPeriod   uint64
	Accrued      uint64
	Premium      bool
	Nonce        uint64
	TotalClaimed uint64
}

type receiptRecord struct {
	ID         string
	Operation  string
	Account    crypto.Address
	Amount     uint64
	Reward     uint64
	Shortfall  uint64
	LockPeriod uint64
	At         uint64
}

// Store reads and writes staking records.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

// New wraps db.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Load rebuilds the engine state from disk. An empty database yields an
// uninitialized state.
func (s *Store) Load() (*stakepool.State, error) {
	st := stakepool.NewState()

	raw, err := s.db.Get(poolKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("stakestore: load pool: %w", err)
	default:
		var rec poolRecord
		if err := rlp.DecodeBytes(raw, &rec); err != nil {
			return nil, fmt.Errorf("stakestore: decode pool: %w", err)
		}
		st.Pool = &stakepool.Pool{
			ID:                rec.ID,
			Custody:           rec.Custody,
			Initializer:       rec.Initializer,
			TotalRewardBudget: rec.Budget,
			DistributedReward: rec.Distributed,
			TotalStaked:       rec.TotalStaked,
			Rate:              stakepool.Rate{Numerator: rec.RateNum, Denominator: rec.RateDenom},
			ActiveStakers:     rec.ActiveStakers,
			InitializedAt:     fromNanos(rec.InitializedAt),
		}
	}

	var decodeErr error
	err = s.db.Iterate(stakerPrefix, func(key, value []byte) bool {
		var rec stakerRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			decodeErr = fmt.Errorf("stakestore: decode staker %x: %w", key[len(stakerPrefix):], err)
			return false
		}
		st.Stakers[rec.Owner] = &stakepool.StakerAccount{
			Owner:            rec.Owner,
			AmountStaked:     rec.Amount,
			StakeStartedAt:   fromNanos(rec.StartedAt),
			LockPeriod:       time.Duration(rec.LockPeriod),
			AccruedUnclaimed: rec.Accrued,
			HasPremiumAccess: rec.Premium,
			Nonce:            rec.Nonce,
			TotalClaimed:     rec.TotalClaimed,
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("stakestore: iterate stakers: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return st, nil
}

// Commit writes the changed pool and staker records together with receipt in
// a single batch. A nil pool or staker is skipped. The receipt's Seq is
// assigned on success.
func (s *Store) Commit(pool *stakepool.Pool, staker *stakepool.StakerAccount, receipt *Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.db.NewBatch()
	if pool != nil {
		raw, err := rlp.EncodeToBytes(poolRecord{
			ID:            pool.ID,
			Custody:       pool.Custody,
			Initializer:   pool.Initializer,
			Budget:        pool.TotalRewardBudget,
			Distributed:   pool.DistributedReward,
			TotalStaked:   pool.TotalStaked,
			RateNum:       pool.Rate.Numerator,
			RateDenom:     pool.Rate.Denominator,
			ActiveStakers: pool.ActiveStakers,
			InitializedAt: toNanos(pool.InitializedAt),
		})
		if err != nil {
			return fmt.Errorf("stakestore: encode pool: %w", err)
		}
		batch.Put(poolKey, raw)
	}
	if staker != nil {
		raw, err := rlp.EncodeToBytes(stakerRecord{
			Owner:        staker.Owner,
			Amount:       staker.AmountStaked,
			StartedAt:    toNanos(staker.StakeStartedAt),
			LockPeriod:   uint64(staker.LockPeriod),
			Accrued:      staker.AccruedUnclaimed,
			Premium:      staker.HasPremiumAccess,
			Nonce:        staker.Nonce,
			TotalClaimed: staker.TotalClaimed,
		})
		if err != nil {
			return fmt.Errorf("stakestore: encode staker: %w", err)
		}
		batch.Put(stakerKey(staker.Owner), raw)
	}

	var seq uint64
	if receipt != nil {
		last, err := s.lastSeq()
		if err != nil {
			return err
		}
		seq = last + 1
		raw, err := rlp.EncodeToBytes(receiptRecord{
			ID:         receipt.ID,
			Operation:  receipt.Operation,
			Account:    receipt.Account,
			Amount:     receipt.Amount,
			Reward:     receipt.Reward,
			Shortfall:  receipt.Shortfall,
			LockPeriod: uint64(receipt.LockPeriod),
			At:         toNanos(receipt.At),
		})
		if err != nil {
			return fmt.Errorf("stakestore: encode receipt: %w", err)
		}
		batch.Put(receiptKey(seq), raw)
		batch.Put(receiptSeqKey, encodeSeq(seq))
	}

	if batch.Len() == 0 {
		return nil
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("stakestore: commit: %w", err)
	}
	if receipt != nil {
		receipt.Seq = seq
	}
	return nil
}

// Receipts returns up to limit receipts with sequence numbers >= from, in
// order. A non-positive limit returns every remaining receipt.
func (s *Store) Receipts(from uint64, limit int) ([]Receipt, error) {
	var (
		out       []Receipt
		decodeErr error
	)
	err := s.db.Iterate(receiptPrefix, func(key, value []byte) bool {
		seq := binary.BigEndian.Uint64(key[len(receiptPrefix):])
		if seq < from {
			return true
		}
		var rec receiptRecord
		if err := rlp.DecodeBytes(value, &rec); err != nil {
			decodeErr = fmt.Errorf("stakestore: decode receipt %d: %w", seq, err)
			return false
		}
		out = append(out, Receipt{
			Seq:        seq,
			ID:         rec.ID,
			Operation:  rec.Operation,
			Account:    rec.Account,
			Amount:     rec.Amount,
			Reward:     rec.Reward,
			Shortfall:  rec.Shortfall,
			LockPeriod: time.Duration(rec.LockPeriod),
			At:         fromNanos(rec.At),
		})
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("stakestore: iterate receipts: %w", err)
	}
	return out, decodeErr
}

// LastReceiptSeq returns the sequence of the newest receipt, or zero.
func (s *Store) LastReceiptSeq() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq()
}

// GenesisApplied reports whether MarkGenesisApplied has run against this
// database. A persistent ledger must only be funded from genesis once.
func (s *Store) GenesisApplied() (bool, error) {
	ok, err := s.db.Has(genesisKey)
	if err != nil {
		return false, fmt.Errorf("stakestore: read genesis marker: %w", err)
	}
	return ok, nil
}

// MarkGenesisApplied records that genesis funding happened.
func (s *Store) MarkGenesisApplied(at time.Time) error {
	if err := s.db.Put(genesisKey, encodeSeq(toNanos(at))); err != nil {
		return fmt.Errorf("stakestore: write genesis marker: %w", err)
	}
	return nil
}

func (s *Store) lastSeq() (uint64, error) {
	raw, err := s.db.Get(receiptSeqKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stakestore: load receipt sequence: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("stakestore: corrupt receipt sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func stakerKey(owner crypto.Address) []byte {
	return append(append([]byte{}, stakerPrefix...), owner.Bytes()...)
}

func receiptKey(seq uint64) []byte {
	return append(append([]byte{}, receiptPrefix...), encodeSeq(seq)...)
}

func encodeSeq(seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	return buf[:]
}

func toNanos(t time.Time) uint64 {
	if t.IsZero() || t.UnixNano() < 0 {
		return 0
	}
	return uint64(t.UnixNano())
}

func fromNanos(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(v)).UTC()
}
