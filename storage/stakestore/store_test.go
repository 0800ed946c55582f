package stakestore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakepool/crypto"
	"stakepool/native/stakepool"
	"stakepool/storage"
)

func sampleState() (*stakepool.Pool, *stakepool.StakerAccount) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := &stakepool.Pool{
		ID:                stakepool.PoolAddress("store-test"),
		Custody:           stakepool.CustodyAddress("store-test"),
		Initializer:       crypto.DeriveAddressString("store-test", "init"),
		TotalRewardBudget: 1_000_000,
		DistributedReward: 103,
		TotalStaked:       200,
		Rate:              stakepool.Rate{Numerator: 1, Denominator: 2_592_000},
		ActiveStakers:     1,
		InitializedAt:     at,
	}
	staker := &stakepool.StakerAccount{
		Owner:            crypto.DeriveAddressString("store-test", "alice"),
		AmountStaked:     200,
		StakeStartedAt:   at.Add(time.Hour),
		LockPeriod:       30 * 24 * time.Hour,
		HasPremiumAccess: false,
		Nonce:            3,
		TotalClaimed:     103,
	}
	return pool, staker
}

func TestLoadEmpty(t *testing.T) {
	st, err := New(storage.NewMemDB()).Load()
	require.NoError(t, err)
	require.Nil(t, st.Pool)
	require.Empty(t, st.Stakers)
}

func TestCommitAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	db, err := storage.NewLevelDB(path)
	require.NoError(t, err)

	pool, staker := sampleState()
	store := New(db)
	receipt := &Receipt{ID: "r-1", Operation: stakepool.OpStake, Account: staker.Owner, Amount: 200, LockPeriod: staker.LockPeriod, At: staker.StakeStartedAt}
	require.NoError(t, store.Commit(pool, staker, receipt))
	require.Equal(t, uint64(1), receipt.Seq)
	require.NoError(t, db.Close())

	db, err = storage.NewLevelDB(path)
	require.NoError(t, err)
	defer db.Close()
	store = New(db)

	st, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, pool, st.Pool)
	got, ok := st.Staker(staker.Owner)
	require.True(t, ok)
	require.Equal(t, staker, got)

	receipts, err := store.Receipts(0, 0)
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	require.Equal(t, *receipt, receipts[0])
}

func TestReceiptsPaging(t *testing.T) {
	store := New(storage.NewMemDB())
	owner := crypto.DeriveAddressString("store-test", "bob")
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Commit(nil, nil, &Receipt{ID: "r", Operation: stakepool.OpUnstake, Account: owner, Reward: uint64(i)}))
	}
	last, err := store.LastReceiptSeq()
	require.NoError(t, err)
	require.Equal(t, uint64(5), last)

	page, err := store.Receipts(2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, uint64(2), page[0].Seq)
	require.Equal(t, uint64(3), page[1].Seq)
	require.Equal(t, uint64(2), page[1].Reward)
}

func TestCommitNothingIsNoop(t *testing.T) {
	store := New(storage.NewMemDB())
	require.NoError(t, store.Commit(nil, nil, nil))
	last, err := store.LastReceiptSeq()
	require.NoError(t, err)
	require.Zero(t, last)
}

func TestGenesisMarker(t *testing.T) {
	store := New(storage.NewMemDB())
	applied, err := store.GenesisApplied()
	require.NoError(t, err)
	require.False(t, applied)
	require.NoError(t, store.MarkGenesisApplied(time.Now()))
	applied, err = store.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)
}
