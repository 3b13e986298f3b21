package accountsdb

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readOn returns the value of id as seen on the given fork.
func readOn(t *testing.T, db *DB, id AccountID, ancestors []Slot) (Account, bool) {
	t.Helper()
	h, ok := db.GetVersioned(id)
	if !ok {
		return Account{}, false
	}
	defer h.Release()
	return h.Get(ancestors)
}

// transferOn applies a raw transfer of amount from one account to another on
// the given fork, going through the acquire/load path.
func transferOn(t *testing.T, db *DB, ancestors []Slot, from, to AccountID, amount uint64) {
	t.Helper()
	_, exclusive, err := db.Acquire(nil, []AccountID{from, to})
	require.NoError(t, err)
	defer func() {
		for _, h := range exclusive {
			h.Release()
		}
	}()

	exclusive[0].Load(ancestors).Balance -= amount
	exclusive[1].Load(ancestors).Balance += amount
}

func TestGenesisVisibility(t *testing.T) {
	db := Genesis()
	assert.Equal(t, Slot(0), db.FinalizedSlot())

	acc, ok := readOn(t, db, 0, []Slot{0})
	require.True(t, ok)
	assert.Equal(t, GenesisSupply, acc.Balance)

	_, ok = db.GetVersioned(1)
	assert.False(t, ok)
}

func TestEnsureIsInsertIfAbsent(t *testing.T) {
	db := Genesis()

	first := db.ensure(7)
	assert.Same(t, first, db.ensure(7))

	// A later ensure must never clobber an entry that already has state.
	_, exclusive, err := db.Acquire(nil, []AccountID{7})
	require.NoError(t, err)
	exclusive[0].Set(Account{Balance: 123}, 1)
	exclusive[0].Release()

	db.ensure(7)
	acc, ok := readOn(t, db, 7, []Slot{0, 1})
	require.True(t, ok)
	assert.Equal(t, uint64(123), acc.Balance)
}

func TestEnsureConcurrentFreshID(t *testing.T) {
	db := Genesis()
	const id AccountID = 42

	var wg sync.WaitGroup
	entries := make([]*VersionedAccount, 16)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i] = db.ensure(id)
		}(i)
	}
	wg.Wait()

	for _, e := range entries {
		assert.Same(t, entries[0], e)
	}
}

func TestAcquireLockedAndRetry(t *testing.T) {
	db := Genesis()

	_, exclusive, err := db.Acquire(nil, []AccountID{5})
	require.NoError(t, err)

	_, _, err = db.Acquire(nil, []AccountID{5})
	assert.True(t, errors.Is(err, ErrLocked))

	for _, h := range exclusive {
		h.Release()
	}

	_, exclusive, err = db.Acquire(nil, []AccountID{5})
	require.NoError(t, err)
	for _, h := range exclusive {
		h.Release()
	}
}

func TestAcquireSharedReadersCoexist(t *testing.T) {
	db := Genesis()

	sharedA, _, err := db.Acquire([]AccountID{3}, nil)
	require.NoError(t, err)
	sharedB, _, err := db.Acquire([]AccountID{3}, nil)
	require.NoError(t, err)

	// A writer is shut out while readers hold the entry.
	_, _, err = db.Acquire(nil, []AccountID{3})
	assert.True(t, errors.Is(err, ErrLocked))

	sharedA[0].Release()
	sharedB[0].Release()

	_, exclusive, err := db.Acquire(nil, []AccountID{3})
	require.NoError(t, err)
	exclusive[0].Release()
}

func TestAcquireAllOrNothing(t *testing.T) {
	db := Genesis()

	_, held, err := db.Acquire(nil, []AccountID{2})
	require.NoError(t, err)

	// The bulk call fails on account 2 after having locked 1 and 3; both must
	// be released on the way out.
	_, _, err = db.Acquire([]AccountID{1}, []AccountID{3, 2})
	require.True(t, errors.Is(err, ErrLocked))

	_, exclusive, err := db.Acquire(nil, []AccountID{1, 3})
	require.NoError(t, err)
	for _, h := range exclusive {
		h.Release()
	}
	held[0].Release()
}

func TestAcquireCoalescesOverlap(t *testing.T) {
	db := Genesis()

	shared, exclusive, err := db.Acquire([]AccountID{4}, []AccountID{4})
	require.NoError(t, err)
	assert.Len(t, shared, 0)
	require.Len(t, exclusive, 1)

	// The exclusive handle serves the read side too.
	_, ok := exclusive[0].Get([]Slot{0})
	assert.False(t, ok)
	exclusive[0].Release()
}

// The literal fork scenarios: a transfer on slot 0, a child fork extending
// it, a sibling double-spending, and finalization of the sibling.
func TestForkDivergenceAndFinalize(t *testing.T) {
	db := Genesis()

	// Slot 0: move 42 from the treasury to account 1.
	transferOn(t, db, []Slot{0}, 0, 1, 42)

	acc, _ := readOn(t, db, 0, []Slot{0})
	assert.Equal(t, GenesisSupply-42, acc.Balance)
	acc, _ = readOn(t, db, 1, []Slot{0})
	assert.Equal(t, uint64(42), acc.Balance)

	// A child fork at slot 1 sees the parent's writes.
	acc, _ = readOn(t, db, 0, []Slot{0, 1})
	assert.Equal(t, GenesisSupply-42, acc.Balance)
	acc, _ = readOn(t, db, 1, []Slot{0, 1})
	assert.Equal(t, uint64(42), acc.Balance)

	// A sibling at slot 2 diverges with one more transfer.
	transferOn(t, db, []Slot{0, 2}, 0, 1, 1)

	acc, _ = readOn(t, db, 0, []Slot{0, 1})
	assert.Equal(t, GenesisSupply-42, acc.Balance)
	acc, _ = readOn(t, db, 0, []Slot{0, 2})
	assert.Equal(t, GenesisSupply-43, acc.Balance)
	acc, _ = readOn(t, db, 1, []Slot{0, 2})
	assert.Equal(t, uint64(43), acc.Balance)

	// Slot 0 alone still sees the write made on slot 0.
	acc, _ = readOn(t, db, 0, []Slot{0})
	assert.Equal(t, GenesisSupply-42, acc.Balance)

	// Root the sibling fork. Fork [0,1] never wrote, so its reads fall
	// through to the new baseline.
	db.Finalize([]Slot{0, 2})
	assert.Equal(t, Slot(2), db.FinalizedSlot())

	acc, _ = readOn(t, db, 0, []Slot{0, 1})
	assert.Equal(t, GenesisSupply-43, acc.Balance)
	acc, _ = readOn(t, db, 1, []Slot{0, 1})
	assert.Equal(t, uint64(43), acc.Balance)

	// Finalize is idempotent and stale tips are ignored.
	db.Finalize([]Slot{0, 2})
	db.Finalize([]Slot{0})
	assert.Equal(t, Slot(2), db.FinalizedSlot())
	acc, _ = readOn(t, db, 0, []Slot{0, 1})
	assert.Equal(t, GenesisSupply-43, acc.Balance)
}

func TestFinalizeLeavesFutureSlots(t *testing.T) {
	db := Genesis()

	transferOn(t, db, []Slot{0, 2}, 0, 1, 10)
	transferOn(t, db, []Slot{0, 2, 5}, 0, 1, 10)

	db.Finalize([]Slot{0, 2})
	assert.Equal(t, Slot(2), db.FinalizedSlot())

	// The slot-5 update survives and still shadows the new baseline.
	acc, _ := readOn(t, db, 1, []Slot{0, 2, 5})
	assert.Equal(t, uint64(20), acc.Balance)
	acc, _ = readOn(t, db, 1, []Slot{0, 2})
	assert.Equal(t, uint64(10), acc.Balance)

	// No inflight slot at or below the finalized tip remains.
	db.accounts.Range(func(_, v any) bool {
		entry := v.(*VersionedAccount)
		entry.mu.RLock()
		defer entry.mu.RUnlock()
		for _, upd := range entry.inflight {
			assert.Greater(t, upd.slot, Slot(2))
		}
		return true
	})
}

func TestFinalizePanicsOnEmptyAncestors(t *testing.T) {
	db := Genesis()
	require.Panics(t, func() { db.Finalize(nil) })
}

func TestConcurrentDisjointWriters(t *testing.T) {
	db := Genesis()
	const iters = 100

	var wg sync.WaitGroup
	for w := 1; w <= 8; w++ {
		wg.Add(1)
		go func(id AccountID) {
			defer wg.Done()
			for i := 0; i < iters; i++ {
				var exclusive []*ExclusiveHandle
				for {
					var err error
					_, exclusive, err = db.Acquire(nil, []AccountID{id})
					if err == nil {
						break
					}
				}
				exclusive[0].Load([]Slot{0}).Balance++
				exclusive[0].Release()
			}
		}(AccountID(w))
	}
	wg.Wait()

	for w := 1; w <= 8; w++ {
		acc, ok := readOn(t, db, AccountID(w), []Slot{0})
		require.True(t, ok)
		assert.Equal(t, uint64(iters), acc.Balance)
	}
}

func TestConcurrentContendedAcquire(t *testing.T) {
	db := Genesis()

	// Many goroutines all funnel through account 0; every decrement must
	// land exactly once.
	const goroutines = 16
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, exclusive, err := db.Acquire(nil, []AccountID{0})
				if errors.Is(err, ErrLocked) {
					continue
				}
				exclusive[0].Load([]Slot{0}).Balance--
				exclusive[0].Release()
				return
			}
		}()
	}
	wg.Wait()

	acc, _ := readOn(t, db, 0, []Slot{0})
	assert.Equal(t, GenesisSupply-goroutines, acc.Balance)
}
