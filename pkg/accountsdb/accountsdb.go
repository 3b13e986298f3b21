// Package accountsdb implements the fork-aware accounts store of a
// replicated state machine. Every account is backed by one VersionedAccount
// that tracks its per-fork inflight updates next to the last finalized value;
// the DB keeps those entries in a concurrent map so that executors replaying
// different forks can read and write disjoint accounts in parallel.
//
// A fork is identified by its ancestor chain, the ordered slots from genesis
// to the caller's tip. Writes land in the tip slot's inflight update; when a
// fork is rooted, Finalize promotes its updates to the finalized baseline and
// discards the updates of losing siblings.
package accountsdb

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/metaproph3t/smolchain/internal/logging"
)

// ErrLocked is returned by Acquire when any account in the requested working
// set is already held incompatibly. The caller retries or backs off; no locks
// are held across this error.
var ErrLocked = errors.New("one or more accounts are locked")

var log = logging.Named("accountsdb")

// DB is the process-wide accounts store. It is safe for concurrent use and is
// shared by reference across fork executors.
type DB struct {
	finalizedSlot atomic.Uint64
	accounts      sync.Map // AccountID -> *VersionedAccount
}

// Genesis creates an empty store with account 0 seeded as the treasury
// holding the genesis supply at slot 0.
func Genesis() *DB {
	db := &DB{}
	db.accounts.Store(AccountID(0), &VersionedAccount{
		finalized: &Account{Balance: GenesisSupply},
	})
	return db
}

// FinalizedSlot returns the most recently finalized slot.
func (db *DB) FinalizedSlot() Slot {
	return db.finalizedSlot.Load()
}

// ensure returns the entry for id, inserting a fresh empty one if absent.
// LoadOrStore keeps a racing insert from clobbering an entry another caller
// just created.
func (db *DB) ensure(id AccountID) *VersionedAccount {
	if v, ok := db.accounts.Load(id); ok {
		return v.(*VersionedAccount)
	}
	v, loaded := db.accounts.LoadOrStore(id, &VersionedAccount{})
	if !loaded {
		accountsCreated.Inc()
	}
	return v.(*VersionedAccount)
}

// GetVersioned returns a shared handle on the entry for id, or false if the
// account has never been referenced. The lock is held until Release.
func (db *DB) GetVersioned(id AccountID) (*SharedHandle, bool) {
	v, ok := db.accounts.Load(id)
	if !ok {
		return nil, false
	}
	entry := v.(*VersionedAccount)
	entry.mu.RLock()
	return &SharedHandle{id: id, entry: entry}, true
}

// Acquire locks a transaction's working set: shared handles for readIDs,
// exclusive handles for writeIDs. Missing entries are created empty first.
// Acquisition is non-blocking and all-or-nothing; if any entry is held
// incompatibly, every lock taken so far is released and ErrLocked is
// returned. An id listed on both sides is locked once, exclusively.
func (db *DB) Acquire(readIDs, writeIDs []AccountID) ([]*SharedHandle, []*ExclusiveHandle, error) {
	writeSet := make(map[AccountID]struct{}, len(writeIDs))
	for _, id := range writeIDs {
		writeSet[id] = struct{}{}
	}

	for _, id := range readIDs {
		db.ensure(id)
	}
	for _, id := range writeIDs {
		db.ensure(id)
	}

	shared := make([]*SharedHandle, 0, len(readIDs))
	exclusive := make([]*ExclusiveHandle, 0, len(writeIDs))

	release := func() {
		for _, h := range shared {
			h.Release()
		}
		for _, h := range exclusive {
			h.Release()
		}
	}

	for _, id := range readIDs {
		if _, dup := writeSet[id]; dup {
			continue
		}
		entry := db.ensure(id)
		if !entry.mu.TryRLock() {
			release()
			acquireConflicts.Inc()
			return nil, nil, ErrLocked
		}
		shared = append(shared, &SharedHandle{id: id, entry: entry})
	}

	locked := make(map[AccountID]struct{}, len(writeIDs))
	for _, id := range writeIDs {
		if _, dup := locked[id]; dup {
			continue
		}
		locked[id] = struct{}{}
		entry := db.ensure(id)
		if !entry.mu.TryLock() {
			release()
			acquireConflicts.Inc()
			return nil, nil, ErrLocked
		}
		exclusive = append(exclusive, &ExclusiveHandle{id: id, entry: entry})
	}

	return shared, exclusive, nil
}

// Finalize promotes the fork described by ancestors, whose tip becomes the
// new finalized slot, and prunes the updates of losing siblings. A tip at or
// below the current finalized slot is a stale call and a no-op.
//
// Entries are finalized one at a time under their own lock; the store is
// never frozen as a whole. An executor that collides with the sweep on a
// single entry sees ErrLocked from Acquire and retries.
func (db *DB) Finalize(ancestors []Slot) {
	tip := tipSlot(ancestors)
	if tip <= db.finalizedSlot.Load() {
		return
	}

	var promoted, pruned int
	db.accounts.Range(func(_, v any) bool {
		entry := v.(*VersionedAccount)
		entry.mu.Lock()
		p, d := entry.finalizeUpTo(ancestors, tip)
		entry.mu.Unlock()
		promoted += p
		pruned += d
		return true
	})

	db.finalizedSlot.Store(tip)
	finalizedSlotGauge.Set(float64(tip))
	updatesPromoted.Add(float64(promoted))
	updatesPruned.Add(float64(pruned))
	log.Infow("finalized fork", "slot", tip, "promoted", promoted, "pruned", pruned)
}
