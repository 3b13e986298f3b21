package accountsdb

import (
	"fmt"
	"sync"
)

// Slot identifies a point in the fork tree. Slot 0 is genesis.
type Slot = uint64

// AccountID uniquely identifies an account.
type AccountID = uint64

// GenesisSupply is the balance minted into account 0 at genesis.
const GenesisSupply uint64 = 1_000_000

// Account is the value payload stored per account. It is a plain value type
// and is copied freely between forks.
type Account struct {
	Balance uint64 `json:"balance"`
}

type inflightUpdate struct {
	slot    Slot
	account Account
}

// VersionedAccount keeps one finalized value plus a chronologically ordered
// queue of uncommitted per-slot updates. Reads pick the newest update whose
// slot lies on the caller's fork and fall back to the finalized value.
//
// All accessors require the entry lock; callers go through the handles
// returned by DB.Acquire or DB.GetVersioned.
type VersionedAccount struct {
	mu        sync.RWMutex
	finalized *Account
	inflight  []inflightUpdate
}

// get returns the value visible on the fork described by ancestors, or nil if
// the account does not exist on that fork. Lock held by caller.
func (va *VersionedAccount) get(ancestors []Slot) *Account {
	for i := len(va.inflight) - 1; i >= 0; i-- {
		if containsSlot(ancestors, va.inflight[i].slot) {
			return &va.inflight[i].account
		}
	}
	return va.finalized
}

// load returns a mutable working copy for the tip slot of ancestors, creating
// it copy-on-write from the version get would have returned. Repeated loads
// within the same slot hand back the same entry so later transactions in a
// block see earlier edits. Exclusive lock held by caller.
func (va *VersionedAccount) load(ancestors []Slot) *Account {
	tip := tipSlot(ancestors)

	if n := len(va.inflight); n > 0 && va.inflight[n-1].slot == tip {
		return &va.inflight[n-1].account
	}

	var base Account
	if src := va.get(ancestors); src != nil {
		base = *src
	}
	va.inflight = append(va.inflight, inflightUpdate{slot: tip, account: base})
	return &va.inflight[len(va.inflight)-1].account
}

// set records account as the update for slot, overwriting in place when the
// tail update is already at that slot. Slots must arrive in non-decreasing
// order; a regression is a caller bug.
func (va *VersionedAccount) set(account Account, slot Slot) {
	if n := len(va.inflight); n > 0 {
		last := &va.inflight[n-1]
		if last.slot == slot {
			last.account = account
			return
		}
		if slot < last.slot {
			panic(fmt.Sprintf("accountsdb: write at slot %d behind inflight slot %d", slot, last.slot))
		}
	}
	va.inflight = append(va.inflight, inflightUpdate{slot: slot, account: account})
}

// finalizeUpTo promotes the newest update on the winning chain to the
// finalized value and drops updates on losing siblings, for every inflight
// slot at or below tip. Updates above tip stay queued. Exclusive lock held by
// caller. Returns how many updates were promoted and pruned.
func (va *VersionedAccount) finalizeUpTo(ancestors []Slot, tip Slot) (promoted, pruned int) {
	idx := 0
	for idx < len(va.inflight) && va.inflight[idx].slot <= tip {
		upd := va.inflight[idx]
		if containsSlot(ancestors, upd.slot) {
			acc := upd.account
			va.finalized = &acc
			promoted++
		} else {
			pruned++
		}
		idx++
	}
	if idx > 0 {
		va.inflight = append(va.inflight[:0], va.inflight[idx:]...)
	}
	return promoted, pruned
}

func containsSlot(ancestors []Slot, slot Slot) bool {
	for _, s := range ancestors {
		if s == slot {
			return true
		}
	}
	return false
}

// tipSlot returns the last element of the ancestor chain. An empty chain is a
// caller bug.
func tipSlot(ancestors []Slot) Slot {
	if len(ancestors) == 0 {
		panic("accountsdb: empty ancestor chain")
	}
	return ancestors[len(ancestors)-1]
}
