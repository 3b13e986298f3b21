// Package bank is the per-fork façade over the accounts store. A Bank pins
// one fork: it carries the slot being built and the ancestor chain from
// genesis to that slot, and routes every transaction through the store's bulk
// lock acquisition.
package bank

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/metaproph3t/smolchain/internal/logging"
	"github.com/metaproph3t/smolchain/pkg/accountsdb"
)

var log = logging.Named("bank")

// Bank represents a single fork of the chain. Banks on different forks share
// the same DB and may apply transactions concurrently.
type Bank struct {
	Slot accountsdb.Slot
	// Ancestors is the fork's slot chain; the last element is Slot.
	Ancestors []accountsdb.Slot
	DB        *accountsdb.DB
}

// GenesisBank creates the slot-0 bank over a fresh genesis store.
func GenesisBank() *Bank {
	return &Bank{
		Slot:      0,
		Ancestors: []accountsdb.Slot{0},
		DB:        accountsdb.Genesis(),
	}
}

// ChildBank derives the bank for a new slot extending this bank's fork.
func (b *Bank) ChildBank(slot accountsdb.Slot) *Bank {
	ancestors := make([]accountsdb.Slot, len(b.Ancestors), len(b.Ancestors)+1)
	copy(ancestors, b.Ancestors)
	return &Bank{
		Slot:      slot,
		Ancestors: append(ancestors, slot),
		DB:        b.DB,
	}
}

// GetAccount returns the account's value as seen on this bank's fork, or
// false if the account does not exist there.
func (b *Bank) GetAccount(id accountsdb.AccountID) (accountsdb.Account, bool) {
	h, ok := b.DB.GetVersioned(id)
	if !ok {
		return accountsdb.Account{}, false
	}
	defer h.Release()
	return h.Get(b.Ancestors)
}

// Apply locks the transaction's working set, executes it against this fork,
// and drops the locks. ErrLocked passes through untouched for the caller's
// retry policy; any other error comes from the transaction itself.
func (b *Bank) Apply(tx Transaction) error {
	shared, exclusive, err := b.DB.Acquire(tx.ReadSet(), tx.WriteSet())
	if err != nil {
		return err
	}
	defer func() {
		for _, h := range shared {
			h.Release()
		}
		for _, h := range exclusive {
			h.Release()
		}
	}()

	view := newView(b.Ancestors, shared, exclusive)
	if err := tx.Execute(view); err != nil {
		return errors.Wrapf(err, "apply on slot %d", b.Slot)
	}
	return nil
}

// ApplyWithRetry runs Apply, backing off and retrying while the working set
// is contended. Transaction errors are not retried.
func (b *Bank) ApplyWithRetry(tx Transaction) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Microsecond
	bo.MaxInterval = 5 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second

	return backoff.Retry(func() error {
		err := b.Apply(tx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, accountsdb.ErrLocked):
			log.Debugw("working set locked, retrying", "slot", b.Slot)
			return err
		default:
			return backoff.Permanent(err)
		}
	}, bo)
}

// Finalize roots this bank's fork: its values become the finalized baseline
// and sibling forks at or below this slot are pruned.
func (b *Bank) Finalize() {
	b.DB.Finalize(b.Ancestors)
}

// View is the fork-scoped window a transaction executes against. It only
// reaches accounts the transaction declared in its read and write sets.
type View struct {
	ancestors []accountsdb.Slot
	shared    map[accountsdb.AccountID]*accountsdb.SharedHandle
	exclusive map[accountsdb.AccountID]*accountsdb.ExclusiveHandle
}

func newView(ancestors []accountsdb.Slot, shared []*accountsdb.SharedHandle, exclusive []*accountsdb.ExclusiveHandle) *View {
	v := &View{
		ancestors: ancestors,
		shared:    make(map[accountsdb.AccountID]*accountsdb.SharedHandle, len(shared)),
		exclusive: make(map[accountsdb.AccountID]*accountsdb.ExclusiveHandle, len(exclusive)),
	}
	for _, h := range shared {
		v.shared[h.ID()] = h
	}
	for _, h := range exclusive {
		v.exclusive[h.ID()] = h
	}
	return v
}

// Get returns the fork-visible value of an account in the read or write set.
func (v *View) Get(id accountsdb.AccountID) (accountsdb.Account, bool) {
	if h, ok := v.shared[id]; ok {
		return h.Get(v.ancestors)
	}
	if h, ok := v.exclusive[id]; ok {
		return h.Get(v.ancestors)
	}
	panic(errors.Errorf("bank: account %d not in transaction working set", id))
}

// Load returns the mutable working copy of an account in the write set.
func (v *View) Load(id accountsdb.AccountID) *accountsdb.Account {
	h, ok := v.exclusive[id]
	if !ok {
		panic(errors.Errorf("bank: account %d not in transaction write set", id))
	}
	return h.Load(v.ancestors)
}
