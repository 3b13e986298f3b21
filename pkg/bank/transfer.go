package bank

import (
	"github.com/pkg/errors"

	"github.com/metaproph3t/smolchain/pkg/accountsdb"
)

// Transaction is a unit of work over a declared account working set. The bank
// locks ReadSet shared and WriteSet exclusive before calling Execute; Execute
// mutates accounts through the view's copy-on-write loads.
type Transaction interface {
	ReadSet() []accountsdb.AccountID
	WriteSet() []accountsdb.AccountID
	Execute(v *View) error
}

// Transfer moves Amount from From to To.
type Transfer struct {
	From   accountsdb.AccountID
	To     accountsdb.AccountID
	Amount uint64
}

func (t Transfer) ReadSet() []accountsdb.AccountID { return nil }

func (t Transfer) WriteSet() []accountsdb.AccountID {
	return []accountsdb.AccountID{t.From, t.To}
}

// Execute implements Transaction.
func (t Transfer) Execute(v *View) error {
	from := v.Load(t.From)
	if from.Balance < t.Amount {
		return errors.Errorf("insufficient balance on account %d", t.From)
	}
	to := v.Load(t.To)
	from.Balance -= t.Amount
	to.Balance += t.Amount
	return nil
}

// BatchTransfer moves Amount from From to every account in Tos.
type BatchTransfer struct {
	From   accountsdb.AccountID
	Tos    []accountsdb.AccountID
	Amount uint64
}

func (b BatchTransfer) ReadSet() []accountsdb.AccountID { return nil }

func (b BatchTransfer) WriteSet() []accountsdb.AccountID {
	ids := make([]accountsdb.AccountID, 0, len(b.Tos)+1)
	ids = append(ids, b.From)
	ids = append(ids, b.Tos...)
	return ids
}

func (b BatchTransfer) Execute(v *View) error {
	if len(b.Tos) == 0 {
		return errors.New("no receivers for batch transfer")
	}
	total := uint64(len(b.Tos)) * b.Amount
	from := v.Load(b.From)
	if from.Balance < total {
		return errors.Errorf("not enough on account %d for batch", b.From)
	}
	from.Balance -= total
	for _, id := range b.Tos {
		v.Load(id).Balance += b.Amount
	}
	return nil
}
