package ledger

import (
	"fmt"

	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/hashicorp/go-multierror"
)

// Journal : forwards to a Ledger and remembers how to undo each applied effect,
// so a transition that fails after calling an external ledger leaves no trace on it
type Journal struct {
	inner Ledger
	undo  []func() error
}

func NewJournal(inner Ledger) *Journal {
	return &Journal{inner: inner}
}

func (j *Journal) Mint(account types.Account, amount uint64) error {
	if err := j.inner.Mint(account, amount); err != nil {
		return err
	}
	j.undo = append(j.undo, func() error { return j.inner.Burn(account, amount) })
	return nil
}

func (j *Journal) Burn(account types.Account, amount uint64) error {
	if err := j.inner.Burn(account, amount); err != nil {
		return err
	}
	j.undo = append(j.undo, func() error { return j.inner.Mint(account, amount) })
	return nil
}

func (j *Journal) Transfer(from types.Account, to types.Account, amount uint64) error {
	if err := j.inner.Transfer(from, to, amount); err != nil {
		return err
	}
	j.undo = append(j.undo, func() error { return j.inner.Transfer(to, from, amount) })
	return nil
}

// Balance reads through when the wrapped ledger exposes balances
func (j *Journal) Balance(account types.Account) (uint64, error) {
	if r, ok := j.inner.(BalanceReader); ok {
		return r.Balance(account)
	}
	return 0, fmt.Errorf("ledger does not expose balances")
}

func (j *Journal) Len() int {
	return len(j.undo)
}

// Rollback undoes every recorded effect, newest first. All compensations are attempted.
func (j *Journal) Rollback() error {
	var result *multierror.Error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	j.undo = nil
	return result.ErrorOrNil()
}

// Forget drops the recorded effects once the transition has committed
func (j *Journal) Forget() {
	j.undo = nil
}
