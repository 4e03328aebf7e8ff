package ledger

import (
	"github.com/chainpoint/chainpoint-bridge/database"
	"github.com/chainpoint/chainpoint-bridge/types"
	"github.com/ethereum/go-ethereum/common/math"
)

// Ledger : a token ledger for one currency. The bridge consumes it, it never owns balances itself.
type Ledger interface {
	Mint(account types.Account, amount uint64) error
	Burn(account types.Account, amount uint64) error
	Transfer(from types.Account, to types.Account, amount uint64) error
}

// BalanceReader : optional read side of a Ledger
type BalanceReader interface {
	Balance(account types.Account) (uint64, error)
	Supply() (uint64, error)
}

// StoreLedger : balances of a single currency kept in the bridge store under balance:<currency>:<account>
type StoreLedger struct {
	records  database.Records
	currency types.Currency
}

func NewStoreLedger(s database.Store, currency types.Currency) *StoreLedger {
	return &StoreLedger{records: database.Records{Store: s}, currency: currency}
}

func (l *StoreLedger) balanceKey(account types.Account) string {
	return database.Key("balance", string(l.currency), string(account))
}

func (l *StoreLedger) supplyKey() string {
	return database.Key("supply", string(l.currency))
}

func (l *StoreLedger) read(key string) (uint64, error) {
	var v uint64
	_, err := l.records.Get(key, &v)
	return v, err
}

func (l *StoreLedger) Balance(account types.Account) (uint64, error) {
	return l.read(l.balanceKey(account))
}

func (l *StoreLedger) Supply() (uint64, error) {
	return l.read(l.supplyKey())
}

func (l *StoreLedger) Mint(account types.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	supply, err := l.Supply()
	if err != nil {
		return err
	}
	newSupply, overflow := math.SafeAdd(supply, amount)
	if overflow {
		return types.Wrap(types.ErrArithmeticOverflow, "%s supply", l.currency)
	}
	if err := l.credit(account, amount); err != nil {
		return err
	}
	return l.records.Put(l.supplyKey(), newSupply)
}

func (l *StoreLedger) Burn(account types.Account, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := l.debit(account, amount); err != nil {
		return err
	}
	supply, err := l.Supply()
	if err != nil {
		return err
	}
	newSupply, underflow := math.SafeSub(supply, amount)
	if underflow {
		return types.Wrap(types.ErrInvariantBreach, "%s supply below zero", l.currency)
	}
	return l.records.Put(l.supplyKey(), newSupply)
}

func (l *StoreLedger) Transfer(from types.Account, to types.Account, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := l.debit(from, amount); err != nil {
		return err
	}
	return l.credit(to, amount)
}

func (l *StoreLedger) credit(account types.Account, amount uint64) error {
	balance, err := l.Balance(account)
	if err != nil {
		return err
	}
	newBalance, overflow := math.SafeAdd(balance, amount)
	if overflow {
		return types.Wrap(types.ErrArithmeticOverflow, "%s balance of %s", l.currency, account)
	}
	return l.records.Put(l.balanceKey(account), newBalance)
}

func (l *StoreLedger) debit(account types.Account, amount uint64) error {
	balance, err := l.Balance(account)
	if err != nil {
		return err
	}
	newBalance, underflow := math.SafeSub(balance, amount)
	if underflow {
		return types.Wrap(types.ErrInsufficientFunds, "%s balance of %s is %d, need %d", l.currency, account, balance, amount)
	}
	if newBalance == 0 {
		return l.records.Del(l.balanceKey(account), "")
	}
	return l.records.Put(l.balanceKey(account), newBalance)
}
