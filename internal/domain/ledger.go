package domain

import (
	"context"
	"time"
)

// SystemOwner marks accounts held directly by a wallet identity rather than by
// a program.
var SystemOwner = ZeroAddress

// Account is one addressable ledger record: a native balance plus an opaque
// data payload owned by Owner.
type Account struct {
	Address Address `json:"address"`
	Owner   Address `json:"owner"`
	Balance uint64  `json:"balance"`
	Data    []byte  `json:"-"`
	Closed  bool    `json:"closed"`
}

// IsSystem reports whether the account is a plain wallet balance.
func (a Account) IsSystem() bool {
	return a.Owner == SystemOwner
}

// Clone returns a deep copy of a.
func (a Account) Clone() Account {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// LedgerTx is the view of the ledger inside one atomic transaction. Every
// address passed to it must have been declared to Ledger.Execute.
type LedgerTx interface {
	// Get returns the account at addr, ErrNotFound if it was never created.
	// Tombstoned accounts are returned with Closed set.
	Get(addr Address) (Account, error)
	// Create allocates a program record. It fails with ErrAlreadyExists if
	// the address holds a record or a tombstone; a plain system balance at
	// the address is adopted into the new record.
	Create(addr, owner Address, data []byte) error
	// SetData replaces the payload of an existing open account.
	SetData(addr Address, data []byte) error
	// Transfer moves amount from one balance to another. An unknown
	// destination is created as a system account.
	Transfer(from, to Address, amount uint64) error
	// Close tombstones a zero-balance account. Its address stays reserved.
	Close(addr Address) error
	Emit(ev Event)
	Now() time.Time
}

// Ledger executes transactions atomically and serializes access to the
// records each transaction declares.
type Ledger interface {
	// Execute runs fn as one atomic unit. keys declares every address fn may
	// touch. A txID already committed fails with ErrDuplicateTransaction. Any
	// error from fn discards all staged writes.
	Execute(ctx context.Context, txID Hash, keys []Address, fn func(LedgerTx) error) (*Receipt, error)
	// Account reads one account outside any transaction.
	Account(ctx context.Context, addr Address) (Account, error)
	// ProgramAccounts lists open accounts owned by owner, ordered by address.
	ProgramAccounts(ctx context.Context, owner Address, opts ListOpts) ([]Account, error)
	// Fund credits addr from outside the ledger's conservation rules. It exists
	// for genesis balances and development faucets.
	Fund(ctx context.Context, addr Address, amount uint64) error
	Close() error
}
