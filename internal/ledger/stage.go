// Package ledger holds the transaction staging shared by every ledger backend.
// A backend locks the declared keys, builds a Stage over its own reader, runs
// the caller's function, and persists Stage.Changes on success.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// LoadFunc reads the committed state of one account. found is false when the
// address was never created.
type LoadFunc func(ctx context.Context, addr domain.Address) (acct domain.Account, found bool, err error)

// SortedKeys returns keys deduplicated and ordered bytewise. Backends lock in
// this order so that overlapping transactions cannot deadlock.
func SortedKeys(keys []domain.Address) []domain.Address {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b domain.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return slices.Compact(out)
}

// Stage is an in-memory overlay implementing domain.LedgerTx. Nothing it does
// is visible outside the transaction until the backend commits Changes.
type Stage struct {
	ctx      context.Context
	load     LoadFunc
	now      time.Time
	declared map[domain.Address]struct{}

	cache     map[domain.Address]*slot
	dirty     []domain.Address
	transfers []domain.Transfer
	events    []domain.Event
}

type slot struct {
	acct   domain.Account
	exists bool
	dirty  bool
}

var _ domain.LedgerTx = (*Stage)(nil)

// NewStage creates a staging overlay restricted to keys.
func NewStage(ctx context.Context, keys []domain.Address, now time.Time, load LoadFunc) *Stage {
	declared := make(map[domain.Address]struct{}, len(keys))
	for _, k := range keys {
		declared[k] = struct{}{}
	}
	return &Stage{
		ctx:      ctx,
		load:     load,
		now:      now.UTC(),
		declared: declared,
		cache:    make(map[domain.Address]*slot, len(keys)),
	}
}

func (s *Stage) slot(addr domain.Address) (*slot, error) {
	if _, ok := s.declared[addr]; !ok {
		return nil, fmt.Errorf("ledger: %s: %w", addr.Short(), domain.ErrAccountNotDeclared)
	}
	if sl, ok := s.cache[addr]; ok {
		return sl, nil
	}
	acct, found, err := s.load(s.ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("ledger: load %s: %w", addr.Short(), err)
	}
	sl := &slot{acct: acct.Clone(), exists: found}
	if !found {
		sl.acct = domain.Account{Address: addr}
	}
	s.cache[addr] = sl
	return sl, nil
}

func (s *Stage) markDirty(addr domain.Address, sl *slot) {
	if !sl.dirty {
		sl.dirty = true
		s.dirty = append(s.dirty, addr)
	}
}

// Get implements domain.LedgerTx.
func (s *Stage) Get(addr domain.Address) (domain.Account, error) {
	sl, err := s.slot(addr)
	if err != nil {
		return domain.Account{}, err
	}
	if !sl.exists {
		return domain.Account{}, fmt.Errorf("ledger: get %s: %w", addr.Short(), domain.ErrNotFound)
	}
	return sl.acct.Clone(), nil
}

// Create implements domain.LedgerTx.
func (s *Stage) Create(addr, owner domain.Address, data []byte) error {
	sl, err := s.slot(addr)
	if err != nil {
		return err
	}
	if sl.exists && (sl.acct.Closed || !sl.acct.IsSystem() || len(sl.acct.Data) > 0) {
		return fmt.Errorf("ledger: create %s: %w", addr.Short(), domain.ErrAlreadyExists)
	}
	// A bare system balance parked at the address is adopted, so funding an
	// address ahead of its creation cannot block the creation.
	sl.exists = true
	sl.acct = domain.Account{Address: addr, Owner: owner, Balance: sl.acct.Balance, Data: slices.Clone(data)}
	s.markDirty(addr, sl)
	return nil
}

// SetData implements domain.LedgerTx.
func (s *Stage) SetData(addr domain.Address, data []byte) error {
	sl, err := s.openSlot(addr, "set data")
	if err != nil {
		return err
	}
	sl.acct.Data = slices.Clone(data)
	s.markDirty(addr, sl)
	return nil
}

// Transfer implements domain.LedgerTx.
func (s *Stage) Transfer(from, to domain.Address, amount uint64) error {
	src, err := s.openSlot(from, "transfer")
	if err != nil {
		return err
	}
	dst, err := s.slot(to)
	if err != nil {
		return err
	}
	if dst.exists && dst.acct.Closed {
		return fmt.Errorf("ledger: transfer to %s: %w", to.Short(), domain.ErrAccountClosed)
	}
	if src.acct.Balance < amount {
		return fmt.Errorf("ledger: transfer %d from %s (balance %d): %w",
			amount, from.Short(), src.acct.Balance, domain.ErrInsufficientBalance)
	}
	if from == to {
		s.transfers = append(s.transfers, domain.Transfer{From: from, To: to, Amount: amount})
		return nil
	}
	credited, err := Credit(dst.acct.Balance, amount)
	if err != nil {
		return fmt.Errorf("ledger: transfer to %s: %w", to.Short(), err)
	}

	src.acct.Balance -= amount
	if !dst.exists {
		dst.exists = true
		dst.acct = domain.Account{Address: to, Owner: domain.SystemOwner}
	}
	dst.acct.Balance = credited
	s.markDirty(from, src)
	s.markDirty(to, dst)
	s.transfers = append(s.transfers, domain.Transfer{From: from, To: to, Amount: amount})
	return nil
}

// Close implements domain.LedgerTx.
func (s *Stage) Close(addr domain.Address) error {
	sl, err := s.openSlot(addr, "close")
	if err != nil {
		return err
	}
	if sl.acct.Balance != 0 {
		return fmt.Errorf("ledger: close %s: %w", addr.Short(), domain.ErrAccountNotEmpty)
	}
	sl.acct.Closed = true
	sl.acct.Data = nil
	s.markDirty(addr, sl)
	return nil
}

// Emit implements domain.LedgerTx.
func (s *Stage) Emit(ev domain.Event) {
	s.events = append(s.events, ev)
}

// Now implements domain.LedgerTx.
func (s *Stage) Now() time.Time {
	return s.now
}

func (s *Stage) openSlot(addr domain.Address, op string) (*slot, error) {
	sl, err := s.slot(addr)
	if err != nil {
		return nil, err
	}
	if !sl.exists {
		return nil, fmt.Errorf("ledger: %s %s: %w", op, addr.Short(), domain.ErrNotFound)
	}
	if sl.acct.Closed {
		return nil, fmt.Errorf("ledger: %s %s: %w", op, addr.Short(), domain.ErrAccountClosed)
	}
	return sl, nil
}

// Changes returns every account written by the transaction in address order.
func (s *Stage) Changes() []domain.Account {
	out := make([]domain.Account, 0, len(s.dirty))
	for _, addr := range SortedKeys(s.dirty) {
		out = append(out, s.cache[addr].acct.Clone())
	}
	return out
}

// Receipt builds the receipt for a committed stage.
func (s *Stage) Receipt(txID domain.Hash) *domain.Receipt {
	return &domain.Receipt{
		TxID:       txID,
		Transfers:  slices.Clone(s.transfers),
		Events:     slices.Clone(s.events),
		ExecutedAt: s.now,
	}
}
