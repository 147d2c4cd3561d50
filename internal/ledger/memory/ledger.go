// Package memory is an in-process ledger backend. Each record has its own
// mutex; a transaction holds the mutexes of every declared record for its
// whole duration and commits its staged writes under the store lock.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger"
)

// Ledger implements domain.Ledger in memory.
type Ledger struct {
	mu        sync.RWMutex
	accounts  map[domain.Address]domain.Account
	processed map[domain.Hash]struct{}

	locksMu sync.Mutex
	locks   map[domain.Address]*sync.Mutex

	now func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

// Option customises a Ledger.
type Option func(*Ledger)

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		accounts:  make(map[domain.Address]domain.Account),
		processed: make(map[domain.Hash]struct{}),
		locks:     make(map[domain.Address]*sync.Mutex),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) keyLock(addr domain.Address) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[addr]
	if !ok {
		m = &sync.Mutex{}
		l.locks[addr] = m
	}
	return m
}

func (l *Ledger) seen(txID domain.Hash) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.processed[txID]
	return ok
}

func (l *Ledger) load(_ context.Context, addr domain.Address) (domain.Account, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[addr]
	return acct.Clone(), ok, nil
}

// Execute implements domain.Ledger.
func (l *Ledger) Execute(ctx context.Context, txID domain.Hash, keys []domain.Address, fn func(domain.LedgerTx) error) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.seen(txID) {
		return nil, fmt.Errorf("memory: execute %s: %w", txID, domain.ErrDuplicateTransaction)
	}

	sorted := ledger.SortedKeys(keys)
	held := make([]*sync.Mutex, 0, len(sorted))
	for _, k := range sorted {
		m := l.keyLock(k)
		m.Lock()
		held = append(held, m)
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()

	stage := ledger.NewStage(ctx, sorted, l.now(), l.load)
	if err := fn(stage); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Two submissions of one txID may declare disjoint keys, so the
	// replay check is repeated under the store lock.
	if _, dup := l.processed[txID]; dup {
		return nil, fmt.Errorf("memory: commit %s: %w", txID, domain.ErrDuplicateTransaction)
	}
	for _, acct := range stage.Changes() {
		l.accounts[acct.Address] = acct
	}
	l.processed[txID] = struct{}{}
	return stage.Receipt(txID), nil
}

// Account implements domain.Ledger.
func (l *Ledger) Account(ctx context.Context, addr domain.Address) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return domain.Account{}, err
	}
	acct, ok, _ := l.load(ctx, addr)
	if !ok {
		return domain.Account{}, fmt.Errorf("memory: account %s: %w", addr.Short(), domain.ErrNotFound)
	}
	return acct, nil
}

// ProgramAccounts implements domain.Ledger.
func (l *Ledger) ProgramAccounts(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	var out []domain.Account
	for _, acct := range l.accounts {
		if acct.Owner == owner && !acct.Closed {
			out = append(out, acct.Clone())
		}
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return ledger.Page(out, opts), nil
}

// Fund implements domain.Ledger.
func (l *Ledger) Fund(ctx context.Context, addr domain.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lock := l.keyLock(addr)
	lock.Lock()
	defer lock.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[addr]
	if !ok {
		acct = domain.Account{Address: addr, Owner: domain.SystemOwner}
	}
	if acct.Closed {
		return fmt.Errorf("memory: fund %s: %w", addr.Short(), domain.ErrAccountClosed)
	}
	balance, err := ledger.Credit(acct.Balance, amount)
	if err != nil {
		return fmt.Errorf("memory: fund %s: %w", addr.Short(), err)
	}
	acct.Balance = balance
	l.accounts[addr] = acct
	return nil
}

// Close implements domain.Ledger. The in-memory ledger holds no resources.
func (l *Ledger) Close() error {
	return nil
}
