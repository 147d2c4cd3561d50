package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger"
)

// Ledger implements domain.Ledger on SQLite. The store's single connection
// serializes transactions, which subsumes per-record locking.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a ledger over an opened store.
func NewLedger(s *Store) *Ledger {
	return &Ledger{db: s.db, now: time.Now}
}

// WithClock overrides the transaction clock.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectAccount = `SELECT address, owner, balance, data, closed FROM ledger_accounts`

func scanAccount(scan func(dest ...any) error) (domain.Account, error) {
	var (
		addr, owner []byte
		balance     int64
		data        []byte
		closed      bool
	)
	if err := scan(&addr, &owner, &balance, &data, &closed); err != nil {
		return domain.Account{}, err
	}
	acct := domain.Account{Balance: uint64(balance), Data: data, Closed: closed}
	copy(acct.Address[:], addr)
	copy(acct.Owner[:], owner)
	return acct, nil
}

func loadAccount(ctx context.Context, q querier, addr domain.Address) (domain.Account, bool, error) {
	acct, err := scanAccount(q.QueryRowContext(ctx, selectAccount+` WHERE address = ?`, addr[:]).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return acct, true, nil
}

func saveAccount(ctx context.Context, tx *sql.Tx, acct domain.Account, now time.Time) error {
	if acct.Balance > ledger.MaxBalance {
		return fmt.Errorf("sqlite: save %s: %w", acct.Address.Short(), domain.ErrArithmeticOverflow)
	}
	_, err := tx.ExecContext(ctx, `
INSERT INTO ledger_accounts (address, owner, balance, data, closed, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(address) DO UPDATE SET
    owner = excluded.owner,
    balance = excluded.balance,
    data = excluded.data,
    closed = excluded.closed,
    updated_at = excluded.updated_at
`,
		acct.Address[:], acct.Owner[:], int64(acct.Balance), acct.Data, acct.Closed, now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", acct.Address.Short(), err)
	}
	return nil
}

// Execute implements domain.Ledger.
func (l *Ledger) Execute(ctx context.Context, txID domain.Hash, keys []domain.Address, fn func(domain.LedgerTx) error) (*domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sqlTx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	var seen bool
	if err := sqlTx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM ledger_transactions WHERE tx_id = ?)`, txID[:],
	).Scan(&seen); err != nil {
		return nil, fmt.Errorf("sqlite: check tx %s: %w", txID, err)
	}
	if seen {
		return nil, fmt.Errorf("sqlite: execute %s: %w", txID, domain.ErrDuplicateTransaction)
	}

	stage := ledger.NewStage(ctx, ledger.SortedKeys(keys), l.now(), func(ctx context.Context, addr domain.Address) (domain.Account, bool, error) {
		return loadAccount(ctx, sqlTx, addr)
	})
	if err := fn(stage); err != nil {
		return nil, err
	}

	for _, acct := range stage.Changes() {
		if err := saveAccount(ctx, sqlTx, acct, stage.Now()); err != nil {
			return nil, err
		}
	}
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT INTO ledger_transactions (tx_id, executed_at) VALUES (?, ?)`,
		txID[:], stage.Now().UnixMilli(),
	); err != nil {
		if isConstraintError(err) {
			return nil, fmt.Errorf("sqlite: record tx %s: %w", txID, domain.ErrDuplicateTransaction)
		}
		return nil, fmt.Errorf("sqlite: record tx %s: %w", txID, err)
	}
	if err := sqlTx.Commit(); err != nil {
		return nil, fmt.Errorf("sqlite: commit %s: %w", txID, err)
	}
	return stage.Receipt(txID), nil
}

// Account implements domain.Ledger.
func (l *Ledger) Account(ctx context.Context, addr domain.Address) (domain.Account, error) {
	acct, found, err := loadAccount(ctx, l.db, addr)
	if err != nil {
		return domain.Account{}, fmt.Errorf("sqlite: account %s: %w", addr.Short(), err)
	}
	if !found {
		return domain.Account{}, fmt.Errorf("sqlite: account %s: %w", addr.Short(), domain.ErrNotFound)
	}
	return acct, nil
}

// ProgramAccounts implements domain.Ledger.
func (l *Ledger) ProgramAccounts(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Account, error) {
	query := selectAccount + ` WHERE owner = ? AND closed = 0 ORDER BY address`
	args := []any{owner[:]}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += ` LIMIT -1`
	}
	if opts.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, opts.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list program accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list program accounts rows: %w", err)
	}
	return out, nil
}

// Fund implements domain.Ledger.
func (l *Ledger) Fund(ctx context.Context, addr domain.Address, amount uint64) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin fund: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	acct, found, err := loadAccount(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("sqlite: fund %s: %w", addr.Short(), err)
	}
	if !found {
		acct = domain.Account{Address: addr, Owner: domain.SystemOwner}
	}
	if acct.Closed {
		return fmt.Errorf("sqlite: fund %s: %w", addr.Short(), domain.ErrAccountClosed)
	}
	if acct.Balance, err = ledger.Credit(acct.Balance, amount); err != nil {
		return fmt.Errorf("sqlite: fund %s: %w", addr.Short(), err)
	}
	if err := saveAccount(ctx, tx, acct, l.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit fund: %w", err)
	}
	return nil
}

// Close implements domain.Ledger. The store owns the handle and closes it.
func (l *Ledger) Close() error {
	return nil
}
