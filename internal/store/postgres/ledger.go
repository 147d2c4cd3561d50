package postgres

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger"
)

// Ledger implements domain.Ledger on PostgreSQL. Each ledger transaction is
// one SQL transaction that takes a transaction-scoped advisory lock per
// declared record, in sorted order, before reading anything.
type Ledger struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger creates a new Ledger backed by the given connection pool.
func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool, now: time.Now}
}

const selectAccount = `SELECT address, owner, balance, data, closed FROM ledger_accounts`

// lockKey maps an address onto the advisory lock space. Sorted addresses map
// to a consistently ordered key sequence; prefix collisions only merge locks.
func lockKey(addr domain.Address) int64 {
	return int64(binary.BigEndian.Uint64(addr[:8]))
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		addr, owner []byte
		balance     int64
		acct        domain.Account
	)
	if err := row.Scan(&addr, &owner, &balance, &acct.Data, &acct.Closed); err != nil {
		return domain.Account{}, err
	}
	copy(acct.Address[:], addr)
	copy(acct.Owner[:], owner)
	acct.Balance = uint64(balance)
	return acct, nil
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadAccount(ctx context.Context, q queryRower, addr domain.Address) (domain.Account, bool, error) {
	acct, err := scanAccount(q.QueryRow(ctx, selectAccount+` WHERE address = $1`, addr[:]))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, false, nil
	}
	if err != nil {
		return domain.Account{}, false, err
	}
	return acct, true, nil
}

func saveAccount(ctx context.Context, tx pgx.Tx, acct domain.Account, now time.Time) error {
	if acct.Balance > ledger.MaxBalance {
		return fmt.Errorf("postgres: save %s: %w", acct.Address.Short(), domain.ErrArithmeticOverflow)
	}
	const query = `
		INSERT INTO ledger_accounts (address, owner, balance, data, closed, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (address) DO UPDATE SET
			owner = EXCLUDED.owner,
			balance = EXCLUDED.balance,
			data = EXCLUDED.data,
			closed = EXCLUDED.closed,
			updated_at = EXCLUDED.updated_at`
	_, err := tx.Exec(ctx, query, acct.Address[:], acct.Owner[:], int64(acct.Balance), acct.Data, acct.Closed, now)
	if err != nil {
		return fmt.Errorf("postgres: save %s: %w", acct.Address.Short(), err)
	}
	return nil
}

// Execute implements domain.Ledger.
func (l *Ledger) Execute(ctx context.Context, txID domain.Hash, keys []domain.Address, fn func(domain.LedgerTx) error) (*domain.Receipt, error) {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	sorted := ledger.SortedKeys(keys)
	for _, k := range sorted {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(k)); err != nil {
			return nil, fmt.Errorf("postgres: lock %s: %w", k.Short(), err)
		}
	}

	now := l.now()
	// A concurrent insert of the same id blocks on the primary key until the
	// other transaction resolves.
	tag, err := tx.Exec(ctx,
		`INSERT INTO ledger_transactions (tx_id, executed_at) VALUES ($1, $2) ON CONFLICT (tx_id) DO NOTHING`,
		txID[:], now,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: record tx %s: %w", txID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("postgres: execute %s: %w", txID, domain.ErrDuplicateTransaction)
	}

	stage := ledger.NewStage(ctx, sorted, now, func(ctx context.Context, addr domain.Address) (domain.Account, bool, error) {
		return loadAccount(ctx, tx, addr)
	})
	if err := fn(stage); err != nil {
		return nil, err
	}
	for _, acct := range stage.Changes() {
		if err := saveAccount(ctx, tx, acct, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit %s: %w", txID, err)
	}
	return stage.Receipt(txID), nil
}

// Account implements domain.Ledger.
func (l *Ledger) Account(ctx context.Context, addr domain.Address) (domain.Account, error) {
	acct, found, err := loadAccount(ctx, l.pool, addr)
	if err != nil {
		return domain.Account{}, fmt.Errorf("postgres: account %s: %w", addr.Short(), err)
	}
	if !found {
		return domain.Account{}, fmt.Errorf("postgres: account %s: %w", addr.Short(), domain.ErrNotFound)
	}
	return acct, nil
}

// ProgramAccounts implements domain.Ledger.
func (l *Ledger) ProgramAccounts(ctx context.Context, owner domain.Address, opts domain.ListOpts) ([]domain.Account, error) {
	query := selectAccount + ` WHERE owner = $1 AND NOT closed ORDER BY address`
	args := []any{owner[:]}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list program accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan account: %w", err)
		}
		out = append(out, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list program accounts rows: %w", err)
	}
	return out, nil
}

// Fund implements domain.Ledger.
func (l *Ledger) Fund(ctx context.Context, addr domain.Address, amount uint64) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin fund: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey(addr)); err != nil {
		return fmt.Errorf("postgres: lock %s: %w", addr.Short(), err)
	}
	acct, found, err := loadAccount(ctx, tx, addr)
	if err != nil {
		return fmt.Errorf("postgres: fund %s: %w", addr.Short(), err)
	}
	if !found {
		acct = domain.Account{Address: addr, Owner: domain.SystemOwner}
	}
	if acct.Closed {
		return fmt.Errorf("postgres: fund %s: %w", addr.Short(), domain.ErrAccountClosed)
	}
	if acct.Balance, err = ledger.Credit(acct.Balance, amount); err != nil {
		return fmt.Errorf("postgres: fund %s: %w", addr.Short(), err)
	}
	if err := saveAccount(ctx, tx, acct, l.now()); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit fund: %w", err)
	}
	return nil
}

// Close implements domain.Ledger. The Client owns the pool.
func (l *Ledger) Close() error {
	return nil
}
