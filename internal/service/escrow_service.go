// Package service wires the escrow program to its ledger and to the side
// channels that follow a commit: audit log, event bus, match cache and
// operator notifications.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/escrow"
)

// Verifier recovers signer identities from a signed transaction.
type Verifier interface {
	Verify(stx domain.SignedTransaction) (domain.Transaction, error)
}

// EventNotifier forwards program events to operators.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// EscrowService is the entry point for transactions and queries.
type EscrowService struct {
	program  *escrow.Program
	ledger   domain.Ledger
	verifier Verifier
	audit    domain.AuditStore
	bus      domain.SignalBus
	cache    domain.MatchCache
	notifier EventNotifier
	logger   *slog.Logger
}

// NewEscrowService creates an EscrowService. Side channels are attached
// with the With* methods; each is optional.
func NewEscrowService(program *escrow.Program, ledger domain.Ledger, verifier Verifier, logger *slog.Logger) *EscrowService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EscrowService{
		program:  program,
		ledger:   ledger,
		verifier: verifier,
		logger:   logger.With(slog.String("component", "escrow_service")),
	}
}

// WithAudit records every committed transaction in the audit log.
func (s *EscrowService) WithAudit(audit domain.AuditStore) *EscrowService {
	s.audit = audit
	return s
}

// WithBus publishes committed events to pub/sub and the event stream.
func (s *EscrowService) WithBus(bus domain.SignalBus) *EscrowService {
	s.bus = bus
	return s
}

// WithCache serves match reads from cache and invalidates on commit.
func (s *EscrowService) WithCache(cache domain.MatchCache) *EscrowService {
	s.cache = cache
	return s
}

// WithNotifier forwards committed events to operators.
func (s *EscrowService) WithNotifier(n EventNotifier) *EscrowService {
	s.notifier = n
	return s
}

// Program returns the underlying program.
func (s *EscrowService) Program() *escrow.Program {
	return s.program
}

// Submit verifies and executes a signed transaction.
func (s *EscrowService) Submit(ctx context.Context, stx domain.SignedTransaction) (*domain.Receipt, error) {
	tx, err := s.verifier.Verify(stx)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: verify: %w", err)
	}
	receipt, err := s.program.Submit(ctx, s.ledger, tx)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, receipt, "tx."+string(receipt.Op))
	return receipt, nil
}

// Reclaim tombstones a terminal match record.
func (s *EscrowService) Reclaim(ctx context.Context, matchID uint64) (*domain.Receipt, error) {
	receipt, err := s.program.Reclaim(ctx, s.ledger, matchID)
	if err != nil {
		return nil, err
	}
	receipt.Op = domain.OpReclaim
	s.afterCommit(ctx, receipt, "match.reclaim")
	return receipt, nil
}

// Fund credits addr outside the program. It backs the development faucet.
func (s *EscrowService) Fund(ctx context.Context, addr domain.Address, amount uint64) (domain.Account, error) {
	if amount == 0 {
		return domain.Account{}, fmt.Errorf("escrow_service: fund zero: %w", domain.ErrInvalidInstruction)
	}
	if err := s.ledger.Fund(ctx, addr, amount); err != nil {
		return domain.Account{}, fmt.Errorf("escrow_service: fund %s: %w", addr.Short(), err)
	}
	s.auditLog(ctx, "faucet", map[string]any{"address": addr.Hex(), "amount": amount})
	return s.Account(ctx, addr)
}

// afterCommit runs the best-effort side channels. Failures are logged and
// never surface to the caller: the transaction is already committed.
func (s *EscrowService) afterCommit(ctx context.Context, receipt *domain.Receipt, auditEvent string) {
	signers := make([]string, len(receipt.Signers))
	for i, id := range receipt.Signers {
		signers[i] = id.Hex()
	}
	matchIDs := make(map[uint64]struct{})
	for _, ev := range receipt.Events {
		if ev.Kind.AboutMatch() {
			matchIDs[ev.MatchID] = struct{}{}
		}
	}

	s.auditLog(ctx, auditEvent, map[string]any{
		"tx_id":     receipt.TxID.Hex(),
		"signers":   signers,
		"transfers": len(receipt.Transfers),
		"events":    len(receipt.Events),
	})

	if s.cache != nil {
		for id := range matchIDs {
			if err := s.cache.Invalidate(ctx, id); err != nil {
				s.logger.WarnContext(ctx, "cache invalidate failed",
					slog.Uint64("match_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	for _, msg := range receipt.Messages() {
		s.publish(ctx, msg)
		if s.notifier != nil {
			if err := s.notifier.NotifyEvent(ctx, msg.Event); err != nil {
				s.logger.WarnContext(ctx, "notify failed",
					slog.String("event", string(msg.Event.Kind)),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (s *EscrowService) publish(ctx context.Context, msg domain.EventMessage) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, domain.EventsChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish event failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, domain.EventsStream, payload); err != nil {
		s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
	}
}

func (s *EscrowService) auditLog(ctx context.Context, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// Config returns the platform configuration record.
func (s *EscrowService) Config(ctx context.Context) (domain.ConfigView, error) {
	return s.program.Config(ctx, s.ledger)
}

// Match returns one match, from cache when possible. Only terminal views are
// cached: a read racing a commit could otherwise store a status the commit
// already replaced.
func (s *EscrowService) Match(ctx context.Context, matchID uint64) (domain.MatchView, error) {
	if s.cache != nil {
		view, err := s.cache.Get(ctx, matchID)
		if err == nil {
			return view, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "cache get failed",
				slog.Uint64("match_id", matchID),
				slog.String("error", err.Error()),
			)
		}
	}
	view, err := s.program.Match(ctx, s.ledger, matchID)
	if err != nil {
		return domain.MatchView{}, err
	}
	if s.cache != nil && view.Status.Terminal() {
		if err := s.cache.Set(ctx, view); err != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Uint64("match_id", matchID),
				slog.String("error", err.Error()),
			)
		}
	}
	return view, nil
}

// ListMatches lists matches ordered by id.
func (s *EscrowService) ListMatches(ctx context.Context, filter domain.MatchFilter) ([]domain.MatchView, error) {
	return s.program.Matches(ctx, s.ledger, filter)
}

// Account returns any ledger account.
func (s *EscrowService) Account(ctx context.Context, addr domain.Address) (domain.Account, error) {
	return s.program.Account(ctx, s.ledger, addr)
}

// AuditLog lists recent audit entries, newest first.
func (s *EscrowService) AuditLog(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if s.audit == nil {
		return nil, nil
	}
	entries, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("escrow_service: audit log: %w", err)
	}
	return entries, nil
}
