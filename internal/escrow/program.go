// Package escrow is the settlement program: the match lifecycle state machine,
// fee arithmetic and per-operation authorization, executed against a
// domain.Ledger.
package escrow

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// Config holds the program parameters.
type Config struct {
	ProgramID domain.Address
	// MinStake is the stake floor; zero means domain.DefaultMinStake.
	MinStake uint64
	// TrustedResolvers restricts who may settle. Empty accepts any signer.
	TrustedResolvers []domain.Address
}

// Program executes escrow instructions. It holds no mutable state; every
// record lives in the ledger.
type Program struct {
	id        domain.Address
	config    domain.Address
	minStake  uint64
	resolvers map[domain.Address]struct{}
	logger    *slog.Logger
}

// New creates a Program.
func New(cfg Config, logger *slog.Logger) (*Program, error) {
	if cfg.ProgramID.IsZero() {
		return nil, errors.New("escrow: program id is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	minStake := cfg.MinStake
	if minStake == 0 {
		minStake = domain.DefaultMinStake
	}
	resolvers := make(map[domain.Address]struct{}, len(cfg.TrustedResolvers))
	for _, r := range cfg.TrustedResolvers {
		resolvers[r] = struct{}{}
	}
	return &Program{
		id:        cfg.ProgramID,
		config:    domain.ConfigAddress(cfg.ProgramID),
		minStake:  minStake,
		resolvers: resolvers,
		logger:    logger.With(slog.String("component", "escrow")),
	}, nil
}

// ID returns the program identity that owns every escrow record.
func (p *Program) ID() domain.Address { return p.id }

// ConfigAddress returns the configuration record address.
func (p *Program) ConfigAddress() domain.Address { return p.config }

// MatchAddress returns the custody record address for matchID.
func (p *Program) MatchAddress(matchID uint64) domain.Address {
	return domain.MatchAddress(p.id, matchID)
}

// MinStake returns the effective stake floor.
func (p *Program) MinStake() uint64 { return p.minStake }

// Accounts resolves the addresses an instruction touches. Settlement credits
// the stored administrator, so its address is read from the committed
// configuration before the transaction is scheduled.
func (p *Program) Accounts(ctx context.Context, l domain.Ledger, ins domain.Instruction) ([]domain.Address, error) {
	switch ins.Op {
	case domain.OpInitialize:
		return []domain.Address{p.config, ins.Authority}, nil
	case domain.OpCreateMatch, domain.OpJoinMatch, domain.OpCancelMatch:
		return []domain.Address{p.MatchAddress(ins.MatchID), ins.Authority}, nil
	case domain.OpSettleMatch:
		cfg, err := p.loadConfig(ctx, l)
		if err != nil {
			return nil, err
		}
		return []domain.Address{p.config, p.MatchAddress(ins.MatchID), ins.Winner, cfg.Admin, ins.Authority}, nil
	case domain.OpWithdrawFees:
		return []domain.Address{p.config, ins.Authority}, nil
	case domain.OpTransfer:
		return []domain.Address{ins.Authority, ins.To}, nil
	default:
		return nil, fmt.Errorf("escrow: op %q: %w", ins.Op, domain.ErrInvalidInstruction)
	}
}

// Submit executes a verified transaction as one atomic ledger transaction.
func (p *Program) Submit(ctx context.Context, l domain.Ledger, tx domain.Transaction) (*domain.Receipt, error) {
	ins := tx.Instruction
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	keys, err := p.Accounts(ctx, l, ins)
	if err != nil {
		return nil, fmt.Errorf("escrow: %s: %w", ins.Op, err)
	}

	receipt, err := l.Execute(ctx, tx.ID, keys, func(ltx domain.LedgerTx) error {
		return p.process(ltx, tx)
	})
	if err != nil {
		p.logger.WarnContext(ctx, "transaction rejected",
			slog.String("op", string(ins.Op)),
			slog.String("tx", tx.ID.Hex()),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("escrow: %s: %w", ins.Op, err)
	}
	receipt.Op = ins.Op
	receipt.Signers = tx.Signers
	for _, ev := range receipt.Events {
		p.logEvent(ctx, ev)
	}
	return receipt, nil
}

func (p *Program) process(ltx domain.LedgerTx, tx domain.Transaction) error {
	ins := tx.Instruction
	if !tx.SignedBy(ins.Authority) {
		return fmt.Errorf("escrow: %s requires %s: %w", ins.Op, ins.Authority.Short(), domain.ErrMissingSignature)
	}
	switch ins.Op {
	case domain.OpInitialize:
		return p.initialize(ltx, ins)
	case domain.OpCreateMatch:
		return p.createMatch(ltx, ins)
	case domain.OpJoinMatch:
		return p.joinMatch(ltx, ins)
	case domain.OpSettleMatch:
		return p.settleMatch(ltx, ins)
	case domain.OpCancelMatch:
		return p.cancelMatch(ltx, ins)
	case domain.OpWithdrawFees:
		return p.withdrawFees(ltx, ins)
	case domain.OpTransfer:
		return p.transfer(ltx, ins)
	default:
		return fmt.Errorf("escrow: op %q: %w", ins.Op, domain.ErrInvalidInstruction)
	}
}

// Reclaim tombstones a terminal, empty match record. The transaction id is
// derived from the match so a repeated reclaim is rejected as a replay.
func (p *Program) Reclaim(ctx context.Context, l domain.Ledger, matchID uint64) (*domain.Receipt, error) {
	addr := p.MatchAddress(matchID)
	receipt, err := l.Execute(ctx, p.reclaimTxID(matchID), []domain.Address{addr}, func(ltx domain.LedgerTx) error {
		acct, m, err := p.readMatch(ltx, addr)
		if err != nil {
			return err
		}
		if !m.Status.Terminal() {
			return fmt.Errorf("escrow: reclaim match %d in status %s: %w", matchID, m.Status, domain.ErrInvalidInstruction)
		}
		if acct.Balance != 0 {
			return fmt.Errorf("escrow: reclaim match %d: %w", matchID, domain.ErrAccountNotEmpty)
		}
		if err := ltx.Close(addr); err != nil {
			return err
		}
		ltx.Emit(domain.Event{Kind: domain.EventMatchArchived, MatchID: matchID, Actor: m.Depositor})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("escrow: reclaim: %w", err)
	}
	for _, ev := range receipt.Events {
		p.logEvent(ctx, ev)
	}
	return receipt, nil
}

func (p *Program) reclaimTxID(matchID uint64) domain.Hash {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], matchID)
	return domain.Hash(ethcrypto.Keccak256Hash([]byte("reclaim"), p.id[:], id[:]))
}

func (p *Program) logEvent(ctx context.Context, ev domain.Event) {
	switch ev.Kind {
	case domain.EventPlatformInitialized:
		p.logger.InfoContext(ctx, "platform initialized",
			slog.String("admin", ev.Actor.Hex()),
			slog.Int("fee_percentage", int(ev.FeePercentage)),
		)
	case domain.EventMatchCreated:
		p.logger.InfoContext(ctx, "match created",
			slog.Uint64("match_id", ev.MatchID),
			slog.String("depositor", ev.Actor.Hex()),
			slog.Uint64("stake", ev.Amount),
		)
	case domain.EventMatchJoined:
		p.logger.InfoContext(ctx, "match joined",
			slog.Uint64("match_id", ev.MatchID),
			slog.String("opponent", ev.Actor.Hex()),
		)
	case domain.EventMatchSettled:
		p.logger.InfoContext(ctx, "match settled",
			slog.Uint64("match_id", ev.MatchID),
			slog.String("winner", ev.Actor.Hex()),
			slog.Uint64("payout", ev.Amount),
			slog.Uint64("fee", ev.Fee),
		)
	case domain.EventMatchCancelled:
		p.logger.InfoContext(ctx, "match cancelled",
			slog.Uint64("match_id", ev.MatchID),
			slog.Uint64("refund", ev.Amount),
		)
	case domain.EventFeesWithdrawn:
		p.logger.InfoContext(ctx, "fees withdrawn",
			slog.String("admin", ev.Actor.Hex()),
			slog.Uint64("amount", ev.Amount),
		)
	default:
		p.logger.DebugContext(ctx, "program event",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("match_id", ev.MatchID),
		)
	}
}
