package escrow

import (
	"errors"
	"fmt"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func (p *Program) readConfig(ltx domain.LedgerTx) (domain.Account, domain.GlobalConfig, error) {
	acct, err := ltx.Get(p.config)
	if err != nil {
		return domain.Account{}, domain.GlobalConfig{}, fmt.Errorf("escrow: config: %w", err)
	}
	if acct.Closed || acct.Owner != p.id {
		return domain.Account{}, domain.GlobalConfig{}, fmt.Errorf("escrow: config: %w", domain.ErrAccountTypeMismatch)
	}
	cfg, err := domain.DecodeGlobalConfig(acct.Data)
	if err != nil {
		return domain.Account{}, domain.GlobalConfig{}, err
	}
	return acct, cfg, nil
}

func (p *Program) readMatch(ltx domain.LedgerTx, addr domain.Address) (domain.Account, domain.MatchRecord, error) {
	acct, err := ltx.Get(addr)
	if err != nil {
		return domain.Account{}, domain.MatchRecord{}, fmt.Errorf("escrow: match: %w", err)
	}
	if acct.Closed {
		return domain.Account{}, domain.MatchRecord{}, fmt.Errorf("escrow: match %s: %w", addr.Short(), domain.ErrAccountClosed)
	}
	if acct.Owner != p.id {
		return domain.Account{}, domain.MatchRecord{}, fmt.Errorf("escrow: match %s: %w", addr.Short(), domain.ErrAccountTypeMismatch)
	}
	m, err := domain.DecodeMatchRecord(acct.Data)
	if err != nil {
		return domain.Account{}, domain.MatchRecord{}, err
	}
	return acct, m, nil
}

func (p *Program) initialize(ltx domain.LedgerTx, ins domain.Instruction) error {
	if ins.FeePercentage > domain.MaxFeePercentage {
		return domain.ErrInvalidFeePercentage
	}
	cfg := domain.GlobalConfig{Admin: ins.Authority, FeePercentage: ins.FeePercentage}
	if err := ltx.Create(p.config, p.id, cfg.Encode()); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventPlatformInitialized, Actor: ins.Authority, FeePercentage: ins.FeePercentage})
	return nil
}

func (p *Program) createMatch(ltx domain.LedgerTx, ins domain.Instruction) error {
	if ins.Amount == 0 {
		return domain.ErrInvalidStakeAmount
	}
	if ins.Amount < p.minStake {
		return domain.ErrStakeTooLow
	}
	addr := p.MatchAddress(ins.MatchID)
	// A match record holds exactly the stakes deposited into it, so an
	// address that already exists, even one only funded by a transfer, cannot
	// become one.
	switch _, err := ltx.Get(addr); {
	case err == nil:
		return fmt.Errorf("escrow: match %d: address in use: %w", ins.MatchID, domain.ErrAlreadyExists)
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	m := domain.MatchRecord{
		MatchID:     ins.MatchID,
		Depositor:   ins.Authority,
		StakeAmount: ins.Amount,
		Status:      domain.MatchStatusWaitingForOpponent,
		CreatedAt:   ltx.Now().Unix(),
	}
	if err := ltx.Create(addr, p.id, m.Encode()); err != nil {
		return err
	}
	if err := ltx.Transfer(ins.Authority, addr, ins.Amount); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventMatchCreated, MatchID: ins.MatchID, Actor: ins.Authority, Amount: ins.Amount})
	return nil
}

func (p *Program) joinMatch(ltx domain.LedgerTx, ins domain.Instruction) error {
	addr := p.MatchAddress(ins.MatchID)
	_, m, err := p.readMatch(ltx, addr)
	if err != nil {
		return err
	}
	// The status gate is the only exclusivity guard: once a second party has
	// joined the record is no longer WaitingForOpponent.
	if !domain.CanTransition(m.Status, domain.MatchStatusInProgress) {
		return domain.ErrGameNotAvailable
	}
	if m.Depositor == ins.Authority {
		return domain.ErrCannotPlaySelf
	}

	m.Opponent = ins.Authority
	m.Status = domain.MatchStatusInProgress
	if err := ltx.SetData(addr, m.Encode()); err != nil {
		return err
	}
	if err := ltx.Transfer(ins.Authority, addr, m.StakeAmount); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventMatchJoined, MatchID: m.MatchID, Actor: ins.Authority, Amount: m.StakeAmount})
	return nil
}

func (p *Program) settleMatch(ltx domain.LedgerTx, ins domain.Instruction) error {
	if len(p.resolvers) > 0 {
		if _, ok := p.resolvers[ins.Authority]; !ok {
			return domain.ErrUnauthorized
		}
	}
	addr := p.MatchAddress(ins.MatchID)
	_, m, err := p.readMatch(ltx, addr)
	if err != nil {
		return err
	}
	if !domain.CanTransition(m.Status, domain.MatchStatusSettled) {
		return domain.ErrGameNotInProgress
	}
	if !m.IsParticipant(ins.Winner) {
		return domain.ErrInvalidWinner
	}
	_, cfg, err := p.readConfig(ltx)
	if err != nil {
		return err
	}
	split, err := ComputeSettlement(m.StakeAmount, cfg.FeePercentage)
	if err != nil {
		return err
	}

	m.Winner = ins.Winner
	m.Status = domain.MatchStatusSettled
	if cfg.TotalMatches, err = checkedAdd(cfg.TotalMatches, 1); err != nil {
		return fmt.Errorf("escrow: total matches: %w", err)
	}
	if cfg.TotalFeesAccrued, err = checkedAdd(cfg.TotalFeesAccrued, split.Fee); err != nil {
		return fmt.Errorf("escrow: total fees: %w", err)
	}
	if err := ltx.SetData(addr, m.Encode()); err != nil {
		return err
	}
	if err := ltx.SetData(p.config, cfg.Encode()); err != nil {
		return err
	}

	if split.Payout > 0 {
		if err := ltx.Transfer(addr, ins.Winner, split.Payout); err != nil {
			return err
		}
	}
	if split.Fee > 0 {
		if err := ltx.Transfer(addr, cfg.Admin, split.Fee); err != nil {
			return err
		}
	}
	ltx.Emit(domain.Event{
		Kind:          domain.EventMatchSettled,
		MatchID:       m.MatchID,
		Actor:         ins.Winner,
		Amount:        split.Payout,
		Fee:           split.Fee,
		FeePercentage: cfg.FeePercentage,
	})
	return nil
}

func (p *Program) cancelMatch(ltx domain.LedgerTx, ins domain.Instruction) error {
	addr := p.MatchAddress(ins.MatchID)
	_, m, err := p.readMatch(ltx, addr)
	if err != nil {
		return err
	}
	if !domain.CanTransition(m.Status, domain.MatchStatusCancelled) {
		return domain.ErrCannotCancelInProgress
	}
	if m.Depositor != ins.Authority {
		return domain.ErrUnauthorized
	}

	m.Status = domain.MatchStatusCancelled
	if err := ltx.SetData(addr, m.Encode()); err != nil {
		return err
	}
	if err := ltx.Transfer(addr, m.Depositor, m.StakeAmount); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventMatchCancelled, MatchID: m.MatchID, Actor: m.Depositor, Amount: m.StakeAmount})
	return nil
}

// withdrawFees leaves TotalFeesAccrued untouched: the counter is the total
// ever accrued and only bounds a single withdrawal.
func (p *Program) withdrawFees(ltx domain.LedgerTx, ins domain.Instruction) error {
	acct, cfg, err := p.readConfig(ltx)
	if err != nil {
		return err
	}
	if cfg.Admin != ins.Authority {
		return domain.ErrUnauthorized
	}
	if ins.Amount > cfg.TotalFeesAccrued {
		return domain.ErrInsufficientFees
	}
	if ins.Amount > acct.Balance {
		return domain.ErrInsufficientFees
	}
	if err := ltx.Transfer(p.config, cfg.Admin, ins.Amount); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventFeesWithdrawn, Actor: cfg.Admin, Amount: ins.Amount})
	return nil
}

// transfer moves native balance between wallets, or from a wallet into the
// configuration record. Program records never act as a source, and match
// records only receive funds through the lifecycle handlers.
func (p *Program) transfer(ltx domain.LedgerTx, ins domain.Instruction) error {
	if ins.Amount == 0 {
		return fmt.Errorf("escrow: transfer of zero: %w", domain.ErrInvalidInstruction)
	}
	src, err := ltx.Get(ins.Authority)
	if err != nil {
		return fmt.Errorf("escrow: transfer source: %w", err)
	}
	if !src.IsSystem() {
		return domain.ErrUnauthorized
	}
	dst, err := ltx.Get(ins.To)
	switch {
	case err == nil:
		if !dst.IsSystem() && ins.To != p.config {
			return domain.ErrUnauthorized
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("escrow: transfer destination: %w", err)
	}
	if err := ltx.Transfer(ins.Authority, ins.To, ins.Amount); err != nil {
		return err
	}
	ltx.Emit(domain.Event{Kind: domain.EventTransfer, Actor: ins.Authority, Amount: ins.Amount})
	return nil
}
