package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
	"github.com/alanyoungcy/stakeescrow/internal/ledger"
)

func (p *Program) loadConfig(ctx context.Context, l domain.Ledger) (domain.GlobalConfig, error) {
	view, err := p.Config(ctx, l)
	if err != nil {
		return domain.GlobalConfig{}, err
	}
	return view.GlobalConfig, nil
}

// Config reads the committed configuration record.
func (p *Program) Config(ctx context.Context, l domain.Ledger) (domain.ConfigView, error) {
	acct, err := l.Account(ctx, p.config)
	if err != nil {
		return domain.ConfigView{}, fmt.Errorf("escrow: config: %w", err)
	}
	if acct.Closed || acct.Owner != p.id {
		return domain.ConfigView{}, fmt.Errorf("escrow: config: %w", domain.ErrNotFound)
	}
	cfg, err := domain.DecodeGlobalConfig(acct.Data)
	if err != nil {
		return domain.ConfigView{}, err
	}
	return domain.ConfigView{Address: p.config, Balance: acct.Balance, GlobalConfig: cfg}, nil
}

// Match reads one committed match record.
func (p *Program) Match(ctx context.Context, l domain.Ledger, matchID uint64) (domain.MatchView, error) {
	addr := p.MatchAddress(matchID)
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return domain.MatchView{}, fmt.Errorf("escrow: match %d: %w", matchID, err)
	}
	if acct.Closed {
		return domain.MatchView{}, fmt.Errorf("escrow: match %d: %w", matchID, domain.ErrAccountClosed)
	}
	if acct.Owner != p.id {
		return domain.MatchView{}, fmt.Errorf("escrow: match %d: %w", matchID, domain.ErrNotFound)
	}
	m, err := domain.DecodeMatchRecord(acct.Data)
	if err != nil {
		return domain.MatchView{}, err
	}
	view := domain.MatchView{Address: addr, Balance: acct.Balance, MatchRecord: m}
	if err := p.attachPreview(ctx, l, &view, nil); err != nil {
		return domain.MatchView{}, err
	}
	return view, nil
}

// Matches lists committed match records ordered by match id.
func (p *Program) Matches(ctx context.Context, l domain.Ledger, filter domain.MatchFilter) ([]domain.MatchView, error) {
	accts, err := l.ProgramAccounts(ctx, p.id, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("escrow: list matches: %w", err)
	}

	views := make([]domain.MatchView, 0, len(accts))
	for _, acct := range accts {
		if !domain.IsMatchRecord(acct.Data) {
			continue
		}
		m, err := domain.DecodeMatchRecord(acct.Data)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(m) {
			continue
		}
		views = append(views, domain.MatchView{Address: acct.Address, Balance: acct.Balance, MatchRecord: m})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].MatchID < views[j].MatchID })
	views = ledger.Page(views, filter.ListOpts)

	var cfg *domain.GlobalConfig
	for i := range views {
		if err := p.attachPreview(ctx, l, &views[i], &cfg); err != nil {
			return nil, err
		}
	}
	return views, nil
}

// attachPreview sets the settlement preview on in-progress matches. cached
// lets list calls read the configuration once.
func (p *Program) attachPreview(ctx context.Context, l domain.Ledger, view *domain.MatchView, cached **domain.GlobalConfig) error {
	if view.Status != domain.MatchStatusInProgress {
		return nil
	}
	var cfg domain.GlobalConfig
	switch {
	case cached != nil && *cached != nil:
		cfg = **cached
	default:
		loaded, err := p.loadConfig(ctx, l)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cfg = loaded
		if cached != nil {
			*cached = &loaded
		}
	}
	split, err := ComputeSettlement(view.StakeAmount, cfg.FeePercentage)
	if err != nil {
		return nil
	}
	view.Preview = &split
	return nil
}

// Account reads any ledger account.
func (p *Program) Account(ctx context.Context, l domain.Ledger, addr domain.Address) (domain.Account, error) {
	acct, err := l.Account(ctx, addr)
	if err != nil {
		return domain.Account{}, fmt.Errorf("escrow: account: %w", err)
	}
	return acct, nil
}
