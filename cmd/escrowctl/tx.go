package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stakeescrow/internal/amount"
	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// txFlags are shared by every tx subcommand.
type txFlags struct {
	matchID       uint64
	amount        string
	feePercentage uint8
	winner        string
	to            string
	nonce         uint64
	submit        bool
}

func txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tx",
		Short: "Build and sign a program instruction",
		Long: "Build an instruction with the configured key as authority, sign it and\n" +
			"print the signed transaction. With --submit it is posted to escrowd.\n" +
			"Instructions needing a second signer can be passed through cosign first.",
	}
	cmd.AddCommand(
		opCmd(domain.OpInitialize, "Initialize the platform with the signer as admin", func(f *txFlags, ins *domain.Instruction) error {
			ins.FeePercentage = f.feePercentage
			return nil
		}),
		opCmd(domain.OpCreateMatch, "Open a match and deposit the stake", func(f *txFlags, ins *domain.Instruction) error {
			ins.MatchID = f.matchID
			units, err := parseAmount(f.amount)
			ins.Amount = units
			return err
		}),
		opCmd(domain.OpJoinMatch, "Join a waiting match with a matching stake", func(f *txFlags, ins *domain.Instruction) error {
			ins.MatchID = f.matchID
			return nil
		}),
		opCmd(domain.OpSettleMatch, "Resolve an in-progress match and pay the winner", func(f *txFlags, ins *domain.Instruction) error {
			ins.MatchID = f.matchID
			winner, err := domain.ParseAddress(f.winner)
			if err != nil {
				return fmt.Errorf("winner: %w", err)
			}
			ins.Winner = winner
			return nil
		}),
		opCmd(domain.OpCancelMatch, "Cancel a waiting match and refund the depositor", func(f *txFlags, ins *domain.Instruction) error {
			ins.MatchID = f.matchID
			return nil
		}),
		opCmd(domain.OpWithdrawFees, "Withdraw accumulated platform fees to the admin", func(f *txFlags, ins *domain.Instruction) error {
			units, err := parseAmount(f.amount)
			ins.Amount = units
			return err
		}),
		opCmd(domain.OpTransfer, "Transfer native units from the signer", func(f *txFlags, ins *domain.Instruction) error {
			to, err := domain.ParseAddress(f.to)
			if err != nil {
				return fmt.Errorf("to: %w", err)
			}
			ins.To = to
			units, err := parseAmount(f.amount)
			ins.Amount = units
			return err
		}),
	)
	return cmd
}

// opCmd builds the subcommand for op; fill copies the op's flags into the
// instruction.
func opCmd(op domain.Op, short string, fill func(*txFlags, *domain.Instruction) error) *cobra.Command {
	var f txFlags
	cmd := &cobra.Command{
		Use:   string(op),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := loadSigner(cfg)
			if err != nil {
				return err
			}

			ins := domain.Instruction{
				Op:        op,
				Authority: signer.Identity(),
				Nonce:     f.nonce,
			}
			if ins.Nonce == 0 {
				ins.Nonce = uint64(time.Now().UnixNano())
			}
			if err := fill(&f, &ins); err != nil {
				return err
			}
			if err := ins.Validate(); err != nil {
				return err
			}

			stx, err := signer.SignTransaction(ins)
			if err != nil {
				return err
			}
			if !f.submit {
				return printJSON(cmd, stx)
			}
			receipt, err := newClient(cfg).submit(cmd.Context(), stx)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}

	fs := cmd.Flags()
	fs.Uint64Var(&f.nonce, "nonce", 0, "replay nonce (defaults to the current time in nanoseconds)")
	fs.BoolVar(&f.submit, "submit", false, "submit the signed transaction to escrowd")
	switch op {
	case domain.OpInitialize:
		fs.Uint8Var(&f.feePercentage, "fee-percentage", 5, "platform fee percentage (0-100)")
	case domain.OpCreateMatch:
		fs.Uint64Var(&f.matchID, "match-id", 0, "match identifier")
		fs.StringVar(&f.amount, "amount", "", "stake in native units, e.g. 0.01")
		_ = cmd.MarkFlagRequired("amount")
	case domain.OpJoinMatch, domain.OpCancelMatch:
		fs.Uint64Var(&f.matchID, "match-id", 0, "match identifier")
	case domain.OpSettleMatch:
		fs.Uint64Var(&f.matchID, "match-id", 0, "match identifier")
		fs.StringVar(&f.winner, "winner", "", "winner identity")
		_ = cmd.MarkFlagRequired("winner")
	case domain.OpWithdrawFees:
		fs.StringVar(&f.amount, "amount", "", "amount in native units")
		_ = cmd.MarkFlagRequired("amount")
	case domain.OpTransfer:
		fs.StringVar(&f.to, "to", "", "destination identity")
		fs.StringVar(&f.amount, "amount", "", "amount in native units")
		_ = cmd.MarkFlagRequired("to")
		_ = cmd.MarkFlagRequired("amount")
	}
	return cmd
}

func cosignCmd() *cobra.Command {
	var submit bool
	cmd := &cobra.Command{
		Use:   "cosign [file]",
		Short: "Add the configured key's signature to a signed transaction (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			var stx domain.SignedTransaction
			if err := json.NewDecoder(r).Decode(&stx); err != nil {
				return fmt.Errorf("decode transaction: %w", err)
			}
			if len(stx.Signatures) == 0 {
				return errors.New("transaction carries no signatures")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			signer, err := loadSigner(cfg)
			if err != nil {
				return err
			}
			stx, err = signer.Cosign(stx)
			if err != nil {
				return err
			}
			if !submit {
				return printJSON(cmd, stx)
			}
			receipt, err := newClient(cfg).submit(cmd.Context(), stx)
			if err != nil {
				return err
			}
			return printJSON(cmd, receipt)
		},
	}
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the cosigned transaction to escrowd")
	return cmd
}

func parseAmount(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("amount is required")
	}
	return amount.Parse(s)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
