package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

func addressCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Derive program account addresses",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "config",
			Short: "Print the platform config account address",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				_, programID, err := signingDomain(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), domain.ConfigAddress(programID).Hex())
				return nil
			},
		},
		&cobra.Command{
			Use:   "match <match-id>",
			Short: "Print the escrow account address of a match",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := strconv.ParseUint(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("match id: %w", err)
				}
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				_, programID, err := signingDomain(cfg)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), domain.MatchAddress(programID, id).Hex())
				return nil
			},
		},
	)
	return cmd
}
