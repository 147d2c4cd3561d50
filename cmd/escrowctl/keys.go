package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stakeescrow/internal/crypto"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new signing key and print it with its identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			d, _, err := signingDomain(cfg)
			if err != nil {
				return err
			}
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			signer, err := crypto.NewSigner(key, d)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{
				"private_key": key,
				"identity":    signer.Identity().Hex(),
			})
		},
	}
}

func encryptKeyCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "encrypt-key",
		Short: "Encrypt the --key private key into a password-protected key file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.key == "" || flags.password == "" {
				return errors.New("encrypt-key requires --key and --password")
			}
			data, err := crypto.EncryptKey(flags.key, flags.password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("write key file: %w", err)
			}
			id, err := crypto.KeyFileIdentity(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (identity %s)\n", out, id.Hex())
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "escrow-key.json", "output key file")
	return cmd
}

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the identity of the configured signing key",
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
			fmt.Fprintln(cmd.OutOrStdout(), signer.Identity().Hex())
			return nil
		},
	}
}
