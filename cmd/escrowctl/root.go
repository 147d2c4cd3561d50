package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stakeescrow/internal/config"
	"github.com/alanyoungcy/stakeescrow/internal/crypto"
	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	configPath string
	serverURL  string
	apiKey     string
	key        string
	keyFile    string
	password   string
}

var flags globals

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "escrowctl",
		Short:         "Stake escrow key, address and transaction tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "config.toml", "path to configuration file (skipped when missing)")
	pf.StringVar(&flags.serverURL, "server", "", "escrowd base URL (overrides wallet.server_url)")
	pf.StringVar(&flags.apiKey, "api-key", "", "escrowd API key (overrides wallet.api_key)")
	pf.StringVarP(&flags.key, "key", "k", "", "hex private key (overrides wallet.private_key)")
	pf.StringVar(&flags.keyFile, "key-file", "", "encrypted key file (overrides wallet.encrypted_key_path)")
	pf.StringVar(&flags.password, "password", "", "key file password (overrides wallet.key_password)")

	cmd.AddCommand(
		keygenCmd(),
		encryptKeyCmd(),
		identityCmd(),
		addressCmd(),
		txCmd(),
		cosignCmd(),
		matchCmd(),
		accountCmd(),
	)
	return cmd
}

// loadConfig reads the configuration file when present and applies the
// persistent flag overrides.
func loadConfig() (*config.Config, error) {
	path := flags.configPath
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.serverURL != "" {
		cfg.Wallet.ServerURL = flags.serverURL
	}
	if flags.apiKey != "" {
		cfg.Wallet.APIKey = flags.apiKey
	}
	if flags.key != "" {
		cfg.Wallet.PrivateKey = flags.key
	}
	if flags.keyFile != "" {
		cfg.Wallet.EncryptedKeyPath = flags.keyFile
	}
	if flags.password != "" {
		cfg.Wallet.KeyPassword = flags.password
	}
	return cfg, nil
}

func signingDomain(cfg *config.Config) (crypto.Domain, domain.Address, error) {
	programID, err := cfg.ProgramID()
	if err != nil {
		return crypto.Domain{}, domain.Address{}, err
	}
	return crypto.NewDomain(cfg.Program.ChainID, programID), programID, nil
}

func loadSigner(cfg *config.Config) (*crypto.Signer, error) {
	d, _, err := signingDomain(cfg)
	if err != nil {
		return nil, err
	}
	kc := crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	}
	if !kc.Configured() {
		return nil, errors.New("no signing key: pass --key or --key-file, or set wallet.private_key")
	}
	return crypto.LoadSigner(kc, d)
}
