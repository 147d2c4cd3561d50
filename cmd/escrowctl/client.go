package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/stakeescrow/internal/config"
	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// client is a minimal escrowd REST client.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newClient(cfg *config.Config) *client {
	return &client{
		baseURL: strings.TrimRight(cfg.Wallet.ServerURL, "/"),
		apiKey:  cfg.Wallet.APIKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// apiError mirrors the server's error body.
type apiError struct {
	Status  int    `json:"-"`
	Message string `json:"error"`
	Code    uint32 `json:"code,omitempty"`
	Name    string `json:"name,omitempty"`
}

func (e *apiError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("escrowd %d: %s (%s %d)", e.Status, e.Message, e.Name, e.Code)
	}
	return fmt.Sprintf("escrowd %d: %s", e.Status, e.Message)
}

func (c *client) submit(ctx context.Context, stx domain.SignedTransaction) (*domain.Receipt, error) {
	var receipt domain.Receipt
	if err := c.do(ctx, http.MethodPost, "/api/transactions", stx, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(e); err != nil || e.Message == "" {
			e.Message = http.StatusText(resp.StatusCode)
		}
		return e
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func matchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <match-id>",
		Short: "Fetch a match from escrowd",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 64); err != nil {
				return fmt.Errorf("match id: %w", err)
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var out json.RawMessage
			if err := newClient(cfg).do(cmd.Context(), http.MethodGet, "/api/matches/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}

func accountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account [address]",
		Short: "Fetch an account from escrowd (defaults to the signer's identity)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var addr domain.Address
			if len(args) == 1 {
				if addr, err = domain.ParseAddress(args[0]); err != nil {
					return err
				}
			} else {
				signer, err := loadSigner(cfg)
				if err != nil {
					return err
				}
				addr = signer.Identity()
			}
			var out json.RawMessage
			path := "/api/accounts/" + url.PathEscape(addr.Hex())
			if err := newClient(cfg).do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
}
