package main

import (
	"fmt"

	"github.com/devblac/quest-verify/internal/chain"
	"github.com/devblac/quest-verify/internal/config"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate config, ping RPC endpoints and the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		ctx := cmd.Context()

		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("config invalid: %w", err)
		}
		fmt.Fprintf(out, "config OK (version %d)\n", cfg.Version)

		failures := 0
		for _, ch := range cfg.Chains {
			gw, err := chain.Dial(ch.RPCURL, ch.ID, ch.TimeoutDuration())
			if err != nil {
				failures++
				fmt.Fprintf(out, "- chain %d: ERROR %v\n", ch.ID, err)
				continue
			}
			remote, err := gw.RemoteChainID(ctx)
			switch {
			case err != nil:
				failures++
				fmt.Fprintf(out, "- chain %d: ERROR %v\n", ch.ID, err)
			case remote != ch.ID:
				failures++
				fmt.Fprintf(out, "- chain %d: ERROR node reports chain id %d\n", ch.ID, remote)
			default:
				fmt.Fprintf(out, "- chain %d (%s): OK\n", ch.ID, chainName(ch))
			}
		}

		store, err := openLedger(ctx, cfg)
		if err != nil {
			failures++
			fmt.Fprintf(out, "- ledger %s: ERROR %v\n", cfg.Ledger.Driver, err)
		} else {
			if err := store.Ping(ctx); err != nil {
				failures++
				fmt.Fprintf(out, "- ledger %s: ERROR %v\n", cfg.Ledger.Driver, err)
			} else {
				fmt.Fprintf(out, "- ledger %s: OK\n", cfg.Ledger.Driver)
			}
			_ = store.Close()
		}

		if failures > 0 {
			return fmt.Errorf("validate: %d check(s) failed", failures)
		}

		fmt.Fprintln(out, "validate: success")
		return nil
	},
}

func chainName(ch config.Chain) string {
	if ch.Name != "" {
		return ch.Name
	}
	return chain.NetworkName(ch.ID)
}
