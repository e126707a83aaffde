package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/devblac/quest-verify/internal/storage"
	"github.com/spf13/cobra"
)

var (
	flagLimit  int
	flagFormat string
	flagOut    string
)

func init() {
	ledgerCmd.PersistentFlags().IntVar(&flagLimit, "limit", 100, "Maximum number of entries (newest first)")
	ledgerExportCmd.Flags().StringVar(&flagFormat, "format", "csv", "Export format: csv or json")
	ledgerExportCmd.Flags().StringVarP(&flagOut, "out", "o", "", "Output file (default stdout)")
	ledgerCmd.AddCommand(ledgerListCmd, ledgerExportCmd)
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the replay ledger",
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent ledger entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		entries, err := readLedger(cmd)
		if err != nil {
			return err
		}
		return writeTable(cmd.OutOrStdout(), entries)
	},
}

var ledgerExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export ledger entries as csv or json",
	RunE: func(cmd *cobra.Command, args []string) error {
		format := strings.ToLower(flagFormat)
		if format != "csv" && format != "json" {
			return fmt.Errorf("unsupported format %q (csv or json)", flagFormat)
		}
		entries, err := readLedger(cmd)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if flagOut != "" {
			f, err := os.Create(flagOut)
			if err != nil {
				return fmt.Errorf("create %s: %w", flagOut, err)
			}
			defer f.Close()
			out = f
		}
		if format == "json" {
			return writeJSON(out, entries)
		}
		return writeCSV(out, entries)
	},
}

func readLedger(cmd *cobra.Command) ([]storage.LedgerEntry, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := openLedger(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.ListLedgerEntries(cmd.Context(), flagLimit)
}

var csvHeader = []string{
	"id", "chain_id", "tx_hash", "claimant_id", "task_id", "task_type",
	"verified_amount", "event_name", "block_number", "log_index", "created_at",
}

func writeCSV(w io.Writer, entries []storage.LedgerEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.ID,
			strconv.FormatUint(e.ChainID, 10),
			e.TxHash,
			e.ClaimantID,
			e.TaskID,
			e.TaskType,
			deref(e.VerifiedAmount),
			deref(e.EventName),
			derefUint(e.BlockNumber),
			derefUint(e.LogIndex),
			e.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, entries []storage.LedgerEntry) error {
	if entries == nil {
		entries = []storage.LedgerEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

func writeTable(w io.Writer, entries []storage.LedgerEntry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tCHAIN\tTX\tCLAIMANT\tTASK\tTYPE\tAMOUNT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.UTC().Format(time.RFC3339), e.ChainID, shortHash(e.TxHash),
			e.ClaimantID, e.TaskID, e.TaskType, deref(e.VerifiedAmount))
	}
	return tw.Flush()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:10] + "..." + h[len(h)-4:]
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefUint(v *uint64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(*v, 10)
}
