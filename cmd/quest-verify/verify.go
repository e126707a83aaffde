package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/devblac/quest-verify/internal/claims"
	"github.com/spf13/cobra"
)

var flagSubmit bool

func init() {
	verifyCmd.Flags().BoolVar(&flagSubmit, "submit", false, "Register the evidence in the ledger and report the reward decision")
}

var verifyCmd = &cobra.Command{
	Use:   "verify <request.json|->",
	Short: "Verify a single claim from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, err := readSubmission(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}

		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := buildApp(cmd.Context(), cfg, log, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")

		if !flagSubmit {
			res := a.claims.Verify(cmd.Context(), sub.Request)
			if err := enc.Encode(res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("verification failed: %s", res.ErrorCode)
			}
			return nil
		}

		dec, err := a.claims.Submit(cmd.Context(), sub)
		if err != nil {
			return err
		}
		if err := enc.Encode(dec); err != nil {
			return err
		}
		if !dec.Result.Success {
			return fmt.Errorf("claim rejected: %s", dec.Result.ErrorCode)
		}
		return nil
	},
}

func readSubmission(stdin io.Reader, path string) (claims.Submission, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return claims.Submission{}, fmt.Errorf("open request: %w", err)
		}
		defer f.Close()
		r = f
	}
	var sub claims.Submission
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&sub); err != nil {
		return claims.Submission{}, fmt.Errorf("parse request: %w", err)
	}
	if sub.TaskType == "" {
		return claims.Submission{}, fmt.Errorf("request: taskType is required")
	}
	return sub, nil
}
