package main

import (
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"worldchains.ai/internal/ledger"
	persistlog "worldchains.ai/internal/persistence/log"
)

func blocksCmd(opts *rootOptions) *cobra.Command {
	var (
		ledgerID   string
		ref        string
		since      uint64
		tail       int
		failedOnly bool
	)
	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Print entries from a ledger's block log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ledgerID == "" {
				return errors.New("--ledger is required")
			}
			var out []ledger.BlockEntry
			err := persistlog.ReadBlocks(filepath.Join(opts.ledgerDir(ledgerID), "blocks"), func(e ledger.BlockEntry) bool {
				if e.Height < since {
					return true
				}
				if ref != "" && e.Ref != ref {
					return true
				}
				if failedOnly && e.Code == "" {
					return true
				}
				out = append(out, e)
				if tail > 0 && len(out) > tail {
					out = out[1:]
				}
				return true
			})
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, e := range out {
				if err := printJSON(w, e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&ledgerID, "ledger", "", "ledger id")
	cmd.Flags().StringVar(&ref, "ref", "", "only entries with this ref (player, guild or battle id)")
	cmd.Flags().Uint64Var(&since, "since", 0, "only entries at or above this height")
	cmd.Flags().IntVar(&tail, "tail", 50, "keep the last N matches; 0 prints all")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "only entries that carry an error code")
	return cmd
}
