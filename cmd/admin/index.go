package main

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/spf13/cobra"

	"worldchains.ai/internal/persistence/indexdb"
)

func indexCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Query the SQLite block index",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "index path (default <data>/index/blocks.sqlite)")
	open := func() (*indexdb.Reader, error) {
		p := dbPath
		if p == "" {
			p = filepath.Join(opts.dataDir, "index", "blocks.sqlite")
		}
		return indexdb.OpenReader(p)
	}

	var f indexdb.BlockFilter
	blocks := &cobra.Command{
		Use:   "blocks",
		Short: "List indexed entries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := open()
			if err != nil {
				return err
			}
			defer r.Close()
			rows, err := r.Blocks(context.Background(), f)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	blocks.Flags().StringVar(&f.Ledger, "ledger", "", "ledger id")
	blocks.Flags().StringVar(&f.Kind, "kind", "", "operation or message kind")
	blocks.Flags().StringVar(&f.Ref, "ref", "", "ref")
	blocks.Flags().StringVar(&f.Code, "code", "", "error code")
	blocks.Flags().BoolVar(&f.FailedOnly, "failed", false, "only failed entries")
	blocks.Flags().IntVar(&f.Limit, "limit", 20, "result limit")

	var ledgerID string
	snaps := &cobra.Command{
		Use:   "snapshots",
		Short: "List recorded snapshots of a ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ledgerID == "" {
				return errors.New("--ledger is required")
			}
			r, err := open()
			if err != nil {
				return err
			}
			defer r.Close()
			rows, err := r.Snapshots(context.Background(), ledgerID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), rows)
		},
	}
	snaps.Flags().StringVar(&ledgerID, "ledger", "", "ledger id")

	cmd.AddCommand(blocks, snaps)
	return cmd
}
