package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"worldchains.ai/internal/persistence/archive"
)

func archiveCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List or rotate archived snapshots",
	}

	var ledgerID string
	list := &cobra.Command{
		Use:   "list",
		Short: "Print metadata of archived snapshots, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if ledgerID == "" {
				return errors.New("--ledger is required")
			}
			metas, err := archive.List(opts.ledgerDir(ledgerID))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), metas)
		},
	}
	list.Flags().StringVar(&ledgerID, "ledger", "", "ledger id")

	var keep int
	var rotateLedger string
	rotate := &cobra.Command{
		Use:   "rotate",
		Short: "Archive all but the newest snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rotateLedger == "" {
				return errors.New("--ledger is required")
			}
			moved, err := archive.Rotate(opts.ledgerDir(rotateLedger), keep, time.Now())
			if err != nil {
				return err
			}
			if moved == nil {
				moved = []string{}
			}
			return printJSON(cmd.OutOrStdout(), moved)
		},
	}
	rotate.Flags().StringVar(&rotateLedger, "ledger", "", "ledger id")
	rotate.Flags().IntVar(&keep, "keep", 3, "snapshots left in place")

	cmd.AddCommand(list, rotate)
	return cmd
}
