package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/persistence/snapshot"
	"worldchains.ai/internal/store/sqlite"
)

func snapshotCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Inspect and restore ledger snapshots",
	}
	cmd.AddCommand(snapshotInspectCmd(opts))
	cmd.AddCommand(snapshotRestoreCmd(opts))
	return cmd
}

type snapshotSummary struct {
	Path       string          `json:"path"`
	Header     snapshot.Header `json:"header"`
	Region     string          `json:"region,omitempty"`
	Entries    int             `json:"entries"`
	Namespaces map[string]int  `json:"namespaces,omitempty"`
}

// resolveSnapshot returns path, or the newest snapshot of ledgerID.
func resolveSnapshot(opts *rootOptions, ledgerID, path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if ledgerID == "" {
		return "", errors.New("need --ledger or --path")
	}
	latest, err := snapshot.Latest(filepath.Join(opts.ledgerDir(ledgerID), "snapshots"))
	if err != nil {
		return "", err
	}
	if latest == "" {
		return "", fmt.Errorf("ledger %s has no snapshots", ledgerID)
	}
	return latest, nil
}

func snapshotInspectCmd(opts *rootOptions) *cobra.Command {
	var ledgerID, path string
	var headerOnly bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the header and namespace sizes of a snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := resolveSnapshot(opts, ledgerID, path)
			if err != nil {
				return err
			}
			if headerOnly {
				h, err := snapshot.ReadHeader(p)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), snapshotSummary{Path: p, Header: h})
			}
			snap, err := snapshot.ReadSnapshot(p)
			if err != nil {
				return err
			}
			sum := snapshotSummary{
				Path:       p,
				Header:     snap.Header,
				Region:     snap.Region,
				Entries:    snap.Entries(),
				Namespaces: map[string]int{},
			}
			for ns, kv := range snap.Namespaces {
				sum.Namespaces[ns] = len(kv)
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&ledgerID, "ledger", "", "ledger id; picks its newest snapshot")
	cmd.Flags().StringVar(&path, "path", "", "snapshot file")
	cmd.Flags().BoolVar(&headerOnly, "header", false, "read only the header line")
	return cmd
}

// snapshotRestoreCmd loads a snapshot into a fresh SQLite state store.
// The server must not be running on that store.
func snapshotRestoreCmd(opts *rootOptions) *cobra.Command {
	var ledgerID, path, out string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Write a snapshot into an empty SQLite state store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := resolveSnapshot(opts, ledgerID, path)
			if err != nil {
				return err
			}
			snap, err := snapshot.ReadSnapshot(p)
			if err != nil {
				return err
			}
			if out == "" {
				out = filepath.Join(opts.ledgerDir(snap.Header.LedgerID), "state.sqlite")
			}
			ctx := context.Background()
			st, err := sqlite.Open(out)
			if err != nil {
				return err
			}
			defer st.Close()

			existing, err := st.Namespaces(ctx)
			if err != nil {
				return err
			}
			if len(existing) > 0 {
				sort.Strings(existing)
				return fmt.Errorf("%s is not empty (namespaces %v)", out, existing)
			}
			l, err := ledger.New(ledger.Config{
				ID:     snap.Header.LedgerID,
				Kind:   ledger.Kind(snap.Header.Kind),
				Region: snap.Region,
			}, ledger.Options{Store: st})
			if err != nil {
				return err
			}
			if err := l.Init(ctx); err != nil {
				return err
			}
			if err := l.Restore(ctx, snap); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s at height %d into %s (%d entries)\n",
				snap.Header.LedgerID, l.Height(), out, snap.Entries())
			return nil
		},
	}
	cmd.Flags().StringVar(&ledgerID, "ledger", "", "ledger id; picks its newest snapshot")
	cmd.Flags().StringVar(&path, "path", "", "snapshot file")
	cmd.Flags().StringVar(&out, "out", "", "target sqlite file (default <data>/ledgers/<id>/state.sqlite)")
	return cmd
}
