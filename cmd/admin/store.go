package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/store"
	"worldchains.ai/internal/store/sqlite"
)

// storeCmd reads a SQLite state store directly. Run it against a stopped
// server or a copy; SQLite WAL allows concurrent readers but the view
// may lag.
func storeCmd(opts *rootOptions) *cobra.Command {
	var ledgerID, dbPath string
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Read a ledger's SQLite state store",
	}
	cmd.PersistentFlags().StringVar(&ledgerID, "ledger", "", "ledger id")
	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "state store path (default <data>/ledgers/<id>/state.sqlite)")

	open := func() (*sqlite.Store, error) {
		p := dbPath
		if p == "" {
			if ledgerID == "" {
				return nil, errors.New("need --ledger or --db")
			}
			p = filepath.Join(opts.ledgerDir(ledgerID), "state.sqlite")
		}
		if _, err := os.Stat(p); err != nil {
			return nil, err
		}
		return sqlite.Open(p)
	}

	namespaces := &cobra.Command{
		Use:   "namespaces",
		Short: "List namespaces holding at least one key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			ns, err := st.Namespaces(context.Background())
			if err != nil {
				return err
			}
			for _, n := range ns {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}

	keys := &cobra.Command{
		Use:   "keys <namespace>",
		Short: "List the keys of a namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			ks, err := st.Keys(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, k := range ks {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <namespace> <key>",
		Short: "Print one stored value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			v, ok, err := st.Get(context.Background(), args[0], args[1])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s/%s not found", args[0], args[1])
			}
			if json.Valid(v) {
				var pretty any
				if err := json.Unmarshal(v, &pretty); err == nil {
					return printJSON(cmd.OutOrStdout(), pretty)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(v)))
			return nil
		},
	}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List outbound transfers still waiting for an ack",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := open()
			if err != nil {
				return err
			}
			defer st.Close()
			out, err := pendingTransfers(context.Background(), st)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.AddCommand(namespaces, keys, get, pending)
	return cmd
}

func pendingTransfers(ctx context.Context, st store.Store) ([]ledger.PendingTransfer, error) {
	keys, err := st.Keys(ctx, ledger.NSPendingTransfers)
	if err != nil {
		return nil, err
	}
	out := make([]ledger.PendingTransfer, 0, len(keys))
	for _, k := range keys {
		var p ledger.PendingTransfer
		ok, err := store.GetJSON(ctx, st, ledger.NSPendingTransfers, k, &p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}
