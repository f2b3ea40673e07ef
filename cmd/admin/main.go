package main

import (
	"io"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	dataDir string
}

func (o *rootOptions) ledgerDir(id string) string {
	return filepath.Join(o.dataDir, "ledgers", id)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "wcadmin",
		Short:         "Offline inspection and repair of worldchains ledger data",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.dataDir, "data", "./data", "runtime data directory")

	root.AddCommand(snapshotCmd(opts))
	root.AddCommand(blocksCmd(opts))
	root.AddCommand(indexCmd(opts))
	root.AddCommand(archiveCmd(opts))
	root.AddCommand(storeCmd(opts))
	root.AddCommand(queryCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}
