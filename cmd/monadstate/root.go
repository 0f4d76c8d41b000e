package main

import (
	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
)

// globalFlags holds the flags every subcommand shares: where the chunk
// pool lives on disk and how large a fresh chunk should be allocated.
type globalFlags struct {
	dataDir  string
	capacity datasize.ByteSize
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{capacity: 64 * datasize.MB}

	root := &cobra.Command{
		Use:           "monadstate",
		Short:         "monadstate runs the trie-backed EVM state storage engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.dataDir, "datadir", "./monadstate-data", "chunk pool data directory")
	pf.Var(byteSizeFlag{&flags.capacity}, "chunk-capacity", "capacity of a freshly allocated chunk")

	root.AddCommand(
		newServeCmd(flags),
		newCompactCmd(flags),
		newExpireCmd(flags),
		newInspectCmd(flags),
	)
	return root
}
