package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erigontech/monadstate/state/statetest"
	"github.com/erigontech/monadstate/trie"
)

func newExpireCmd(g *globalFlags) *cobra.Command {
	mf := &maintenanceFlags{version: 1}
	var autoExpireVersion uint64

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "run an expiration pass over a freshly committed trie built from a pre-state file",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(g, 1<<16, 64, 64)
			if err != nil {
				return err
			}
			defer e.Close()

			pre, err := loadPreState(mf.preStateFile)
			if err != nil {
				return err
			}
			ctx := e.newContext()
			bs, err := statetest.MakePreState(ctx, pre)
			if err != nil {
				return err
			}
			config, header := mf.chainConfigAndHeader()
			bs.SetHeaderValidation(config, header)
			root, err := bs.Commit(mf.version)
			if err != nil {
				return err
			}

			ctx.AutoExpireVersion = autoExpireVersion
			newRoot, err := trie.CompactAndExpire(ctx, trie.NewAccountStateMachine(), root)
			if err != nil {
				return err
			}
			fmt.Printf("subtrees pruned=%d root is nil=%t\n", ctx.Stats.SubtreesPruned, newRoot == nil)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mf.preStateFile, "pre", "", "path to a pre-state JSON file (statetest.PreState shape)")
	flags.Uint64Var(&mf.version, "version", mf.version, "block version to commit the pre-state at")
	flags.Uint64Var(&mf.headerTime, "time", 0, "header timestamp validated against --cancun-time before commit")
	flags.Uint64Var(&mf.cancunTime, "cancun-time", 0, "fork-activation timestamp for the commit's header validation gate")
	flags.Uint64Var(&autoExpireVersion, "auto-expire-version", 0, "subtrees whose min version falls below this are pruned")
	cmd.MarkFlagRequired("pre")
	return cmd
}
