package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erigontech/monadstate/internal/chainconfig"
	"github.com/erigontech/monadstate/state/statetest"
	"github.com/erigontech/monadstate/trie"
)

// maintenanceFlags is shared by compact and expire: both build a resident
// trie from a pre-state file and sweep it with thresholds relative to the
// engine's current virtual clocks. Compaction and expiration only ever
// touch nodes already resident in memory (loadChild has no disk loader
// wired for a cold pass, see trie/update.go) — these subcommands are
// therefore a maintenance-policy exerciser against freshly built state,
// not a reload-an-arbitrary-root-from-disk tool.
type maintenanceFlags struct {
	preStateFile string
	version      uint64
	headerTime   uint64
	cancunTime   uint64
}

// chainConfigAndHeader builds the header-validation gate Commit runs before
// folding a pre-state's UpdateList (spec.md §1's ambient blob-gas concern),
// using mf.cancunTime/headerTime as the fork-activation and block timestamp.
// The default cancunTime of 0 means every committed block validates as
// post-Cancun; the header then carries zero-valued BlobGasUsed,
// ExcessBlobGas and ParentBeaconBlockRoot, so ValidateHeader's presence
// check passes; --cancun-time lets a caller push activation later to
// exercise the absence-check branch instead.
func (mf *maintenanceFlags) chainConfigAndHeader() (*chainconfig.Config, *chainconfig.Header) {
	config := &chainconfig.Config{
		CancunTime:                 mf.cancunTime,
		TargetBlobGasPerBlock:      3 * chainconfig.BlobGasPerBlob,
		MinBlobGasPrice:            1,
		BlobGasPriceUpdateFraction: 3338477,
	}
	header := &chainconfig.Header{
		Number: mf.version,
		Time:   mf.headerTime,
	}
	if config.IsCancun(header.Time) {
		var blobGasUsed, excessBlobGas uint64
		var parentRoot [32]byte
		header.BlobGasUsed = &blobGasUsed
		header.ExcessBlobGas = &excessBlobGas
		header.ParentBeaconBlockRoot = &parentRoot
	}
	return config, header
}

func loadPreState(path string) (statetest.PreState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pre-state file: %w", err)
	}
	var pre statetest.PreState
	if err := json.Unmarshal(data, &pre); err != nil {
		return nil, fmt.Errorf("parse pre-state file: %w", err)
	}
	return pre, nil
}

func newCompactCmd(g *globalFlags) *cobra.Command {
	mf := &maintenanceFlags{version: 1}
	var offsetFast, offsetSlow uint64

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "run a compaction pass over a freshly committed trie built from a pre-state file",
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

			ctx.CompactOffsetFast = offsetFast
			ctx.CompactOffsetSlow = offsetSlow
			if _, err := trie.CompactAndExpire(ctx, trie.NewAccountStateMachine(), root); err != nil {
				return err
			}
			fmt.Printf("nodes rewritten=%d bytes read=%d subtrees pruned=%d\n",
				ctx.Stats.NodesRewritten, ctx.Stats.BytesRead, ctx.Stats.SubtreesPruned)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&mf.preStateFile, "pre", "", "path to a pre-state JSON file (statetest.PreState shape)")
	flags.Uint64Var(&mf.version, "version", mf.version, "block version to commit the pre-state at")
	flags.Uint64Var(&mf.headerTime, "time", 0, "header timestamp validated against --cancun-time before commit")
	flags.Uint64Var(&mf.cancunTime, "cancun-time", 0, "fork-activation timestamp for the commit's header validation gate")
	flags.Uint64Var(&offsetFast, "compact-offset-fast", 0, "fast-ring compaction threshold")
	flags.Uint64Var(&offsetSlow, "compact-offset-slow", 0, "slow-ring compaction threshold")
	cmd.MarkFlagRequired("pre")
	return cmd
}
