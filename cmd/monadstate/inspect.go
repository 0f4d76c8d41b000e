package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/erigontech/monadstate/chunkpool"
)

// newInspectCmd reports occupancy for chunks this process has itself
// opened or created. Pool.Open does not scan dataDir for pre-existing
// chunk files (chunk ids are tracked by the caller, not derived from
// directory listing), so inspect run standalone against an already-
// populated data directory from a prior serve run reports zero chunks —
// it is most useful wired into the same process as serve, or against a
// directory this invocation itself populates via compact/expire.
func newInspectCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "print chunk pool occupancy tracked by this process for the configured data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := chunkpool.Open(g.dataDir, g.capacity)
			if err != nil {
				return err
			}
			defer pool.Close()

			chunks := pool.Chunks()
			if len(chunks) == 0 {
				fmt.Println("no chunks allocated yet")
				return nil
			}
			for _, c := range chunks {
				fmt.Printf("chunk %-6d family=%-10s cursor=%d/%d\n", c.ID, c.Family, c.Cursor, c.Capacity)
			}
			return nil
		},
	}
	return cmd
}
