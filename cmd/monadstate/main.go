// Command monadstate is the process entrypoint wiring the storage engine's
// components (C1-C10) into a long-running server or a one-shot admin
// operation, following the cobra command-tree convention erigon's own
// cmd/ binaries use.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
