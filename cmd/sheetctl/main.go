// Command sheetctl inspects, converts and transforms table files offline,
// using the same parser, exporter and sandbox as the server.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/JonMunkholm/sheetd/internal/core"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err, followed by the explanation the server would give
// its users for the same failure.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}
