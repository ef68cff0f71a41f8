// SPDX-License-Identifier: EPL-2.0

// Command audfeed plays, inspects and renders audio files with the audfeed
// backend.
package main

import (
	"context"
	"os"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
