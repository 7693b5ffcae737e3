// Command medextract is the command line client of the medical message
// pipeline.
package main

import (
	"os"

	"github.com/GrimVad3r/NLP-Powered-Medical-Entity-Extraction/internal/interfaces/cli"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	// Execute already printed the error.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
