// Command kbqa is the entry point for the knowledge base question-answering
// service. It provides a CLI (via Cobra) for ingestion, one-off questions and
// history, and an HTTP server for interactive use.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbqa-go/cmd/kbqa/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
