// Package main provides gradectl, a command line runner for the grading pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gradectl",
		Short:         "Grade programming submissions from the command line",
		Long:          "gradectl runs the fetch, per-file analysis and consolidation steps against a repository or notebook link without touching the database.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newGradeCmd(), newLocateCmd())
	return root
}

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
