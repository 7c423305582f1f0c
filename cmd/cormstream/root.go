package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "cormstream",
	Short:         "Stream large query results row by row.",
	Version:       fmt.Sprintf("%s (commit %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(newQueryCmd())
}
