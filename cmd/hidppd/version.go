package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("hidppd %s (commit %s, built %s)\n", formatVersion(version), commit, date)
		return nil
	},
}
