package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the toolhost version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("toolhost %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
