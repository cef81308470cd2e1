package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flowwing version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowwing %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
