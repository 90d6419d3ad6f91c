package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaypool/relaypool/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := handlers.CurrentVersion()

		fmt.Printf("%s %s\n", info.App.Name, info.App.Version)
		if !extended {
			return nil
		}

		fmt.Printf("Commit: %s\n", info.App.Commit)
		fmt.Printf("Built: %s\n", info.App.BuildDate)
		fmt.Printf("Go: %s (%s)\n", info.App.GoVersion, info.Runtime.Platform)
		fmt.Printf("\n")
		fmt.Printf("Gofulmen: %s\n", info.Dependencies.Gofulmen)
		fmt.Printf("Crucible: %s\n", info.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
