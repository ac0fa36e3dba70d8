// Package cli implements the meshlog command line interface.
package cli

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/meshlog/meshlog/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"                      _     _\n" +
		"  _ __ ___   ___  ___| |__ | | ___   __ _\n" +
		" | '_ ` _ \\ / _ \\/ __| '_ \\| |/ _ \\ / _` |\n" +
		" | | | | | |  __/\\__ \\ | | | | (_) | (_| |\n" +
		" |_| |_| |_|\\___||___/_| |_|_|\\___/ \\__, |\n" +
		"                                    |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "meshlog",
	Short: "meshlog - Mesh radio packet log",
	Long:  color.CyanString(logo) + "\nPacket persistence and conversation state for mesh radio networks.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(qrCmd)
}
