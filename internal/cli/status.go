package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meshlog/meshlog/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ meshlog Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		printHeader("📊 meshlog Stats")

		if path, err := config.ConfigPath(); err == nil {
			if _, err := os.Stat(path); err == nil {
				fmt.Println("Config:   ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:   ✗ Not found (defaults in effect)")
			}
		}

		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("Messages:  %d\n", stats.Messages)
		fmt.Printf("Nodes:     %d\n", stats.Nodes)
		fmt.Printf("Reactions: %d\n", stats.Reactions)
		fmt.Printf("DB size:   %s\n", formatSize(stats.SizeBytes))
		return nil
	},
}
