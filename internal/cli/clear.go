package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshlog/meshlog/internal/config"
	"github.com/meshlog/meshlog/internal/textlog"
)

var clearCmd = &cobra.Command{
	Use:       "clear {messages|nodes|logs|all}",
	Short:     "Delete stored data",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"messages", "nodes", "logs", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		switch args[0] {
		case "messages":
			n, err := s.ClearMessages()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d message(s)\n", n)
		case "nodes":
			n, err := s.ClearNodes()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d node(s)\n", n)
		case "logs":
			n, err := clearTextLogs(cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d log file(s)\n", n)
		case "all":
			counts, err := s.ClearAll()
			if err != nil {
				return err
			}
			logs, _ := clearTextLogs(cfg)
			fmt.Printf("Removed %d message(s), %d node(s), %d log file(s)\n",
				counts.Messages, counts.Nodes, logs)
		default:
			return fmt.Errorf("unknown target %q", args[0])
		}
		return nil
	},
}

func clearTextLogs(cfg *config.Config) (int, error) {
	dir, err := config.ExpandHome(cfg.TextLog.Dir)
	if err != nil {
		return 0, err
	}
	l := textlog.New(dir, cfg.TextLog.MaxSizeMB, cfg.TextLog.Backups)
	defer l.Close()
	return l.ClearLogs(), nil
}
