package cli

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var purgeDays int

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List known mesh nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		all, err := s.AllNodes()
		if err != nil {
			return err
		}
		if len(all) == 0 {
			fmt.Println("No nodes.")
			return nil
		}

		ids := make([]string, 0, len(all))
		for id := range all {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			data := all[id]
			name := id
			if user, ok := data["user"].(map[string]any); ok {
				if s, ok := user["shortName"].(string); ok && s != "" {
					name = s
				} else if l, ok := user["longName"].(string); ok && l != "" {
					name = l
				}
			}
			fav := ""
			if f, ok := data["is_favorite"].(bool); ok && f {
				fav = " ★"
			}
			fmt.Printf("%-10s %s%s\n", name, id, fav)
		}
		fmt.Printf("\n%d node(s)\n", len(all))
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete nodes not heard from recently",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		removed, err := s.DeleteNodesOlderThan(time.Duration(purgeDays) * 24 * time.Hour)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d node(s) older than %d days\n", removed, purgeDays)
		return nil
	},
}

func init() {
	purgeCmd.Flags().IntVar(&purgeDays, "days", 30, "age threshold in days")
}
