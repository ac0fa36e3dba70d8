package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Search messages by text or sender name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		term := args[0]
		total, err := s.CountSearch(term)
		if err != nil {
			return err
		}
		msgs, err := s.Search(term, searchLimit, 0)
		if err != nil {
			return err
		}

		fmt.Printf("%d match(es) for %q\n", total, term)
		for _, m := range msgs {
			fmt.Println(messageLine(m))
		}
		if int64(len(msgs)) < total {
			fmt.Printf("... showing newest %d\n", len(msgs))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 50, "maximum matches to show")
}
