package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meshlog/meshlog/internal/meshid"
	"github.com/meshlog/meshlog/internal/store"
)

var (
	historyLimit     int
	historyChannel   int
	historyNode      string
	historyDMOnly    bool
	historyBroadcast bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show stored text messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		var channel *int
		if cmd.Flags().Changed("channel") {
			channel = &historyChannel
		}

		var msgs []store.Message
		if historyNode != "" {
			msgs, err = s.MessagesForNode(meshid.Normalize(historyNode), channel, historyLimit, 0, historyDMOnly)
		} else {
			msgs, err = s.TextMessages(channel, historyLimit, 0, historyBroadcast)
		}
		if err != nil {
			return err
		}

		if len(msgs) == 0 {
			fmt.Println("No messages.")
			return nil
		}
		ids := make([]int64, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		reactions, _ := s.ReactionsForAll(ids)
		refs, _ := s.ReplyRefsForAll(ids)

		for _, m := range msgs {
			line := messageLine(m)
			if _, isReply := refs[m.ID]; isReply {
				line += "  ↩"
			}
			fmt.Println(line)
			for _, r := range reactions[m.ID] {
				fmt.Printf("    %s %s\n", r.Emoji, r.ReactorNode)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 50, "maximum messages to show")
	historyCmd.Flags().IntVarP(&historyChannel, "channel", "c", 0, "restrict to one channel")
	historyCmd.Flags().StringVar(&historyNode, "node", "", "show conversation with a node id")
	historyCmd.Flags().BoolVar(&historyDMOnly, "dm", false, "direct messages only (with --node)")
	historyCmd.Flags().BoolVar(&historyBroadcast, "broadcast", false, "broadcasts only")
}
