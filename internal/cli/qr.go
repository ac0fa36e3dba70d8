package cli

import (
	"fmt"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"

	"github.com/meshlog/meshlog/internal/meshid"
)

var qrOutput string

var qrCmd = &cobra.Command{
	Use:   "qr <node-id>",
	Short: "Write a QR code image for a node id",
	Long:  "Renders the node's canonical id as a QR code PNG, for pairing a contact on another device.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id := meshid.Normalize(args[0])
		if err := qrcode.WriteFile(id, qrcode.Medium, 512, qrOutput); err != nil {
			return fmt.Errorf("write qr code: %w", err)
		}
		fmt.Printf("🖼️  QR code for %s saved to: %s\n", id, qrOutput)
		return nil
	},
}

func init() {
	qrCmd.Flags().StringVarP(&qrOutput, "output", "o", "meshlog-qr.png", "output PNG path")
}
