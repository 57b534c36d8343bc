package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mkravets/Beam/internal/client/peer"
)

var flagViewSTUN []string

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Join an existing room as a viewer",
	Long: `Join a room and respond to the host's link negotiation. On transient
link loss the viewer retries the join on a fixed interval, bounded in
attempts; an authentication failure stops retrying for good.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(peer.RoleViewer, peer.NewPionFactory(flagViewSTUN, nil))
	},
}

func init() {
	viewCmd.Flags().StringSliceVar(&flagViewSTUN, "stun", nil, "STUN server URLs")
	rootCmd.AddCommand(viewCmd)
}
