package cmd

import (
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/mkravets/Beam/internal/client/peer"
)

var flagSTUN []string

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a room and broadcast to its viewers",
	Long: `Create a password-protected room and initiate a media link toward each
viewer that joins. Capture wiring is up to the caller; the session
negotiates a video track that can be replaced while live.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := createRoom(flagServer, flagRoom, flagPassword); err != nil {
			return err
		}

		track, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "beam",
		)
		if err != nil {
			return err
		}

		return runSession(peer.RoleHost, peer.NewPionFactory(flagSTUN, track))
	},
}

func init() {
	hostCmd.Flags().StringSliceVar(&flagSTUN, "stun", nil, "STUN server URLs")
	rootCmd.AddCommand(hostCmd)
}
