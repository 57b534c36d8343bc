package cmd

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	flagServer   string
	flagRoom     string
	flagPassword string
	flagName     string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "beam",
	Short: "Terminal client for Beam broadcast rooms",
	Long: `Beam relays connection-setup metadata and chat between participants
of password-protected rooms; media flows peer to peer. The host command
creates a room and streams toward each joining viewer; the view command
joins an existing room and watches.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://localhost:8080", "signaling server base URL")
	rootCmd.PersistentFlags().StringVarP(&flagRoom, "room", "r", "", "room identity")
	rootCmd.PersistentFlags().StringVarP(&flagPassword, "password", "p", "", "room password")
	rootCmd.PersistentFlags().StringVarP(&flagName, "name", "n", "", "display name")
}
