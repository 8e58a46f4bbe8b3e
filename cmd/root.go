// Package cmd contains the relay command-line entry points.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - streaming Gemini responses into Discord",
	Long: `Relay is a Discord bot that streams Gemini responses into a single,
progressively edited message. Invoke it with /run; the response can be
seeded with recent channel conversation and stopped mid-stream by its
owner.`,
	RunE:          runBot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
