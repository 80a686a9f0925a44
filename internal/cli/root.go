// Package cli wires the acpd command line.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "acpd",
	Short: "ACP agent driver",
	Long: `acpd exposes an AI coding agent over the Agent Client Protocol.
It speaks line-delimited JSON-RPC on stdin/stdout, so an editor or terminal
client spawns it directly and streams prompt turns through it.

Running 'acpd' without a subcommand is equivalent to 'acpd serve'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.PersistentFlags().StringP("config-dir", "c", "", "Path to the configuration directory (default: ~/.acpd)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides settings.yaml)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
