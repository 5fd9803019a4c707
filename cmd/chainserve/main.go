package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "chainserve",
		Short:        "Serve prompt, chat and retrieval chains over HTTP",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newInvokeCmd(&configPath),
		newTranslateCmd(&configPath),
		newChatCmd(&configPath),
		newIngestCmd(&configPath),
		newRoutesCmd(&configPath),
	)
	return rootCmd
}
