package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ocrqueue",
	Short: "Asynchronous OCR job pipeline",
	Long: `ocrqueue accepts OCR jobs over HTTP, stores their payloads in object
storage and coordinates a pool of independent workers through a durable
queue and conditional record updates.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
