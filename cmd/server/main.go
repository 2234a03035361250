// Command server runs the brain MRI segmentation inference backend:
// the HTTP API in internal/api, backed by the model manager, result
// cache, and task registry wired up from internal/config.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "segforge inference server",
	Long:  "segforge serves brain MRI tumor segmentation inference over HTTP, orchestrating ingest, preprocessing, model inference, postprocessing and result caching for one study at a time.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (optional, env vars always win)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print the server version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("segforge %s\n", version)
	},
}
