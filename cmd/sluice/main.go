package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "sluice",
	Short: "Sluice - horizontally scalable SSE gateway for LLM token streams",
	Long: `Sluice is a streaming gateway that fans LLM completions out to browsers
over Server-Sent Events. Instances coordinate through a shared store:
connection pools, rate limits, circuit breakers, and the response cache
are fleet-wide, and saturated instances hand requests to idle ones
through a queue failover bridge.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Sluice version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Sluice version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
