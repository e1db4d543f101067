// Kazi — remote npm tool execution service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kazi",
	Short: "Kazi — install npm packages and execute their tools over HTTP.",
	Long: `Kazi is an HTTP service that installs an npm package on demand into an
ephemeral workspace, executes one of its exported tools in an isolated
child process, and returns the normalized result. Every request gets a
fresh install; nothing persists between executions.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
