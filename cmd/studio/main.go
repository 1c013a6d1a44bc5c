package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	noColor    bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "studio",
	Short: "Submit 3D generation jobs and follow them to completion",
	Long: `Submit 3D generation jobs and follow them to completion.

Examples:
  studio generate text "a weathered bronze statue of a fox" --wait
  studio generate image ./chair.png --resolution high --wait --output ./models
  studio job watch 6f1c0e2a-...
  studio download 6f1c0e2a-... --dir ./models`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to studio.yaml (default ./studio.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log client activity to stderr")

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
