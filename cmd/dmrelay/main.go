package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	verbose    bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := &cobra.Command{
		Use:   "dmrelay",
		Short: "Resilient direct-message delivery client",
		Long: `dmrelay sends, fetches, and queues direct messages against a backend
whose message API drifts between deployments. Delivery walks an ordered
list of endpoint candidates and falls back to a local offline queue when
the backend is unreachable.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.json", "path to configuration file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging (includes sensitive information)")

	root.AddCommand(versionCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(readCmd())
	root.AddCommand(flushCmd())
	root.AddCommand(diagnoseCmd())
	root.AddCommand(serveCmd())

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dmrelay %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		},
	}
}
