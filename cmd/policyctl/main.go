package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/policygraph"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every command.
type globals struct {
	configPath string
	verbose    bool

	// open builds the engine from the config path.
	open func(configPath string) (policygraph.Engine, error)
}

func newRootCmd() *cobra.Command {
	return newRootCmdWith(&globals{open: openFromConfig})
}

func newRootCmdWith(g *globals) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "policyctl",
		Short: "Build and query clause graphs of insurance policy documents",
		Long: `policyctl parses insurance policy documents into articles, paragraphs
and items, stores them as a graph with embeddings and cross-references,
and answers questions by selecting the article that governs them.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if g.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", os.Getenv("POLICYGRAPH_CONFIG"), "Config file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(
		newParseCmd(),
		newIngestCmd(g),
		newQueryCmd(g),
		newVersionsCmd(g),
		newUpdateCmd(g),
		newStatsCmd(g),
		newEvalCmd(g),
	)
	return rootCmd
}

func (g *globals) openEngine() (policygraph.Engine, error) {
	return g.open(g.configPath)
}

// openFromConfig loads the configuration and opens the engine.
func openFromConfig(path string) (policygraph.Engine, error) {
	cfg, err := policygraph.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return policygraph.New(cfg)
}
