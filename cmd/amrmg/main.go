package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Global flags
	verbose  int
	jsonLogs bool
	traceOut string

	// Logger
	logger *zap.Logger

	version = "dev"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "amrmg",
	Short: "Geometric multigrid on AMR hierarchies",
	Long: `amrmg solves alpha*u - beta*lap(u) = f on a hierarchy of refined
patch layouts with a multilevel geometric multigrid solver.

Problems and solver settings are read from a YAML file. A solve can write
its inputs to a checkpoint directory and be replayed from it later.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger()
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// solveCmd runs a configured problem
var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve the problem described by a config file",
	Args:  cobra.NoArgs,
	RunE:  runSolve,
}

// replayCmd re-runs the inputs stored in a checkpoint
var replayCmd = &cobra.Command{
	Use:   "replay DIR",
	Short: "Re-run a solve from a checkpoint directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "amrmg", version)
	},
}

func init() {
	rootCmd.PersistentFlags().IntVarP(&verbose, "verbose", "v", 1, "Solver verbosity (0-4)")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log as JSON")
	rootCmd.PersistentFlags().StringVar(&traceOut, "trace", "", "Write trace spans to this file ('-' for stdout)")

	solveCmd.Flags().StringP("config", "c", "", "Problem and solver YAML (default: built-in problem)")
	solveCmd.Flags().String("checkpoint", "", "Write the solve inputs to this directory")
	solveCmd.Flags().Bool("metrics", false, "Print solver metrics after the solve")

	replayCmd.Flags().Bool("metrics", false, "Print solver metrics after the solve")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
