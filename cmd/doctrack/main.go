package main

import (
	"os"

	"github.com/kubev2v/doctrack/internal/cli"
	"github.com/kubev2v/doctrack/pkg/log"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	command := NewDoctrackCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewDoctrackCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "doctrack [flags] [options]",
		Short: "doctrack submits documents and recordings for processing and follows the jobs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// progress goes to stdout, diagnostics to stderr
			logger := log.InitLog(log.ParseLevel(logLevel), "stderr")
			zap.ReplaceGlobals(logger)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = zap.L().Sync()
		},
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level of the diagnostics written to stderr")

	cmd.AddCommand(cli.NewCmdLogin())
	cmd.AddCommand(cli.NewCmdLogout())
	cmd.AddCommand(cli.NewCmdUpload())
	cmd.AddCommand(cli.NewCmdTrack())
	cmd.AddCommand(cli.NewCmdStatus())
	cmd.AddCommand(cli.NewCmdList())
	cmd.AddCommand(cli.NewCmdCancel())
	cmd.AddCommand(cli.NewCmdRetry())
	cmd.AddCommand(cli.NewCmdFetch())
	cmd.AddCommand(cli.NewCmdCapabilities())
	cmd.AddCommand(cli.NewCmdVersion())

	return cmd
}
