package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/kubev2v/doctrack/internal/agent"
	"github.com/kubev2v/doctrack/internal/config"
	"github.com/kubev2v/doctrack/pkg/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	command := NewAgentCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

type agentCmd struct {
	config     *agent.Config
	configFile string
}

func NewAgentCommand() *agentCmd {
	logger := log.InitLog(zap.NewAtomicLevelAt(zapcore.InfoLevel))
	defer func() { _ = logger.Sync() }()

	undo := zap.ReplaceGlobals(logger)
	defer undo()

	a := &agentCmd{
		config: agent.NewDefault(),
	}

	flag.StringVar(&a.configFile, "config", agent.DefaultConfigFile, "Path to the agent's configuration file.")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		fmt.Println("This program tracks the last submitted job in the background and serves the local status API. Below are the available flags:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if err := a.config.ParseConfigFile(a.configFile); err != nil {
		zap.S().Fatalf("Error parsing config: %v", err)
	}
	if err := a.config.Validate(); err != nil {
		zap.S().Fatalf("Error validating config: %v", err)
	}

	return a
}

func (a *agentCmd) Execute() error {
	env, err := config.New()
	if err != nil {
		zap.S().Fatalf("reading environment: %v", err)
	}

	lvl := a.config.LogLevel
	if lvl == "" {
		lvl = env.Service.LogLevel
	}
	logger := log.InitLog(log.ParseLevel(lvl))
	defer func() { _ = logger.Sync() }()

	undo := zap.ReplaceGlobals(logger)
	defer undo()

	if err := os.MkdirAll(a.config.DataDir, 0700); err != nil {
		zap.S().Fatalf("creating data directory: %v", err)
	}

	agentInstance := agent.New(a.config, env)
	if err := agentInstance.Run(context.Background()); err != nil {
		zap.S().Fatalf("running doctrack agent: %v", err)
	}
	return nil
}
