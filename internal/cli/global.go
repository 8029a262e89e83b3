package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kubev2v/doctrack/internal/agent"
	"github.com/kubev2v/doctrack/internal/client"
	"github.com/kubev2v/doctrack/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GlobalOptions struct {
	ConfigFilePath string
	ServerUrl      string
	Language       string

	out io.Writer
}

func DefaultGlobalOptions() GlobalOptions {
	return GlobalOptions{
		ConfigFilePath: client.DefaultClientConfigPath(),
	}
}

func (o *GlobalOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.ConfigFilePath, "config", "c", o.ConfigFilePath, "Path to the client configuration file")
	fs.StringVarP(&o.ServerUrl, "server-url", "u", o.ServerUrl, "Address of the job service, overrides the configuration file")
	fs.StringVar(&o.Language, "lang", o.Language, "Language of progress messages (en, es)")
}

func (o *GlobalOptions) Complete(cmd *cobra.Command, args []string) error {
	o.out = cmd.OutOrStdout()
	return nil
}

func (o *GlobalOptions) Validate(args []string) error {
	return nil
}

// ClientConfig loads the client configuration file, applying the server flag.
// A missing file is fine when the server flag is set.
func (o *GlobalOptions) ClientConfig() (*client.Config, error) {
	cfg, err := client.ParseConfigFile(o.ConfigFilePath)
	if err != nil {
		if o.ServerUrl == "" {
			return nil, fmt.Errorf("loading client configuration: %w (run login --server-url first)", err)
		}
		cfg = client.NewDefault()
		cfg.SetBaseDir(filepath.Dir(o.ConfigFilePath))
	}
	if o.ServerUrl != "" {
		cfg.Service.Server = o.ServerUrl
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Service builds the shared tracker service with its state next to the client configuration.
func (o *GlobalOptions) Service() (*agent.Service, error) {
	clientCfg, err := o.ClientConfig()
	if err != nil {
		return nil, err
	}

	cfg := agent.NewDefault()
	cfg.JobService = agent.JobService{Config: *clientCfg}
	cfg.DataDir = clientCfg.DataDir()
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	env, err := config.New()
	if err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	cfg.Language = o.Language
	if cfg.Language == "" {
		cfg.Language = env.Service.Language
	}

	return agent.NewService(cfg, env)
}

func validateOutput(output string) error {
	if len(output) > 0 && !funk.Contains(legalOutputTypes, output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}
