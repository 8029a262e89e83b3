package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kubev2v/doctrack/internal/client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type LoginOptions struct {
	GlobalOptions

	TokenFile string
}

func DefaultLoginOptions() *LoginOptions {
	return &LoginOptions{
		GlobalOptions: DefaultGlobalOptions(),
	}
}

func NewCmdLogin() *cobra.Command {
	o := DefaultLoginOptions()
	cmd := &cobra.Command{
		Use:     "login [TOKEN]",
		Short:   "Cache the credential used to talk to the job service.",
		Example: "login --server-url https://jobs.example.com $TOKEN\nlogin --token-file - < token.txt",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *LoginOptions) Bind(fs *pflag.FlagSet) {
	o.GlobalOptions.Bind(fs)

	fs.StringVar(&o.TokenFile, "token-file", o.TokenFile, "Read the token from a file, - for stdin")
}

func (o *LoginOptions) Validate(args []string) error {
	if err := o.GlobalOptions.Validate(args); err != nil {
		return err
	}
	if len(args) == 0 && o.TokenFile == "" {
		return errors.New("a token or --token-file is required")
	}
	if len(args) == 1 && o.TokenFile != "" {
		return errors.New("pass either a token or --token-file, not both")
	}
	return nil
}

func (o *LoginOptions) token(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	var (
		data []byte
		err  error
	)
	if o.TokenFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(o.TokenFile)
	}
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (o *LoginOptions) Run(ctx context.Context, args []string) error {
	token, err := o.token(args)
	if err != nil {
		return err
	}

	if o.ServerUrl != "" {
		cfg, err := o.ClientConfig()
		if err != nil {
			return err
		}
		if err := cfg.Persist(o.ConfigFilePath); err != nil {
			return err
		}
	} else if _, err := client.ParseConfigFile(o.ConfigFilePath); err != nil {
		return fmt.Errorf("no job service configured, pass --server-url: %w", err)
	}

	svc, err := o.Service()
	if err != nil {
		return err
	}
	defer svc.Close()

	u, err := svc.Session().SignIn(ctx, token)
	if err != nil {
		return fmt.Errorf("signing in: %w", err)
	}
	fmt.Fprintf(o.out, "Signed in as %s\n", u.DisplayName())
	return nil
}
