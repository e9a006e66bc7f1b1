package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/AmmannChristian/go-ccauth/internal/telemetry"
	"github.com/AmmannChristian/go-ccauth/oauth2client"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// options holds the flags shared by every subcommand.
type options struct {
	env          []string
	envFile      string
	envPrefix    string
	verbose      bool
	otelEndpoint string
	timeout      time.Duration
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringArrayVar(&o.env, "env", nil, "Configuration override as KEY=VALUE (repeatable), e.g. OAUTH2_CLIENT_ID=billing")
	fs.StringVar(&o.envFile, "env-file", "", "Load variables from this dotenv file before reading the environment")
	fs.StringVar(&o.envPrefix, "env-prefix", "", "Prefix for every variable name, e.g. BILLING_")
	fs.BoolVar(&o.verbose, "verbose", false, "Log token exchanges to stderr")
	fs.StringVar(&o.otelEndpoint, "otel-endpoint", "", "OTLP/gRPC collector endpoint for metrics (disabled when empty)")
	fs.DurationVar(&o.timeout, "timeout", 0, "Overall deadline for obtaining the token (0 uses OAUTH2_AUTH_TIMEOUT only)")
}

func newRootCmd(version string) *cobra.Command {
	o := &options{}

	root := &cobra.Command{
		Use:   "ccauth",
		Short: "Obtain OAuth2 client-credentials access tokens",
		Long: `ccauth exchanges client credentials for an access token and prints it.

Configuration is read from the environment (OAUTH2_TOKEN_URL, OAUTH2_CLIENT_ID,
OAUTH2_CLIENT_SECRET, optional OAUTH2_AUTH_TIMEOUT, OAUTH2_SCOPES, OAUTH2_AUTH_STYLE,
OAUTH2_CA_FILE, OAUTH2_INSECURE_SKIP_VERIFY). A .env file in the working directory
or one of its parents is loaded first. Use --env to override single values.

Prefer environment variables over --env for the client secret, flags are
visible in process listings.`,
		Version:       version,
		SilenceUsage: true,
	}
	o.addFlags(root.PersistentFlags())

	root.AddCommand(
		&cobra.Command{
			Use:   "token",
			Short: "Print the access token",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), o, cmd.OutOrStdout(), cmd.ErrOrStderr(), func(w io.Writer, token string) error {
					_, err := fmt.Fprintln(w, token)
					return err
				})
			},
		},
		&cobra.Command{
			Use:   "header",
			Short: "Print an Authorization header line",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), o, cmd.OutOrStdout(), cmd.ErrOrStderr(), func(w io.Writer, token string) error {
					_, err := fmt.Fprintf(w, "Authorization: Bearer %s\n", token)
					return err
				})
			},
		},
	)

	return root
}

func run(ctx context.Context, o *options, stdout, stderr io.Writer, write func(io.Writer, string) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	envOpts := []oauth2client.EnvOption{oauth2client.WithEnvPairs(o.env...)}
	if o.envFile != "" {
		envOpts = append(envOpts, oauth2client.WithEnvFile(o.envFile))
	}
	if o.envPrefix != "" {
		envOpts = append(envOpts, oauth2client.WithEnvPrefix(o.envPrefix))
	}
	cfg, err := oauth2client.FromEnv(envOpts...)
	if err != nil {
		return err
	}

	if o.otelEndpoint != "" {
		shutdown, setupErr := telemetry.Setup(ctx, o.otelEndpoint, map[string]string{"service.name": "ccauth"})
		if setupErr != nil {
			return fmt.Errorf("ccauth: metrics setup failed: %w", setupErr)
		}
		defer func() {
			if shutdownErr := shutdown(); err == nil && shutdownErr != nil {
				err = fmt.Errorf("ccauth: metrics shutdown failed: %w", shutdownErr)
			}
		}()
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var providerOpts []oauth2client.Option
	if o.verbose {
		providerOpts = append(providerOpts, oauth2client.WithLogger(log.New(stderr, "ccauth: ", log.LstdFlags)))
	}

	token, err := oauth2client.NewTokenProvider(providerOpts...).GetToken(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return write(stdout, token)
}
