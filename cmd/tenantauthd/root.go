package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/tenantauth/pkg/config"
	"github.com/StricklySoft/tenantauth/pkg/service"
)

// rootOptions holds the persistent flags.
type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tenantauthd",
		Short: "Multi-tenant authentication service",
		Long: `tenantauthd verifies tenant identity-provider tokens and backend
service tokens behind a single Bearer entry point.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "YAML or JSON configuration file")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file with "+service.EnvPrefix+"_ variables")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format (json, text)")

	cmd.AddCommand(newServeCmd(opts), newIssueTokenCmd(opts))
	return cmd
}

// loadConfig reads defaults, then the config file, then the environment.
func (o *rootOptions) loadConfig() (service.Config, error) {
	var cfg service.Config
	loader := config.New().
		WithEnvPrefix(service.EnvPrefix).
		WithFile(o.configFile).
		WithDotEnv(o.envFile)
	if err := loader.Load(&cfg); err != nil {
		return service.Config{}, err
	}
	return cfg, nil
}

func (o *rootOptions) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(o.logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
}
