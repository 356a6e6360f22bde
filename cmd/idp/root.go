package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time
var version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
	logLevel   string
	logFormat  string
}

// NewRootCmd creates the idp command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:               "idp",
		Short:             "OpenID Connect identity provider",
		Long:              "idp issues access and identity tokens to registered clients and serves the protected resource API.",
		Version:           version,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to a .env file loaded before the config")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (text, json)")
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(
		newServeCmd(opts, v),
		newAPICmd(opts, v),
		newTokenCmd(),
		newUserCmd(opts, v),
		newHashSecretCmd(),
	)

	return rootCmd
}

// setup loads the environment file and the configuration, then builds the logger.
func setup(opts *rootOptions, v *viper.Viper, stderr io.Writer) (*Config, *slog.Logger, error) {
	if err := loadEnvFile(opts.envFile); err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig(v, opts.configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
