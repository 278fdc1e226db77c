// Package main implements the pacmirror command-line tool for mirroring
// pacman repositories.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/mirrorctl/pacmirror/internal/mirror"
)

const (
	defaultConfigPath = "/etc/pacmirror/pacmirror.toml"
)

var (
	// Build information - can be set via build flags
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"

	// Command-line flags
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pacmirror [-y] [-c] [-u]",
	Short: "Mirror pacman package repositories",
	Long: `pacmirror maintains a local mirror of the pacman packages selected by a set
of profiles.

Usage:
  # Refresh the repository databases
  pacmirror -y

  # Refresh, clean the cache, then download selected packages
  pacmirror -ycu

  # Use a custom configuration file
  pacmirror -u --config /path/to/pacmirror.toml

Phases always run in the order refresh, clean, download.  Only one run may
hold the lock file at a time; a failed run leaves it in place.`,
	Args: cobra.NoArgs,
	Run:  runMirror,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information including build details",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("pacmirror %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", buildDate)
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and profiles",
	Long: `Loads the configuration file, the repository mirror lists, the profiles and
their package lists, and reports any problem.  The lock file is not taken.`,
	Args: cobra.NoArgs,
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(validateCmd)

	rootCmd.Flags().BoolP("refresh", "y", false, "download and extract repository databases")
	rootCmd.Flags().BoolP("download", "u", false, "download the packages selected by the profiles")
	rootCmd.Flags().BoolP("clean", "c", false, "delete unreferenced files from the cache")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "C", defaultConfigPath, "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose-errors", false, "show detailed error information including stack traces")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress all output except for errors")
}

// formatError returns a human-friendly error message, optionally with stack trace
func formatError(err error, verbose bool) string {
	if verbose {
		return fmt.Sprintf("%+v", err)
	}

	flattened := errors.FlattenDetails(err)
	if flattened != "" {
		return flattened
	}
	return err.Error()
}

// loadConfig reads the configuration and applies the log settings,
// including the command-line overrides.
func loadConfig(cmd *cobra.Command) (*mirror.Config, error) {
	config, err := mirror.LoadConfig(configPath)
	if err != nil {
		if errors.Is(err, mirror.ErrConfigMissing) {
			slog.Info("Please create a configuration file at the default location or specify one with the --config flag.")
		}
		return nil, err
	}

	if logLevel != "" {
		config.Log.Level = logLevel
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); quiet {
		config.Log.Level = "error"
	}
	if err := config.Log.Apply(); err != nil {
		return nil, errors.Wrap(err, "log config")
	}
	slog.Debug("configuration loaded", "path", configPath)
	return config, nil
}

func fail(msg string, err error, verbose bool) {
	slog.Error(msg, "error", formatError(err, verbose))
	if !verbose {
		slog.Info("run with --verbose-errors for detailed stack traces")
	}
	os.Exit(1)
}

func runMirror(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		fail("failed to load configuration", err, verboseErrors)
	}

	env, err := mirror.NewEnv(config)
	if err != nil {
		fail("failed to load profiles", err, verboseErrors)
	}

	opts := mirror.Options{}
	opts.Refresh, _ = cmd.Flags().GetBool("refresh")
	opts.Download, _ = cmd.Flags().GetBool("download")
	opts.Clean, _ = cmd.Flags().GetBool("clean")
	opts.Quiet, _ = cmd.Flags().GetBool("quiet")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := mirror.Run(ctx, env, opts); err != nil {
		stop()
		fail("mirror run failed", err, verboseErrors)
	}
}

func runValidate(cmd *cobra.Command, _ []string) {
	verboseErrors, _ := cmd.Flags().GetBool("verbose-errors")

	config, err := loadConfig(cmd)
	if err != nil {
		fail("the toml configuration file is not valid", err, verboseErrors)
	}

	env, err := mirror.NewEnv(config)
	if err != nil {
		fail("the profiles are not valid", err, verboseErrors)
	}

	for _, r := range env.Repos {
		slog.Info("repository", "repo", r.ID, "mirrors", len(r.Servers))
	}
	for _, p := range env.Profiles {
		slog.Info("profile", "name", p.Name, "sections", len(p.Sections))
	}
	slog.Info("the configuration passes validation checks",
		"repos", len(env.Repos),
		"profiles", len(env.Profiles),
		"packages", env.Selections.Len())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
