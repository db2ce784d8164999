// Package cmd implements the pahkat prefix CLI (spec §6): init, config
// repo add, install, uninstall, status, download, against an explicit
// `-c <prefix>` prefix root.
//
// Grounded on xe's src/cmd/root.go: the same cobra root command shape,
// viper-backed global config bootstrap in initConfig(), and
// PersistentPreRunE/PersistentPostRun profiling hook, generalized from a
// single project-local xe.toml to pahkat's explicit prefix argument.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pahkat/src/internal/pahkatdir"
	"pahkat/src/internal/telemetry"
)

var (
	prefixFlag     string
	profileEnabled bool
	profileDir     string
)

var rootCmd = &cobra.Command{
	Use:   "pahkat",
	Short: "pahkat manages language-technology packages against a self-contained prefix",
	Long: `pahkat resolves, downloads, and installs packages from one or more
configured repositories into a prefix: a self-contained directory owning
its own package database and extracted files.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if !profileEnabled {
			return nil
		}
		dir := strings.TrimSpace(profileDir)
		if dir == "" {
			dir = filepath.Join(pahkatdir.MustHome(), "profiles")
		}
		info, err := telemetry.Start(dir)
		if err != nil {
			return err
		}
		telemetry.Event(
			"command.start",
			"command", cmd.CommandPath(),
			"args_count", len(args),
			"prefix", prefixFlag,
		)
		fmt.Printf("Profiling enabled.\nLogs: %s\nCPU: %s\nHeap: %s\n", info.LogPath, info.CPUPath, info.HeapPath)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if !profileEnabled {
			return
		}
		telemetry.Event("command.stop", "command", cmd.CommandPath())
		if _, err := telemetry.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to flush profiling artifacts: %v\n", err)
		}
	},
}

// Execute runs the command tree, exiting with the status code a
// subcommand recorded via setExitCode, or ExitUsage if cobra itself
// rejected the invocation (spec §6 exit codes).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		if exitCode == ExitSuccess {
			exitCode = ExitUsage
		}
	}
	os.Exit(exitCode)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&prefixFlag, "prefix", "c", "", "prefix root directory (required by every subcommand, including init)")
	rootCmd.PersistentFlags().BoolVar(&profileEnabled, "profile", false, "collect CPU/heap profiles and structured timing logs")
	rootCmd.PersistentFlags().StringVar(&profileDir, "profile-dir", "", "directory for profiling artifacts (default: <pahkat-home>/profiles)")
	cobra.OnInitialize(initGlobalConfig)
}

// initGlobalConfig loads pahkat's global (non-prefix) config into viper.
// No subcommand in this package reads from it: each one works against the
// config.toml of the prefix named by -c.
func initGlobalConfig() {
	viper.SetConfigFile(pahkatdir.ConfigFile())
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// exitCode is the process exit status a command sets before returning;
// Execute reads it after rootCmd.Execute returns.
var exitCode int

func setExitCode(code int) { exitCode = code }

func requirePrefix() (string, error) {
	if strings.TrimSpace(prefixFlag) == "" {
		return "", fmt.Errorf("missing required -c/--prefix flag")
	}
	return prefixFlag, nil
}
