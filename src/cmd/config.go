// Config command tree: `pahkat config repo add <url> <channel>`, matching
// spec §6's CLI surface. Grounded on xe's src/cmd/config.go command-tree
// shape (a bare parent command with subcommands registered in init()).
package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pahkat/src/internal/pahkatcfg"
	"pahkat/src/internal/pahkatdir"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the prefix's repository configuration",
}

var configRepoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage configured repositories",
}

var configRepoAddCmd = &cobra.Command{
	Use:   "add <url> [channel]",
	Short: "Add a repository to the prefix configuration",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		prefixPath, err := requirePrefix()
		if err != nil {
			reportErr(err)
			return
		}

		channel := ""
		if len(args) == 2 {
			channel = args[1]
		}

		configPath := pahkatdir.PrefixConfigFile(prefixPath)
		cacheDir := pahkatdir.PrefixCacheDir(prefixPath)
		cfg, err := pahkatcfg.LoadOrCreate(configPath, cacheDir, cacheDir)
		if err != nil {
			reportErr(err)
			return
		}

		changed := cfg.AddRepo(args[0], channel)
		if err := pahkatcfg.Save(configPath, cfg); err != nil {
			reportErr(err)
			return
		}

		if changed {
			pterm.Success.Printf("Added repository %s (channel=%q)\n", args[0], channel)
		} else {
			pterm.Info.Printf("Repository %s already configured\n", args[0])
		}
	},
}

var configRepoRemoveCmd = &cobra.Command{
	Use:   "remove <url>",
	Short: "Remove a repository from the prefix configuration",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prefixPath, err := requirePrefix()
		if err != nil {
			reportErr(err)
			return
		}

		configPath := pahkatdir.PrefixConfigFile(prefixPath)
		cacheDir := pahkatdir.PrefixCacheDir(prefixPath)
		cfg, err := pahkatcfg.LoadOrCreate(configPath, cacheDir, cacheDir)
		if err != nil {
			reportErr(err)
			return
		}

		if !cfg.RemoveRepo(args[0]) {
			pterm.Warning.Printf("Repository %s was not configured\n", args[0])
			return
		}
		if err := pahkatcfg.Save(configPath, cfg); err != nil {
			reportErr(err)
			return
		}
		pterm.Success.Printf("Removed repository %s\n", args[0])
	},
}

func init() {
	configRepoCmd.AddCommand(configRepoAddCmd, configRepoRemoveCmd)
	configCmd.AddCommand(configRepoCmd)
	rootCmd.AddCommand(configCmd)
}
