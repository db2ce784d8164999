package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pahkat/src/internal/pahkatcfg"
	"pahkat/src/internal/pahkatdir"
	"pahkat/src/internal/store/prefix"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new prefix",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		prefixPath, err := requirePrefix()
		if err != nil {
			reportErr(err)
			return
		}

		if err := pahkatdir.EnsurePrefix(prefixPath); err != nil {
			reportErr(err)
			return
		}
		if err := prefix.Init(prefixPath); err != nil {
			reportErr(err)
			return
		}

		cacheDir := pahkatdir.PrefixCacheDir(prefixPath)
		if _, err := pahkatcfg.LoadOrCreate(pahkatdir.PrefixConfigFile(prefixPath), cacheDir, cacheDir); err != nil {
			reportErr(err)
			return
		}

		pterm.Success.Printf("Initialized prefix at %s\n", prefixPath)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
