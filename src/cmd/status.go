package cmd

import (
	"context"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
)

var statusUser bool

var statusCmd = &cobra.Command{
	Use:   "status <key>...",
	Short: "Report the installed-state status of one or more packages",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		target := store.System
		if statusUser {
			target = store.User
		}

		sess, err := openPrefixSession(ctx)
		if err != nil {
			reportErr(err)
			return
		}
		defer sess.Close()

		for url, rerr := range sess.Errors {
			pterm.Warning.Printf("repository %s: %v\n", url, rerr)
		}

		anyErr := false
		for _, raw := range args {
			key, err := catalogue.ParsePackageKey(raw)
			if err != nil {
				reportErr(err)
				anyErr = true
				continue
			}

			_, _, version, ok := sess.Catalogue.Find(key)
			if !ok {
				pterm.Error.Printf("%s: not found in any configured repository\n", key)
				anyErr = true
				continue
			}

			st, err := sess.Store.Status(ctx, key, version, target, resolver.CompareVersions)
			if err != nil {
				reportErr(err)
				anyErr = true
				continue
			}
			pterm.Printf("%s\t%s\n", key, st)
		}

		if anyErr {
			setExitCode(ExitResolve)
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusUser, "user", false, "report status for the current user rather than the whole system")
	rootCmd.AddCommand(statusCmd)
}
