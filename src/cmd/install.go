package cmd

import (
	"context"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/events"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
)

var (
	installUser      bool
	installReinstall bool
)

var installCmd = &cobra.Command{
	Use:   "install <key>...",
	Short: "Install one or more packages, with their dependencies",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTransaction(cmd, args, resolver.Install, installUser, installReinstall)
	},
}

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <key>...",
	Short: "Uninstall one or more packages and the installed packages that depend on them",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runTransaction(cmd, args, resolver.Uninstall, installUser, false)
	},
}

func init() {
	installCmd.Flags().BoolVar(&installUser, "user", false, "operate on the current user rather than the whole system")
	installCmd.Flags().BoolVar(&installReinstall, "reinstall", false, "reinstall even if already up to date")
	uninstallCmd.Flags().BoolVar(&installUser, "user", false, "operate on the current user rather than the whole system")
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
}

func parseActionArgs(args []string, kind resolver.ActionKind, target store.Target, reinstall bool) ([]resolver.Action, error) {
	actions := make([]resolver.Action, 0, len(args))
	for _, raw := range args {
		key, err := catalogue.ParsePackageKey(raw)
		if err != nil {
			return nil, fmt.Errorf("parse package key %q: %w", raw, err)
		}
		actions = append(actions, resolver.Action{Kind: kind, Target: target, Key: key, Reinstall: reinstall})
	}
	return actions, nil
}

func runTransaction(cmd *cobra.Command, args []string, kind resolver.ActionKind, user, reinstall bool) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target := store.System
	if user {
		target = store.User
	}

	sess, err := openPrefixSession(ctx)
	if err != nil {
		reportErr(err)
		return
	}
	defer sess.Close()

	actions, err := parseActionArgs(args, kind, target, reinstall)
	if err != nil {
		reportErr(err)
		return
	}

	plan, err := sess.resolver().Resolve(ctx, actions)
	if err != nil {
		reportErr(err)
		return
	}
	if len(plan.Steps) == 0 {
		pterm.Info.Println("Nothing to do.")
		return
	}

	pterm.Info.Printf("Plan: %d step(s)\n", len(plan.Steps))

	if kind == resolver.Uninstall {
		if snapPath, err := sess.Store.Snapshot("pre-uninstall"); err != nil {
			pterm.Warning.Printf("advisory snapshot failed, continuing: %v\n", err)
		} else {
			pterm.Info.Printf("Snapshot of prefix state saved to %s\n", snapPath)
		}
	}

	stream := sess.executor().Execute(ctx, plan)
	if code := drainTransaction(stream); code != ExitSuccess {
		setExitCode(code)
		return
	}
	pterm.Success.Println("Transaction complete.")
}

// drainTransaction renders the executor's event stream and returns the
// exit code implied by how the transaction ended (0 on a clean finish,
// the download/install exit code on a Failed event).
func drainTransaction(stream <-chan events.Event) int {
	bars := map[catalogue.PackageKey]*progressbar.ProgressBar{}
	rebootRequired := false

	for ev := range stream {
		switch ev.Kind {
		case events.Downloading:
			if _, ok := bars[ev.Key]; !ok {
				bars[ev.Key] = progressbar.DefaultBytes(ev.Total, ev.Key.String())
			}
		case events.Installing:
			pterm.Info.Printf("Installing %s...\n", ev.Key)
		case events.Completed:
			if bar, ok := bars[ev.Key]; ok {
				_ = bar.Finish()
			}
			pterm.Success.Printf("%s done\n", ev.Key)
		case events.Failed:
			pterm.Error.Printf("%s failed: %v\n", ev.Key, ev.Err)
			return exitCodeForErr(ev.Err)
		case events.RebootRequired:
			rebootRequired = true
		}
	}

	if rebootRequired {
		pterm.Warning.Println("A reboot is required to complete this transaction.")
	}
	return ExitSuccess
}
