package cmd

import (
	"github.com/pterm/pterm"

	"pahkat/src/internal/pahkaterr"
)

// Exit codes per spec §6.
const (
	ExitSuccess       = 0
	ExitUsage         = 1
	ExitResolve       = 2
	ExitDownload      = 3
	ExitInstall       = 4
	ExitContradiction = 5
)

// exitCodeForErr classifies err per spec §6's exit code table. A resolver
// contradiction carries its own pahkaterr.Contradiction Kind (set at the
// point resolver.go detects it) rather than being recovered via
// errors.Is against a sentinel buried under a juju/errors annotation,
// since the pinned juju/errors version predates Go's Unwrap() convention
// and errors.Is cannot traverse through it.
func exitCodeForErr(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case pahkaterr.Is(err, pahkaterr.Contradiction):
		return ExitContradiction
	case pahkaterr.Is(err, pahkaterr.Resolve):
		return ExitResolve
	case pahkaterr.Is(err, pahkaterr.Download):
		return ExitDownload
	case pahkaterr.Is(err, pahkaterr.Install):
		return ExitInstall
	default:
		return ExitUsage
	}
}

// reportErr prints err and records the process exit code it implies,
// returning it so callers can short-circuit further work.
func reportErr(err error) int {
	if err == nil {
		return ExitSuccess
	}
	pterm.Error.Println(err)
	code := exitCodeForErr(err)
	setExitCode(code)
	return code
}
