package cmd

import (
	"fmt"
	"testing"

	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/resolver"
)

func TestExitCodeForErrContradictionReachesExit5(t *testing.T) {
	err := pahkaterr.Annotate(pahkaterr.Contradiction,
		fmt.Errorf("%w: app requested as both install and uninstall", resolver.ErrActionContradiction),
		"validate action set")
	if got := exitCodeForErr(err); got != ExitContradiction {
		t.Fatalf("expected ExitContradiction (5), got %d", got)
	}
}

func TestExitCodeForErrOtherResolveFailuresStayAtExit2(t *testing.T) {
	err := pahkaterr.Annotate(pahkaterr.Resolve,
		fmt.Errorf("%w: app", resolver.ErrPackageResolve), "resolve package")
	if got := exitCodeForErr(err); got != ExitResolve {
		t.Fatalf("expected ExitResolve (2), got %d", got)
	}
}

func TestExitCodeForErrNilIsSuccess(t *testing.T) {
	if got := exitCodeForErr(nil); got != ExitSuccess {
		t.Fatalf("expected ExitSuccess, got %d", got)
	}
}
