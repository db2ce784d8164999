// Package executor drives a resolved Plan to completion (spec §4.4): a
// download phase that aborts the whole transaction before any install
// begins, followed by an install phase where a failure is fatal only to
// the remaining steps (earlier steps stand). Progress is reported through
// internal/events; cancellation is cooperative at the suspension points
// spec §5 names.
//
// The dispatch loop's ctx.Done() select is adapted from xe's
// internal/engine/install.go Installer.Install: the teacher's single
// download+extract loop is split here into the spec's two phases, and its
// isInstalledInSitePackages skip-check is already applied earlier, by the
// resolver's UpToDate skip. The teacher's worker pool is not carried over:
// both phases run sequentially in one goroutine, one download and one
// backend call at a time.
package executor

import (
	"context"
	"fmt"

	"pahkat/src/internal/cache"
	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/events"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
	"pahkat/src/internal/telemetry"
)

// BackendSelector returns the store.Backend to dispatch a given step to.
// The executor never inspects a step's payload kind itself (spec §9
// "Polymorphism across backends") — selection is the caller's concern
// (typically: the prefix backend always, or platform-dispatched by
// payload kind for a UI that targets the native installer).
type BackendSelector func(step resolver.PlanStep) store.Backend

// Executor drives plans against a download cache and a backend selector.
type Executor struct {
	Cache   *cache.Cache
	Backend BackendSelector
}

func New(c *cache.Cache, selector BackendSelector) *Executor {
	return &Executor{Cache: c, Backend: selector}
}

// Execute runs plan to completion, returning a receive-only event stream.
// The stream is closed when the transaction ends, however it ends: full
// completion, a download-phase abort, an install-phase fatal step, or
// cancellation. Execute itself returns once the producing goroutine has
// been started; callers range over the returned channel.
func (e *Executor) Execute(ctx context.Context, plan *resolver.Plan) <-chan events.Event {
	bus := events.NewBus()
	go e.run(ctx, plan, bus)
	return bus.Stream()
}

func (e *Executor) run(ctx context.Context, plan *resolver.Plan, bus *events.Bus) {
	defer bus.Close()
	done := telemetry.StartSpan("executor.execute", "plan", plan.ID, "steps", len(plan.Steps))

	localPaths, ok := e.downloadPhase(ctx, plan, bus)
	if !ok {
		done("status", "error", "phase", "download")
		return
	}

	rebootRequired, ok := e.installPhase(ctx, plan, localPaths, bus)
	if !ok {
		done("status", "error", "phase", "install")
		return
	}

	if rebootRequired {
		bus.Emit(events.Event{Kind: events.RebootRequired}, ctx.Done())
	}
	done("status", "ok")
}

// downloadPhase fetches every install step's payload via the cache. Any
// single failure aborts the whole transaction before any install begins
// (spec §4.4 "Download phase"); cancellation mid-download discards the
// partial entry (§4.4 "Cancellation").
func (e *Executor) downloadPhase(ctx context.Context, plan *resolver.Plan, bus *events.Bus) (map[catalogue.PackageKey]string, bool) {
	localPaths := make(map[catalogue.PackageKey]string, len(plan.Steps))

	for _, step := range plan.Steps {
		if step.Kind != resolver.Install {
			continue
		}

		select {
		case <-ctx.Done():
			return nil, false
		default:
		}

		payload := cache.Payload{URL: step.Payload.DownloadURL(), Size: step.Payload.Size()}
		bus.Emit(events.Event{Kind: events.Downloading, Key: step.Key, Total: payload.Size}, ctx.Done())

		path, err := e.Cache.Get(ctx, payload)
		if err != nil {
			if ctx.Err() != nil {
				_ = e.Cache.Discard(payload)
			}
			bus.Emit(events.Event{Kind: events.Failed, Key: step.Key, Err: err}, ctx.Done())
			return nil, false
		}
		localPaths[step.Key] = path
	}

	return localPaths, true
}

// installPhase processes steps in plan order, dispatching each to its
// backend. A failure here is fatal to the transaction (spec §4.4
// "Install phase"): already-completed steps are not rolled back, and the
// stream ends at the failing step. Cancellation between steps halts
// cleanly; cancellation observed mid-install is ignored until the backend
// call returns (install is an uninterruptible critical section).
func (e *Executor) installPhase(ctx context.Context, plan *resolver.Plan, localPaths map[catalogue.PackageKey]string, bus *events.Bus) (rebootRequired bool, ok bool) {
	for _, step := range plan.Steps {
		select {
		case <-ctx.Done():
			return rebootRequired, false
		default:
		}

		backend := e.Backend(step)
		if backend == nil {
			err := pahkaterr.New(pahkaterr.Install, fmt.Sprintf("no backend available for %s", step.Key))
			bus.Emit(events.Event{Kind: events.Failed, Key: step.Key, Err: err}, ctx.Done())
			return rebootRequired, false
		}

		bus.Emit(events.Event{Kind: events.Installing, Key: step.Key}, ctx.Done())

		var err error
		switch step.Kind {
		case resolver.Install:
			err = backend.Install(context.WithoutCancel(ctx), store.InstallRequest{
				Key:          step.Key,
				Version:      step.Version,
				Target:       step.Target,
				Payload:      step.Payload,
				LocalPath:    localPaths[step.Key],
				Dependencies: step.Dependencies,
				IsDependency: step.IsDependency,
			})
		case resolver.Uninstall:
			err = backend.Uninstall(context.WithoutCancel(ctx), store.UninstallRequest{
				Key:    step.Key,
				Target: step.Target,
			})
		}

		if err != nil {
			bus.Emit(events.Event{Kind: events.Failed, Key: step.Key, Err: err}, ctx.Done())
			return rebootRequired, false
		}

		if stepRequiresReboot(step) {
			rebootRequired = true
		}
		bus.Emit(events.Event{Kind: events.Completed, Key: step.Key}, ctx.Done())
	}
	return rebootRequired, true
}

// stepRequiresReboot reports whether step's payload flags demand a
// reboot after this operation (spec §4.4 "Reboot flags").
func stepRequiresReboot(step resolver.PlanStep) bool {
	flags := step.Payload.Flags()
	if step.Kind == resolver.Uninstall {
		return flags.Has(catalogue.RequiresUninstallReboot)
	}
	return flags.Has(catalogue.RequiresReboot)
}
