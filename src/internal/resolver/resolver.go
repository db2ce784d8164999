// Package resolver converts a requested action set into a validated,
// ordered transaction plan (spec §4.3): per-action lookup, transitive
// dependency closure for installs, reverse-dependency closure for
// uninstalls, contradiction detection, and a topologically sorted plan.
//
// The cycle-detection/closure shape is adapted from xe's
// internal/engine/install.go resolveParallel + dedupePackages: walk the
// requirements into an accumulated, deterministically ordered result,
// repurposed here from "resolve pip requirements" to "resolve action
// dependency closures into a topologically ordered plan." Resolution runs
// sequentially, depth-first, visiting dependencies in sorted key order.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/store"
	"pahkat/src/internal/telemetry"
)

// ActionKind discriminates a requested or planned operation.
type ActionKind int

const (
	Install ActionKind = iota
	Uninstall
)

func (k ActionKind) String() string {
	if k == Uninstall {
		return "uninstall"
	}
	return "install"
}

// Action is one caller-requested operation (spec §4.3 "Input").
type Action struct {
	Kind      ActionKind
	Target    store.Target
	Key       catalogue.PackageKey
	Reinstall bool
}

// PlanStep is one entry of a resolved Plan, in execution order.
type PlanStep struct {
	Kind         ActionKind
	Target       store.Target
	Key          catalogue.PackageKey
	Version      string
	Payload      catalogue.Payload
	Dependencies []catalogue.PackageKey
	IsDependency bool
}

// Plan is the resolver's output: a topologically ordered, validated
// sequence of steps (spec §4.3 step 5), plus the actions it was built
// from so Validate can re-run the same request against a fresh snapshot.
type Plan struct {
	ID      string
	Actions []Action
	Steps   []PlanStep
}

// PeggedDependentsQuerier is implemented by store backends that track
// installed-state relationally and so can answer "is this pegged" and
// "what depends on this" (today, only internal/store/prefix). Backends
// without a relational model (windows, macos) have no pegged/dependents
// concept; the resolver skips those checks when the configured backend
// does not implement this interface.
type PeggedDependentsQuerier interface {
	IsPegged(ctx context.Context, key catalogue.PackageKey) (bool, error)
	Dependents(ctx context.Context, key catalogue.PackageKey) ([]catalogue.PackageKey, error)
}

var (
	ErrPackageResolve      = fmt.Errorf("resolver: package resolve error")
	ErrNoCompatibleTarget  = fmt.Errorf("resolver: no compatible target")
	ErrDependency          = fmt.Errorf("resolver: dependency error")
	ErrActionContradiction = fmt.Errorf("resolver: action contradiction")
	ErrStalePlan           = fmt.Errorf("resolver: stale plan")
)

// Resolver resolves action sets against a Catalogue snapshot and a
// installed-state Backend.
type Resolver struct {
	Catalogue *catalogue.Catalogue
	Backend   store.Backend
}

func New(cat *catalogue.Catalogue, backend store.Backend) *Resolver {
	return &Resolver{Catalogue: cat, Backend: backend}
}

// Resolve implements spec §4.3 steps 1-6.
func (r *Resolver) Resolve(ctx context.Context, actions []Action) (*Plan, error) {
	done := telemetry.StartSpan("resolver.resolve", "actions", len(actions))
	plan, err := r.resolve(ctx, actions)
	if err != nil {
		done("status", "error", "error", err.Error())
		return nil, err
	}
	done("status", "ok", "steps", len(plan.Steps))
	return plan, nil
}

func (r *Resolver) resolve(ctx context.Context, actions []Action) (*Plan, error) {
	_, reinstall, _, ordered, err := dedupeActions(actions)
	if err != nil {
		return nil, err
	}

	installed := map[catalogue.PackageKey]*PlanStep{}
	var installSteps []PlanStep
	visiting := map[catalogue.PackageKey]bool{}

	var resolveInstall func(key catalogue.PackageKey, req catalogue.VersionReq, target store.Target, isDependency bool) error
	resolveInstall = func(key catalogue.PackageKey, req catalogue.VersionReq, target store.Target, isDependency bool) error {
		if _, done := installed[key]; done {
			return nil
		}
		if visiting[key] {
			return pahkaterr.Annotate(pahkaterr.Resolve,
				fmt.Errorf("%w: cycle at %s", ErrDependency, key), "resolve dependency closure")
		}
		visiting[key] = true
		defer delete(visiting, key)

		var (
			d       *catalogue.Descriptor
			t       *catalogue.Target
			version string
			ok      bool
		)
		if req == "" {
			d, t, version, ok = r.Catalogue.Find(key)
		} else {
			d, t, version, ok = r.Catalogue.FindConstrained(key, func(v string) bool {
				return SatisfiesConstraint(v, string(req))
			})
		}
		if d == nil {
			return pahkaterr.Annotate(pahkaterr.Resolve,
				fmt.Errorf("%w: %s", ErrPackageResolve, key), "resolve package")
		}
		if !ok {
			return pahkaterr.Annotate(pahkaterr.Resolve,
				fmt.Errorf("%w: %s", ErrNoCompatibleTarget, key), "select target")
		}

		deps := make([]catalogue.PackageKey, 0, len(t.Dependencies))
		for depKey := range t.Dependencies {
			deps = append(deps, depKey)
		}
		sort.Slice(deps, func(i, j int) bool { return deps[i].String() < deps[j].String() })
		for _, depKey := range deps {
			if err := resolveInstall(depKey, t.Dependencies[depKey], target, true); err != nil {
				return err
			}
		}

		step := PlanStep{
			Kind:         Install,
			Target:       target,
			Key:          key,
			Version:      version,
			Payload:      t.Payload,
			Dependencies: deps,
			IsDependency: isDependency,
		}
		installed[key] = &step
		installSteps = append(installSteps, step)
		return nil
	}

	uninstallQueued := map[catalogue.PackageKey]bool{}
	var uninstallSteps []PlanStep

	var resolveUninstall func(key catalogue.PackageKey, target store.Target) error
	resolveUninstall = func(key catalogue.PackageKey, target store.Target) error {
		if uninstallQueued[key] {
			return nil
		}
		uninstallQueued[key] = true

		if q, ok := r.Backend.(PeggedDependentsQuerier); ok {
			pegged, err := q.IsPegged(ctx, key)
			if err != nil {
				return pahkaterr.Annotate(pahkaterr.Resolve, err, "query pegged state")
			}
			if pegged {
				return pahkaterr.Annotate(pahkaterr.Resolve,
					fmt.Errorf("%w: %s is pegged", ErrDependency, key), "check pegged retention")
			}
			dependents, err := q.Dependents(ctx, key)
			if err != nil {
				return pahkaterr.Annotate(pahkaterr.Resolve, err, "query dependents")
			}
			for _, dep := range dependents {
				if err := resolveUninstall(dep, target); err != nil {
					return err
				}
			}
		}

		step := PlanStep{Kind: Uninstall, Target: target, Key: key}
		if _, t, version, ok := r.Catalogue.Find(key); ok {
			step.Payload = t.Payload
			step.Version = version
		}
		uninstallSteps = append(uninstallSteps, step)
		return nil
	}

	for _, a := range ordered {
		switch a.Kind {
		case Install:
			var req catalogue.VersionReq
			if err := resolveInstall(a.Key, req, a.Target, false); err != nil {
				return nil, err
			}
		case Uninstall:
			if err := resolveUninstall(a.Key, a.Target); err != nil {
				return nil, err
			}
		}
	}

	installSteps = filterUpToDate(ctx, r.Backend, installSteps, reinstall)

	steps := make([]PlanStep, 0, len(uninstallSteps)+len(installSteps))
	steps = append(steps, uninstallSteps...)
	steps = append(steps, installSteps...)

	return &Plan{ID: uuid.NewString(), Actions: append([]Action(nil), actions...), Steps: steps}, nil
}

// dedupeActions applies spec §4.3 step 4 (contradiction detection) and
// collapses duplicate (key, kind) pairs so "no plan ever contains the
// same (package_key, action) pair twice" (§8).
func dedupeActions(actions []Action) (kindByKey map[catalogue.PackageKey]ActionKind, reinstall map[catalogue.PackageKey]bool, targetByKey map[catalogue.PackageKey]store.Target, ordered []Action, err error) {
	kindByKey = map[catalogue.PackageKey]ActionKind{}
	reinstall = map[catalogue.PackageKey]bool{}
	targetByKey = map[catalogue.PackageKey]store.Target{}
	for _, a := range actions {
		if existing, ok := kindByKey[a.Key]; ok {
			if existing != a.Kind {
				return nil, nil, nil, nil, pahkaterr.Annotate(pahkaterr.Contradiction,
					fmt.Errorf("%w: %s requested as both install and uninstall", ErrActionContradiction, a.Key),
					"validate action set")
			}
			if a.Reinstall {
				reinstall[a.Key] = true
			}
			continue
		}
		kindByKey[a.Key] = a.Kind
		targetByKey[a.Key] = a.Target
		if a.Reinstall {
			reinstall[a.Key] = true
		}
		ordered = append(ordered, a)
	}
	return kindByKey, reinstall, targetByKey, ordered, nil
}

// filterUpToDate applies spec §4.3 step 6: skip installs whose status is
// already UpToDate unless the action requested Reinstall. Errors querying
// status are treated as "not installed" so a backend with no prior state
// (e.g. a brand new prefix) never blocks a plan from being produced.
func filterUpToDate(ctx context.Context, backend store.Backend, steps []PlanStep, reinstall map[catalogue.PackageKey]bool) []PlanStep {
	if backend == nil {
		return steps
	}
	out := make([]PlanStep, 0, len(steps))
	for _, step := range steps {
		if reinstall[step.Key] {
			out = append(out, step)
			continue
		}
		status, err := backend.Status(ctx, step.Key, step.Version, step.Target, CompareVersions)
		if err == nil && status == store.UpToDate {
			continue
		}
		out = append(out, step)
	}
	return out
}

// Validate re-runs the consistency checks in Resolve against a fresh
// status snapshot, refusing a stale plan (spec §4.3 "Validation").
func (r *Resolver) Validate(ctx context.Context, plan *Plan) error {
	fresh, err := r.Resolve(ctx, plan.Actions)
	if err != nil {
		return err
	}
	if !sameStepSequence(fresh.Steps, plan.Steps) {
		return pahkaterr.Annotate(pahkaterr.Concurrency, ErrStalePlan, "validate plan")
	}
	return nil
}

func sameStepSequence(a, b []PlanStep) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind != b[i].Kind || a[i].Key != b[i].Key || a[i].Version != b[i].Version {
			return false
		}
	}
	return true
}
