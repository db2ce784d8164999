package resolver

import (
	"context"
	"strings"
	"testing"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/store"
)

// fakeBackend is a minimal in-memory store.Backend + PeggedDependentsQuerier
// stand-in, grounded on the same "installed state lives in a map" shape
// store/prefix keeps in sqlite, simplified for resolver-only tests.
type fakeBackend struct {
	installed  map[catalogue.PackageKey]string
	pegged     map[catalogue.PackageKey]bool
	dependents map[catalogue.PackageKey][]catalogue.PackageKey
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		installed:  map[catalogue.PackageKey]string{},
		pegged:     map[catalogue.PackageKey]bool{},
		dependents: map[catalogue.PackageKey][]catalogue.PackageKey{},
	}
}

func (b *fakeBackend) Status(_ context.Context, key catalogue.PackageKey, latest string, _ store.Target, cmp func(a, b string) int) (store.Status, error) {
	return store.StatusFromVersions(b.installed[key], latest, cmp), nil
}

func (b *fakeBackend) Install(_ context.Context, req store.InstallRequest) error {
	b.installed[req.Key] = req.Version
	return nil
}

func (b *fakeBackend) Uninstall(_ context.Context, req store.UninstallRequest) error {
	delete(b.installed, req.Key)
	return nil
}

func (b *fakeBackend) InstalledPackages(context.Context) ([]store.InstalledPackage, error) {
	out := make([]store.InstalledPackage, 0, len(b.installed))
	for k, v := range b.installed {
		out = append(out, store.InstalledPackage{Key: k, Version: v})
	}
	return out, nil
}

func (b *fakeBackend) AllStatuses(ctx context.Context, latest map[catalogue.PackageKey]string, target store.Target, cmp func(a, b string) int) (map[catalogue.PackageKey]store.Status, error) {
	out := map[catalogue.PackageKey]store.Status{}
	for k, v := range latest {
		out[k], _ = b.Status(ctx, k, v, target, cmp)
	}
	return out, nil
}

func (b *fakeBackend) IsPegged(_ context.Context, key catalogue.PackageKey) (bool, error) {
	return b.pegged[key], nil
}

func (b *fakeBackend) Dependents(_ context.Context, key catalogue.PackageKey) ([]catalogue.PackageKey, error) {
	return b.dependents[key], nil
}

func tarballDescriptor(id string, deps map[catalogue.PackageKey]catalogue.VersionReq) catalogue.Descriptor {
	return catalogue.Descriptor{
		ID: id,
		Releases: []catalogue.Release{
			{
				Version: "1.0.0",
				Targets: []catalogue.Target{
					{
						Platform:     "linux",
						Dependencies: deps,
						Payload: catalogue.Payload{
							Kind:    catalogue.PayloadTarballPackage,
							Tarball: &catalogue.TarballPackage{URL: "https://example.invalid/" + id + ".tar.xz", Size: 1},
						},
					},
				},
			},
		},
	}
}

func mustKey(t *testing.T, repo, id string) catalogue.PackageKey {
	t.Helper()
	return catalogue.PackageKey{RepoURL: repo, PackageID: id}
}

func TestResolveInstallPullsInDependencies(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	libKey := mustKey(t, repoURL, "lib")
	appKey := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{
		tarballDescriptor("lib", nil),
		tarballDescriptor("app", map[catalogue.PackageKey]catalogue.VersionReq{libKey: ""}),
	})

	r := New(cat, newFakeBackend())
	plan, err := r.Resolve(context.Background(), []Action{{Kind: Install, Target: store.System, Key: appKey}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps (lib, app), got %d: %+v", len(plan.Steps), plan.Steps)
	}
	if plan.Steps[0].Key != libKey {
		t.Fatalf("expected dependency lib before app, got %+v", plan.Steps)
	}
	if plan.Steps[1].Key != appKey {
		t.Fatalf("expected app as the final step, got %+v", plan.Steps)
	}
	if !plan.Steps[0].IsDependency {
		t.Fatal("expected lib to be marked as a dependency install")
	}
}

func TestResolveInstallDetectsCycle(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	aKey := mustKey(t, repoURL, "a")
	bKey := mustKey(t, repoURL, "b")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{
		tarballDescriptor("a", map[catalogue.PackageKey]catalogue.VersionReq{bKey: ""}),
		tarballDescriptor("b", map[catalogue.PackageKey]catalogue.VersionReq{aKey: ""}),
	})

	r := New(cat, newFakeBackend())
	_, err := r.Resolve(context.Background(), []Action{{Kind: Install, Target: store.System, Key: aKey}})
	if !pahkaterr.Is(err, pahkaterr.Resolve) || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected a dependency cycle error, got %v", err)
	}
}

func TestResolveRejectsContradictoryActions(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	key := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{tarballDescriptor("app", nil)})

	r := New(cat, newFakeBackend())
	_, err := r.Resolve(context.Background(), []Action{
		{Kind: Install, Target: store.System, Key: key},
		{Kind: Uninstall, Target: store.System, Key: key},
	})
	if !pahkaterr.Is(err, pahkaterr.Contradiction) || !strings.Contains(err.Error(), "both install and uninstall") {
		t.Fatalf("expected an action contradiction error, got %v", err)
	}
}

func TestResolveSkipsUpToDateInstall(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	key := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{tarballDescriptor("app", nil)})

	backend := newFakeBackend()
	backend.installed[key] = "1.0.0"

	r := New(cat, backend)
	plan, err := r.Resolve(context.Background(), []Action{{Kind: Install, Target: store.System, Key: key}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 0 {
		t.Fatalf("expected no steps for an up-to-date package, got %+v", plan.Steps)
	}
}

func TestResolveReinstallForcesUpToDatePackage(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	key := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{tarballDescriptor("app", nil)})

	backend := newFakeBackend()
	backend.installed[key] = "1.0.0"

	r := New(cat, backend)
	plan, err := r.Resolve(context.Background(), []Action{{Kind: Install, Target: store.System, Key: key, Reinstall: true}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected one forced reinstall step, got %+v", plan.Steps)
	}
}

func TestResolveUninstallRefusesPeggedPackage(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	key := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{tarballDescriptor("app", nil)})

	backend := newFakeBackend()
	backend.pegged[key] = true

	r := New(cat, backend)
	_, err := r.Resolve(context.Background(), []Action{{Kind: Uninstall, Target: store.System, Key: key}})
	if !pahkaterr.Is(err, pahkaterr.Resolve) || !strings.Contains(err.Error(), "pegged") {
		t.Fatalf("expected a pegged-dependency error, got %v", err)
	}
}

func TestResolveUninstallCascadesToDependents(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	libKey := mustKey(t, repoURL, "lib")
	appKey := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{
		tarballDescriptor("lib", nil),
		tarballDescriptor("app", nil),
	})

	backend := newFakeBackend()
	backend.dependents[libKey] = []catalogue.PackageKey{appKey}

	r := New(cat, backend)
	plan, err := r.Resolve(context.Background(), []Action{{Kind: Uninstall, Target: store.System, Key: libKey}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 uninstall steps, got %+v", plan.Steps)
	}
	if plan.Steps[0].Key != appKey || plan.Steps[1].Key != libKey {
		t.Fatalf("expected dependent before dependency, got %+v", plan.Steps)
	}
}

func TestValidateDetectsStalePlan(t *testing.T) {
	const repoURL = "https://example.invalid/repo"
	key := mustKey(t, repoURL, "app")

	cat := catalogue.New()
	cat.AddRepo(repoURL, "", []catalogue.Descriptor{tarballDescriptor("app", nil)})

	backend := newFakeBackend()
	r := New(cat, backend)

	plan, err := r.Resolve(context.Background(), []Action{{Kind: Install, Target: store.System, Key: key}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a concurrent install that landed between resolve and validate.
	backend.installed[key] = "1.0.0"

	if err := r.Validate(context.Background(), plan); err == nil {
		t.Fatal("expected Validate to reject a plan invalidated by concurrent state change")
	}
}
