package prefix

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ulikunitz/xz"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
)

// buildTarXZ packages the given name -> contents map into a .tar.xz
// archive at path, mirroring the layout extractTarXZ expects.
func buildTarXZ(t *testing.T, path string, files map[string]string) {
	t.Helper()

	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for name, contents := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(contents))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(contents)); err != nil {
			t.Fatalf("write tar body: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	defer f.Close()

	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatalf("create xz writer: %v", err)
	}
	if _, err := xw.Write(raw.Bytes()); err != nil {
		t.Fatalf("write xz stream: %v", err)
	}
	if err := xw.Close(); err != nil {
		t.Fatalf("close xz writer: %v", err)
	}
}

func TestInitOpenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Init(dir); err != nil {
		t.Fatalf("expected re-init on an existing prefix to be idempotent: %v", err)
	}

	st, err := Open(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()
}

func TestInstallAndUninstallRoundTrip(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	archive := filepath.Join(t.TempDir(), "app.tar.xz")
	buildTarXZ(t, archive, map[string]string{"bin/app": "binary contents"})

	key := catalogue.PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "app"}
	ctx := context.Background()

	err = st.Install(ctx, store.InstallRequest{
		Key:       key,
		Version:   "1.0.0",
		Target:    store.System,
		Payload:   catalogue.Payload{Kind: catalogue.PayloadTarballPackage, Tarball: &catalogue.TarballPackage{}},
		LocalPath: archive,
	})
	if err != nil {
		t.Fatalf("unexpected install error: %v", err)
	}

	status, err := st.Status(ctx, key, "1.0.0", store.System, resolver.CompareVersions)
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status != store.UpToDate {
		t.Fatalf("expected UpToDate after install, got %v", status)
	}

	installedFile := filepath.Join(dir, "pkg", "app", "bin", "app")
	if _, err := os.Stat(installedFile); err != nil {
		t.Fatalf("expected extracted file to exist: %v", err)
	}

	if err := st.Uninstall(ctx, store.UninstallRequest{Key: key, Target: store.System}); err != nil {
		t.Fatalf("unexpected uninstall error: %v", err)
	}

	status, err = st.Status(ctx, key, "1.0.0", store.System, resolver.CompareVersions)
	if err != nil {
		t.Fatalf("unexpected status error: %v", err)
	}
	if status != store.NotInstalled {
		t.Fatalf("expected NotInstalled after uninstall, got %v", status)
	}
	if _, err := os.Stat(installedFile); !os.IsNotExist(err) {
		t.Fatalf("expected extracted file to be removed, stat err=%v", err)
	}
}

func TestInstallRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	archive := filepath.Join(t.TempDir(), "evil.tar.xz")
	buildTarXZ(t, archive, map[string]string{"../../etc/passwd": "pwned"})

	key := catalogue.PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "evil"}
	err = st.Install(context.Background(), store.InstallRequest{
		Key:       key,
		Version:   "1.0.0",
		Target:    store.System,
		Payload:   catalogue.Payload{Kind: catalogue.PayloadTarballPackage, Tarball: &catalogue.TarballPackage{}},
		LocalPath: archive,
	})
	if err == nil {
		t.Fatal("expected install to reject a path-traversal archive entry")
	}
}

func TestDependentsTracksReverseDependencies(t *testing.T) {
	dir := t.TempDir()
	if err := Init(dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st, err := Open(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer st.Close()

	libArchive := filepath.Join(t.TempDir(), "lib.tar.xz")
	buildTarXZ(t, libArchive, map[string]string{"lib.so": "lib"})
	appArchive := filepath.Join(t.TempDir(), "app.tar.xz")
	buildTarXZ(t, appArchive, map[string]string{"bin/app": "app"})

	libKey := catalogue.PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "lib"}
	appKey := catalogue.PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "app"}
	ctx := context.Background()

	if err := st.Install(ctx, store.InstallRequest{
		Key: libKey, Version: "1.0.0", Target: store.System,
		Payload: catalogue.Payload{Kind: catalogue.PayloadTarballPackage, Tarball: &catalogue.TarballPackage{}}, LocalPath: libArchive,
	}); err != nil {
		t.Fatalf("unexpected error installing lib: %v", err)
	}

	if err := st.Install(ctx, store.InstallRequest{
		Key: appKey, Version: "1.0.0", Target: store.System,
		Payload: catalogue.Payload{Kind: catalogue.PayloadTarballPackage, Tarball: &catalogue.TarballPackage{}},
		LocalPath: appArchive, Dependencies: []catalogue.PackageKey{libKey},
	}); err != nil {
		t.Fatalf("unexpected error installing app: %v", err)
	}

	dependents, err := st.Dependents(ctx, libKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dependents) != 1 || dependents[0] != appKey {
		t.Fatalf("expected app to be a dependent of lib, got %+v", dependents)
	}

	pegged, err := st.IsPegged(ctx, libKey)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pegged {
		t.Fatal("expected lib to not be pegged by default")
	}
}
