//go:build windows

// Package windows implements the Windows store backend (spec §4.2.2):
// MSI/Inno/NSIS installer dispatch and registry-backed status.
//
// Grounded directly on xe's own build-tag-per-OS precedent
// (internal/security/auth_windows.go vs auth_linux.go: identical
// exported signatures, platform-specific implementation, selected by
// //go:build). os/exec dispatch follows xe's own os/exec use throughout
// internal/python/manager.go and internal/utils/path.go's PowerShell
// invocation.
package windows

import (
	"context"
	"fmt"
	"os/exec"

	"golang.org/x/sys/windows/registry"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/store"
	"pahkat/src/internal/telemetry"
)

// ErrUnsupportedPayload is returned when Install is given anything other
// than a WindowsExecutable payload.
var ErrUnsupportedPayload = fmt.Errorf("windows: only Windows executable payloads are supported")

// Store is the Windows registry/MSI/Inno/NSIS backend.
type Store struct{}

func New() *Store { return &Store{} }

func hive(target store.Target) registry.Key {
	if target == store.System {
		return registry.LOCAL_MACHINE
	}
	return registry.CURRENT_USER
}

func uninstallKeyPath(productCode string) string {
	return `Software\Microsoft\Windows\CurrentVersion\Uninstall\` + productCode
}

// Status implements store.Backend by reading DisplayVersion from the
// product code's Uninstall registry key (spec §4.2.2).
func (s *Store) Status(ctx context.Context, key catalogue.PackageKey, latestVersion string, target store.Target, cmp func(a, b string) int) (store.Status, error) {
	productCode := key.Query // product_code is carried in the key's query component for Windows targets
	k, err := registry.OpenKey(hive(target), uninstallKeyPath(productCode), registry.QUERY_VALUE)
	if err != nil {
		if err == registry.ErrNotExist {
			return store.NotInstalled, nil
		}
		return store.NotInstalled, pahkaterr.Annotate(pahkaterr.Install, err, "open uninstall registry key")
	}
	defer k.Close()

	version, _, err := k.GetStringValue("DisplayVersion")
	if err != nil {
		return store.NotInstalled, pahkaterr.Annotate(pahkaterr.Install, err, "read DisplayVersion")
	}
	return store.StatusFromVersions(version, latestVersion, cmp), nil
}

// Install dispatches by WindowsExecutableKind (spec §4.2.2).
func (s *Store) Install(ctx context.Context, req store.InstallRequest) error {
	done := telemetry.StartSpan("store.windows.install", "package", req.Key.PackageID)
	if req.Payload.Kind != catalogue.PayloadWindowsExecutable || req.Payload.Windows == nil {
		err := pahkaterr.New(pahkaterr.Install, ErrUnsupportedPayload.Error())
		done("status", "error", "error", err.Error())
		return err
	}
	w := req.Payload.Windows

	var cmd *exec.Cmd
	switch w.WindowsKind {
	case catalogue.WindowsMsi:
		args := append([]string{"/i", req.LocalPath, "/quiet"}, w.Args...)
		cmd = exec.CommandContext(ctx, "msiexec", args...)
	case catalogue.WindowsInno:
		args := append([]string{"/VERYSILENT", "/NORESTART"}, w.Args...)
		cmd = exec.CommandContext(ctx, req.LocalPath, args...)
	case catalogue.WindowsNsis:
		args := append([]string{"/S"}, w.Args...)
		cmd = exec.CommandContext(ctx, req.LocalPath, args...)
	default:
		err := pahkaterr.New(pahkaterr.Install, fmt.Sprintf("unknown windows executable kind %d", w.WindowsKind))
		done("status", "error", "error", err.Error())
		return err
	}

	out, err := cmd.CombinedOutput()
	if err != nil {
		err = pahkaterr.Annotate(pahkaterr.Install, fmt.Errorf("%w: %s", err, string(out)), "run windows installer")
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

// Uninstall runs `msiexec /x <product code> /quiet` for every package,
// whatever its installer kind. The registered uninstaller of an Inno or
// NSIS install is not looked up or run.
func (s *Store) Uninstall(ctx context.Context, req store.UninstallRequest) error {
	done := telemetry.StartSpan("store.windows.uninstall", "package", req.Key.PackageID)
	productCode := req.Key.Query

	cmd := exec.CommandContext(ctx, "msiexec", "/x", productCode, "/quiet")
	out, err := cmd.CombinedOutput()
	if err != nil {
		err = pahkaterr.Annotate(pahkaterr.Install, fmt.Errorf("%w: %s", err, string(out)), "run windows uninstaller")
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

// InstalledPackages enumerates Uninstall registry keys. Only a minimal
// subset of fields (key, version) can be reconstructed from the registry
// alone; dependent/pegged tracking is not a Windows-backend concept (the
// registry carries no such bit), so both are reported false.
func (s *Store) InstalledPackages(ctx context.Context) ([]store.InstalledPackage, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `Software\Microsoft\Windows\CurrentVersion\Uninstall`, registry.ENUMERATE_SUB_KEYS)
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Install, err, "open uninstall registry root")
	}
	defer k.Close()

	names, err := k.ReadSubKeyNames(-1)
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Install, err, "enumerate uninstall registry keys")
	}

	var out []store.InstalledPackage
	for _, name := range names {
		sub, err := registry.OpenKey(registry.LOCAL_MACHINE, `Software\Microsoft\Windows\CurrentVersion\Uninstall\`+name, registry.QUERY_VALUE)
		if err != nil {
			continue
		}
		version, _, _ := sub.GetStringValue("DisplayVersion")
		sub.Close()
		out = append(out, store.InstalledPackage{
			Key:     catalogue.PackageKey{Query: name},
			Version: version,
		})
	}
	return out, nil
}

// AllStatuses implements store.Backend.
func (s *Store) AllStatuses(ctx context.Context, latest map[catalogue.PackageKey]string, target store.Target, cmp func(a, b string) int) (map[catalogue.PackageKey]store.Status, error) {
	out := make(map[catalogue.PackageKey]store.Status, len(latest))
	for key, latestVersion := range latest {
		status, err := s.Status(ctx, key, latestVersion, target, cmp)
		if err != nil {
			return nil, err
		}
		out[key] = status
	}
	return out, nil
}
