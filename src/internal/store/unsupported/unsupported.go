//go:build !windows && !darwin

// Package unsupported provides a no-op store.Backend for platforms with
// no native installer integration, so that code depending on
// internal/store compiles and fails predictably rather than not building
// at all (the prefix backend is the one actually exercised on Linux/CI;
// this stub is what internal/store/hostbackend's build-tag dispatch returns
// on such platforms, e.g. for rpcapi's Service.HostBackend).
package unsupported

import (
	"context"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/store"
)

type Store struct{}

func New() *Store { return &Store{} }

func (s *Store) Status(ctx context.Context, key catalogue.PackageKey, latestVersion string, target store.Target, cmp func(a, b string) int) (store.Status, error) {
	return store.NotInstalled, store.ErrBackendUnavailable
}

func (s *Store) Install(ctx context.Context, req store.InstallRequest) error {
	return store.ErrBackendUnavailable
}

func (s *Store) Uninstall(ctx context.Context, req store.UninstallRequest) error {
	return store.ErrBackendUnavailable
}

func (s *Store) InstalledPackages(ctx context.Context) ([]store.InstalledPackage, error) {
	return nil, store.ErrBackendUnavailable
}

func (s *Store) AllStatuses(ctx context.Context, latest map[catalogue.PackageKey]string, target store.Target, cmp func(a, b string) int) (map[catalogue.PackageKey]store.Status, error) {
	return nil, store.ErrBackendUnavailable
}
