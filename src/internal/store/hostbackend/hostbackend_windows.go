//go:build windows

// Package hostbackend selects the native store.Backend for the running
// OS, the same build-tag-per-file selection xe uses for
// internal/security/auth_windows.go vs auth_linux.go — one exported
// function, three platform-specific bodies, one common caller
// (internal/rpcapi, spec §6's process-boundary/RPC seam) that picks
// whichever file the build tag compiled in.
package hostbackend

import (
	"pahkat/src/internal/store"
	"pahkat/src/internal/store/windows"
)

// New returns the Windows registry/MSI/Inno/NSIS backend.
func New() store.Backend { return windows.New() }
