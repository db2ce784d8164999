//go:build darwin

package hostbackend

import (
	"pahkat/src/internal/store"
	"pahkat/src/internal/store/macos"
)

// New returns the installer(8)/pkgutil(1) backend.
func New() store.Backend { return macos.New() }
