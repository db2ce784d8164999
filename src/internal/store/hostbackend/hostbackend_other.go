//go:build !windows && !darwin

package hostbackend

import (
	"pahkat/src/internal/store"
	"pahkat/src/internal/store/unsupported"
)

// New returns the no-op stub: no native installer integration exists for
// this OS, so every method reports store.ErrBackendUnavailable.
func New() store.Backend { return unsupported.New() }
