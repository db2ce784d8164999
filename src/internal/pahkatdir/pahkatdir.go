// Package pahkatdir resolves the standard on-disk locations pahkat uses
// when it is not operating against an explicit prefix: the per-user home
// directory, its config file, and its global download cache.
package pahkatdir

import (
	"os"
	"path/filepath"
	"runtime"
)

// Home returns the per-user pahkat data directory.
func Home() (string, error) {
	if runtime.GOOS == "windows" {
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, "Pahkat"), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "AppData", "Local", "Pahkat"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "pahkat"), nil
}

// MustHome returns Home, falling back to a relative directory name if the
// user's home directory cannot be determined.
func MustHome() string {
	home, err := Home()
	if err != nil {
		return "pahkat"
	}
	return home
}

// ConfigFile returns the path of the global configuration store.
func ConfigFile() string {
	return filepath.Join(MustHome(), "config.toml")
}

// CacheDir returns the path of the global download cache.
func CacheDir() string {
	return filepath.Join(MustHome(), "cache")
}

// EnsureHome creates the pahkat home directory if it does not exist.
func EnsureHome() error {
	return os.MkdirAll(MustHome(), 0755)
}

// PrefixConfigFile, PrefixDB and PrefixPackageDir describe the on-disk
// layout within a single prefix root (see pahkat's CLI surface, which
// operates against an explicit `-c <prefix>` rather than the global home).
func PrefixConfigFile(prefix string) string {
	return filepath.Join(prefix, "config.toml")
}

func PrefixDB(prefix string) string {
	return filepath.Join(prefix, "pkgstore.sqlite")
}

func PrefixPackageDir(prefix, packageID string) string {
	return filepath.Join(prefix, "pkg", packageID)
}

func PrefixCacheDir(prefix string) string {
	return filepath.Join(prefix, "cache")
}

func EnsurePrefix(prefix string) error {
	return os.MkdirAll(prefix, 0755)
}
