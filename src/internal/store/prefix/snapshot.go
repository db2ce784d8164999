package prefix

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"pahkat/src/internal/pahkaterr"
)

// Snapshot zips the prefix's pkgstore.sqlite and config.toml into
// <prefix>/cache/snapshots/<name>_<unix>.zip, for the CLI to offer as an
// advisory backup before a destructive uninstall.
//
// Adapted from xe's internal/core/snapshot.go (CreateSnapshot/
// zipDirectory), narrowed from "zip the whole .xe home" to "zip the
// prefix's own bookkeeping files" since a pahkat prefix, unlike xe's
// global home, has no venvs/plugins worth snapshotting alongside it.
func (s *Store) Snapshot(name string) (string, error) {
	snapDir := filepath.Join(s.Path, "cache", "snapshots")
	if err := os.MkdirAll(snapDir, 0755); err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Configuration, err, "create snapshot directory")
	}

	snapPath := filepath.Join(snapDir, fmt.Sprintf("%s_%d.zip", name, time.Now().Unix()))
	archive, err := os.Create(snapPath)
	if err != nil {
		return "", pahkaterr.Annotate(pahkaterr.Configuration, err, "create snapshot file")
	}
	defer archive.Close()

	zw := zip.NewWriter(archive)
	defer zw.Close()

	for _, name := range []string{"pkgstore.sqlite", "config.toml"} {
		path := filepath.Join(s.Path, name)
		if err := addFileToZip(zw, path, name); err != nil && !os.IsNotExist(err) {
			return "", pahkaterr.Annotate(pahkaterr.Configuration, err, "add "+name+" to snapshot")
		}
	}
	return snapPath, nil
}

func addFileToZip(zw *zip.Writer, path, nameInZip string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(nameInZip)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
