// Package prefix implements the self-contained "prefix" store backend
// (spec §4.2.1): a directory owning pkgstore.sqlite plus the extracted
// tarball contents of every installed package.
//
// Database access is grounded on other_examples/aa8fce5d_keitagame-frpm's
// database/sql + github.com/mattn/go-sqlite3 package-manager shape (a
// packages/files/repos schema of the same kind required here). The
// prefix-wide advisory lock and tarball extraction are new: the teacher
// (xe) never implements multi-process locking or a traversal-safe tar
// walk, so those are grounded directly on spec §4.2.1's numbered steps
// and DESIGN.md's note on why codeclysm/extract/v3 cannot be reused here
// (it offers no per-entry control to reject path traversal or escaping
// symlinks).
package prefix

import (
	"archive/tar"
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/ulikunitz/xz"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/store"
	"pahkat/src/internal/telemetry"
)

// ErrSchemaVersionMismatch is returned by Open when an existing
// pkgstore.sqlite was created by an incompatible schema version.
var ErrSchemaVersionMismatch = fmt.Errorf("prefix: schema version mismatch")

// ErrLockContended is returned when the prefix-wide advisory lock cannot
// be acquired immediately (spec §4.2.1 step 1, "fail-fast if contended").
var ErrLockContended = fmt.Errorf("prefix: advisory lock contended")

// ErrUnsupportedPayload is returned when Install is given anything other
// than a TarballPackage (spec §4.2.1 "Only TarballPackage is accepted").
var ErrUnsupportedPayload = fmt.Errorf("prefix: only tarball payloads are supported")

// Store is the prefix backend, rooted at Path.
type Store struct {
	Path string
	db   *sql.DB
}

// Init creates pkgstore.sqlite under path if it does not already exist.
// Re-init on an existing prefix is idempotent; a schema version mismatch
// fails loudly rather than silently migrating.
func Init(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "create prefix directory")
	}
	db, err := sql.Open("sqlite3", dbPath(path))
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "open pkgstore.sqlite")
	}
	defer db.Close()
	return initSchema(db)
}

func dbPath(prefix string) string {
	return filepath.Join(prefix, "pkgstore.sqlite")
}

func initSchema(db *sql.DB) error {
	var count int
	row := db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='schema_meta'`)
	if err := row.Scan(&count); err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "inspect schema_meta")
	}
	if count == 0 {
		if _, err := db.Exec(createSchemaSQL); err != nil {
			return pahkaterr.Annotate(pahkaterr.Configuration, err, "create pkgstore schema")
		}
		if _, err := db.Exec(`INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion); err != nil {
			return pahkaterr.Annotate(pahkaterr.Configuration, err, "record schema version")
		}
		return nil
	}

	var version int
	if err := db.QueryRow(`SELECT version FROM schema_meta LIMIT 1`).Scan(&version); err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "read schema version")
	}
	if version != schemaVersion {
		return pahkaterr.Annotate(pahkaterr.Configuration,
			fmt.Errorf("%w: found %d, expected %d", ErrSchemaVersionMismatch, version, schemaVersion),
			"validate pkgstore schema")
	}
	return nil
}

// Open opens an already-initialized prefix. The writer connection pool is
// capped at one so the database never has more than a single writer
// within this process, per spec §5 ("single-writer connection").
func Open(path string) (*Store, error) {
	if err := initSchema0(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dbPath(path))
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Configuration, err, "open pkgstore.sqlite")
	}
	db.SetMaxOpenConns(1)
	return &Store{Path: path, db: db}, nil
}

func initSchema0(path string) error {
	if _, err := os.Stat(dbPath(path)); os.IsNotExist(err) {
		return Init(path)
	}
	db, err := sql.Open("sqlite3", dbPath(path))
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Configuration, err, "open pkgstore.sqlite")
	}
	defer db.Close()
	return initSchema(db)
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) lockPath() string { return filepath.Join(s.Path, ".pahkat.lock") }

// withLock acquires the prefix-wide advisory lock for the duration of fn,
// failing fast (not blocking) if another process holds it.
func (s *Store) withLock(fn func() error) error {
	lock := flock.New(s.lockPath())
	locked, err := lock.TryLock()
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Concurrency, err, "acquire prefix lock")
	}
	if !locked {
		return pahkaterr.Annotate(pahkaterr.Concurrency, ErrLockContended, "acquire prefix lock")
	}
	defer lock.Unlock()
	return fn()
}

// Status implements store.Backend.
func (s *Store) Status(ctx context.Context, key catalogue.PackageKey, latestVersion string, target store.Target, cmp func(a, b string) int) (store.Status, error) {
	version, ok, err := s.installedVersion(ctx, key)
	if err != nil {
		return store.NotInstalled, err
	}
	if !ok {
		return store.NotInstalled, nil
	}
	return store.StatusFromVersions(version, latestVersion, cmp), nil
}

func (s *Store) installedVersion(ctx context.Context, key catalogue.PackageKey) (string, bool, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT version FROM packages WHERE url = ?`, key.String()).Scan(&version)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, pahkaterr.Annotate(pahkaterr.Install, err, "query installed version")
	}
	return version, true, nil
}

// Install implements store.Backend §4.2.1's six numbered steps.
func (s *Store) Install(ctx context.Context, req store.InstallRequest) error {
	done := telemetry.StartSpan("store.prefix.install", "package", req.Key.PackageID, "version", req.Version)
	err := s.withLock(func() error { return s.install(ctx, req) })
	if err != nil {
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

func (s *Store) install(ctx context.Context, req store.InstallRequest) error {
	if req.Payload.Kind != catalogue.PayloadTarballPackage || req.Payload.Tarball == nil {
		return pahkaterr.New(pahkaterr.Install, ErrUnsupportedPayload.Error())
	}

	destDir := filepath.Join(s.Path, "pkg", req.Key.PackageID)
	written, err := extractTarXZ(req.LocalPath, destDir)
	if err != nil {
		for _, f := range written {
			_ = os.Remove(filepath.Join(destDir, f))
		}
		return pahkaterr.Annotate(pahkaterr.Install, err, "extract package")
	}

	if err := s.commitInstall(ctx, req, destDir, written); err != nil {
		// Best-effort rollback of filesystem state (spec: "remove
		// newly-written files" on any error after extraction begins).
		for _, f := range written {
			_ = os.Remove(filepath.Join(destDir, f))
		}
		return err
	}
	return nil
}

func (s *Store) commitInstall(ctx context.Context, req store.InstallRequest, destDir string, files []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "begin install transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	url := req.Key.String()

	var pkgID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE url = ?`, url).Scan(&pkgID)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO packages (url, package_id, version, installed_on, updated_on, is_dependent, is_pegged)
			 VALUES (?, ?, ?, ?, ?, ?, 0)`,
			url, req.Key.PackageID, req.Version, now, now, req.IsDependency)
		if err != nil {
			return pahkaterr.Annotate(pahkaterr.Install, err, "insert package row")
		}
		pkgID, err = res.LastInsertId()
		if err != nil {
			return pahkaterr.Annotate(pahkaterr.Install, err, "read inserted package id")
		}
	case err != nil:
		return pahkaterr.Annotate(pahkaterr.Install, err, "query existing package row")
	default:
		if _, err := tx.ExecContext(ctx,
			`UPDATE packages SET version = ?, updated_on = ?, is_dependent = is_dependent AND ? WHERE id = ?`,
			req.Version, now, req.IsDependency, pkgID); err != nil {
			return pahkaterr.Annotate(pahkaterr.Install, err, "update package row")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages_files WHERE package_id = ?`, pkgID); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "clear package files")
	}
	for _, f := range files {
		rel, err := filepath.Rel(s.Path, filepath.Join(destDir, f))
		if err != nil {
			rel = filepath.Join(destDir, f)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO packages_files (package_id, file_path) VALUES (?, ?)`, pkgID, rel); err != nil {
			return pahkaterr.Annotate(pahkaterr.Install, err, "record package file")
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages_dependencies WHERE package_id = ?`, pkgID); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "clear package dependencies")
	}
	for _, dep := range req.Dependencies {
		var depID int64
		if err := tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE url = ?`, dep.String()).Scan(&depID); err != nil {
			continue // dependency not yet tracked (shouldn't happen if plan order is respected)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO packages_dependencies (package_id, dependency_id) VALUES (?, ?)`, pkgID, depID); err != nil {
			return pahkaterr.Annotate(pahkaterr.Install, err, "record package dependency")
		}
	}

	if err := tx.Commit(); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "commit install transaction")
	}
	return nil
}

// Uninstall implements store.Backend.
func (s *Store) Uninstall(ctx context.Context, req store.UninstallRequest) error {
	done := telemetry.StartSpan("store.prefix.uninstall", "package", req.Key.PackageID)
	err := s.withLock(func() error { return s.uninstall(ctx, req) })
	if err != nil {
		done("status", "error", "error", err.Error())
		return err
	}
	done("status", "ok")
	return nil
}

func (s *Store) uninstall(ctx context.Context, req store.UninstallRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "begin uninstall transaction")
	}
	defer tx.Rollback()

	url := req.Key.String()
	var pkgID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM packages WHERE url = ?`, url).Scan(&pkgID); err != nil {
		if err == sql.ErrNoRows {
			return nil
		}
		return pahkaterr.Annotate(pahkaterr.Install, err, "query package row")
	}

	rows, err := tx.QueryContext(ctx, `SELECT file_path FROM packages_files WHERE package_id = ?`, pkgID)
	if err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "query package files")
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return pahkaterr.Annotate(pahkaterr.Install, err, "scan package file")
		}
		files = append(files, f)
	}
	rows.Close()

	for _, f := range files {
		// Missing files are not errors (spec §4.2.1 Uninstall).
		_ = os.Remove(filepath.Join(s.Path, f))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM packages_dependencies WHERE package_id = ? OR dependency_id = ?`, pkgID, pkgID); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "delete package dependency rows")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM packages_files WHERE package_id = ?`, pkgID); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "delete package file rows")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM packages WHERE id = ?`, pkgID); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "delete package row")
	}

	if err := tx.Commit(); err != nil {
		return pahkaterr.Annotate(pahkaterr.Install, err, "commit uninstall transaction")
	}

	pruneEmptyDirs(filepath.Join(s.Path, "pkg", req.Key.PackageID))
	return nil
}

// IsPegged reports whether key is hard-retained, for the resolver's
// reverse-dependency-closure check (spec §4.3 step 3).
func (s *Store) IsPegged(ctx context.Context, key catalogue.PackageKey) (bool, error) {
	var pegged bool
	err := s.db.QueryRowContext(ctx, `SELECT is_pegged FROM packages WHERE url = ?`, key.String()).Scan(&pegged)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, pahkaterr.Annotate(pahkaterr.Resolve, err, "query pegged state")
	}
	return pegged, nil
}

// Dependents returns every installed package whose packages_dependencies
// row names key as its dependency (spec §4.3 step 3, reverse-dependency
// closure).
func (s *Store) Dependents(ctx context.Context, key catalogue.PackageKey) ([]catalogue.PackageKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.url FROM packages p
		JOIN packages_dependencies pd ON pd.package_id = p.id
		JOIN packages dep ON dep.id = pd.dependency_id
		WHERE dep.url = ?`, key.String())
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Resolve, err, "query dependents")
	}
	defer rows.Close()

	var out []catalogue.PackageKey
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, pahkaterr.Annotate(pahkaterr.Resolve, err, "scan dependent row")
		}
		key, err := catalogue.ParsePackageKey(url)
		if err != nil {
			continue
		}
		out = append(out, key)
	}
	return out, nil
}

// InstalledPackages implements store.Backend.
func (s *Store) InstalledPackages(ctx context.Context) ([]store.InstalledPackage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT url, version, is_dependent, is_pegged FROM packages`)
	if err != nil {
		return nil, pahkaterr.Annotate(pahkaterr.Install, err, "query installed packages")
	}
	defer rows.Close()

	var out []store.InstalledPackage
	for rows.Next() {
		var url, version string
		var isDependent, isPegged bool
		if err := rows.Scan(&url, &version, &isDependent, &isPegged); err != nil {
			return nil, pahkaterr.Annotate(pahkaterr.Install, err, "scan installed package row")
		}
		key, err := catalogue.ParsePackageKey(url)
		if err != nil {
			continue
		}
		out = append(out, store.InstalledPackage{Key: key, Version: version, IsDependent: isDependent, IsPegged: isPegged})
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

// extractTarXZ extracts a .tar.xz archive into destDir, rejecting
// absolute paths, parent-traversal components, and symlinks that would
// escape destDir (spec §4.2.1 step 3). Each file is written atomically
// (temp file + rename, step 4). Returns the relative paths written.
func extractTarXZ(archivePath, destDir string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open xz stream: %w", err)
	}
	tr := tar.NewReader(xr)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, err
	}

	var written []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return written, fmt.Errorf("read tar entry: %w", err)
		}

		rel, err := safeRelPath(hdr.Name)
		if err != nil {
			return written, err
		}
		if rel == "." {
			continue
		}

		target := filepath.Join(destDir, rel)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return written, err
			}
		case tar.TypeSymlink:
			if err := rejectEscapingSymlink(destDir, rel, hdr.Linkname); err != nil {
				return written, err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return written, err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return written, err
			}
			written = append(written, rel)
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return written, err
			}
			if err := writeFileAtomic(target, tr, os.FileMode(hdr.Mode)); err != nil {
				return written, err
			}
			written = append(written, rel)
		}
	}
	return written, nil
}

// safeRelPath rejects absolute paths and parent-traversal components.
func safeRelPath(name string) (string, error) {
	clean := filepath.Clean(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("refusing absolute path in archive: %s", name)
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("refusing parent-traversal path in archive: %s", name)
	}
	return clean, nil
}

// rejectEscapingSymlink refuses a symlink whose target would resolve
// outside destDir.
func rejectEscapingSymlink(destDir, rel, linkname string) error {
	if filepath.IsAbs(linkname) {
		return fmt.Errorf("refusing absolute symlink target: %s -> %s", rel, linkname)
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(filepath.Join(destDir, rel)), linkname))
	destAbs, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	resolvedAbs, err := filepath.Abs(resolved)
	if err != nil {
		return err
	}
	if resolvedAbs != destAbs && !strings.HasPrefix(resolvedAbs, destAbs+string(filepath.Separator)) {
		return fmt.Errorf("refusing symlink escaping prefix: %s -> %s", rel, linkname)
	}
	return nil
}

func writeFileAtomic(target string, r io.Reader, mode os.FileMode) error {
	tmp := target + ".pahkat-tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

// pruneEmptyDirs removes dir and any now-empty parents under it, starting
// from the leaf (spec §4.2.1 Uninstall, "Then prune empty directories").
func pruneEmptyDirs(dir string) {
	for d := dir; d != "." && d != string(filepath.Separator); d = filepath.Dir(d) {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			return
		}
		if os.Remove(d) != nil {
			return
		}
	}
}
