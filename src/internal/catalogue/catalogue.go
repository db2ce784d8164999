// Package catalogue holds the repository data model: package keys,
// descriptors, releases, targets, and payloads, plus the immutable
// snapshot produced by a repository refresh.
package catalogue

import (
	"fmt"
	"net/url"
	"runtime"
	"sort"
	"strings"
)

// Flags is a bitset carried by every Target's Payload.
type Flags uint32

const (
	TargetSystem Flags = 1 << iota
	TargetUser
	RequiresReboot
	RequiresUninstallReboot
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

// PayloadKind discriminates the Payload tagged union. It is co-located
// with the payload table in the wire schema (internal/repo) to preserve
// the source format's discriminator+vtable byte layout.
type PayloadKind uint8

const (
	PayloadUnknown PayloadKind = iota
	PayloadWindowsExecutable
	PayloadMacOSPackage
	PayloadTarballPackage
)

// WindowsExecutableKind selects the installer technology for a Windows
// payload.
type WindowsExecutableKind uint8

const (
	WindowsMsi WindowsExecutableKind = iota
	WindowsInno
	WindowsNsis
)

func (k WindowsExecutableKind) String() string {
	switch k {
	case WindowsMsi:
		return "msi"
	case WindowsInno:
		return "inno"
	case WindowsNsis:
		return "nsis"
	default:
		return "unknown"
	}
}

// Payload is the tagged union of installable artifact kinds. Exactly one
// of the typed fields is populated, selected by Kind.
type Payload struct {
	Kind PayloadKind

	Windows *WindowsExecutable
	MacOS   *MacOSPackage
	Tarball *TarballPackage
}

type WindowsExecutable struct {
	URL           string
	ProductCode   string
	Size          int64
	InstalledSize int64
	Flags         Flags
	WindowsKind   WindowsExecutableKind
	Args          []string
	UninstallArgs []string
}

type MacOSPackage struct {
	URL           string
	PkgID         string
	Size          int64
	InstalledSize int64
	Flags         Flags
}

type TarballPackage struct {
	URL           string
	Size          int64
	InstalledSize int64
}

// DownloadURL returns the payload's download URL regardless of variant.
func (p Payload) DownloadURL() string {
	switch p.Kind {
	case PayloadWindowsExecutable:
		if p.Windows != nil {
			return p.Windows.URL
		}
	case PayloadMacOSPackage:
		if p.MacOS != nil {
			return p.MacOS.URL
		}
	case PayloadTarballPackage:
		if p.Tarball != nil {
			return p.Tarball.URL
		}
	}
	return ""
}

func (p Payload) Size() int64 {
	switch p.Kind {
	case PayloadWindowsExecutable:
		if p.Windows != nil {
			return p.Windows.Size
		}
	case PayloadMacOSPackage:
		if p.MacOS != nil {
			return p.MacOS.Size
		}
	case PayloadTarballPackage:
		if p.Tarball != nil {
			return p.Tarball.Size
		}
	}
	return 0
}

func (p Payload) Flags() Flags {
	switch p.Kind {
	case PayloadWindowsExecutable:
		if p.Windows != nil {
			return p.Windows.Flags
		}
	case PayloadMacOSPackage:
		if p.MacOS != nil {
			return p.MacOS.Flags
		}
	case PayloadTarballPackage:
		return 0
	}
	return 0
}

// VersionReq is a dependency's version constraint, evaluated against a
// candidate Release.Version by the resolver (see internal/resolver).
type VersionReq string

// Target is the (platform, arch) specialization of a Release.
type Target struct {
	Platform     string
	Arch         string // optional; empty matches any arch
	Dependencies map[PackageKey]VersionReq
	Payload      Payload
}

// Matches reports whether this Target applies to the given host.
func (t Target) Matches(platform, arch string) bool {
	if t.Platform != platform {
		return false
	}
	return t.Arch == "" || t.Arch == arch
}

// Release is one version of a package, scoped to a channel.
type Release struct {
	Version string
	Channel string // empty means stable
	Targets []Target
}

// Descriptor is the package metadata node: one per (repo, id).
type Descriptor struct {
	ID          string
	Releases    []Release
	Name        map[string]string
	Description map[string]string
}

// PackageKey is the globally unique address of a package in a repository.
type PackageKey struct {
	RepoURL   string
	PackageID string
	Query     string // optional query (channel=..., target=..., etc)
}

// String serializes the key to its canonical URL form.
func (k PackageKey) String() string {
	base := strings.TrimSuffix(k.RepoURL, "/") + "/packages/" + k.PackageID
	if k.Query == "" {
		return base
	}
	return base + "?" + k.Query
}

// ParsePackageKey parses a PackageKey from its URL form.
func ParsePackageKey(s string) (PackageKey, error) {
	u, err := url.Parse(s)
	if err != nil {
		return PackageKey{}, fmt.Errorf("parse package key %q: %w", s, err)
	}
	idx := strings.Index(u.Path, "/packages/")
	if idx < 0 {
		return PackageKey{}, fmt.Errorf("parse package key %q: missing /packages/ segment", s)
	}
	repoURL := u.Scheme + "://" + u.Host + u.Path[:idx]
	packageID := strings.TrimPrefix(u.Path[idx:], "/packages/")
	return PackageKey{RepoURL: repoURL, PackageID: packageID, Query: u.RawQuery}, nil
}

// Catalogue is an immutable snapshot produced by a repository refresh.
// Readers hold the snapshot for the lifetime of their operation; a new
// refresh produces a new Catalogue rather than mutating this one.
type Catalogue struct {
	repos map[string]*repoEntry
}

type repoEntry struct {
	url         string
	channel     string
	descriptors map[string]*Descriptor
}

// New builds an empty catalogue, populated incrementally via AddRepo.
func New() *Catalogue {
	return &Catalogue{repos: map[string]*repoEntry{}}
}

// AddRepo registers a successfully loaded repository's descriptors.
func (c *Catalogue) AddRepo(repoURL, channel string, descriptors []Descriptor) {
	entry := &repoEntry{url: repoURL, channel: channel, descriptors: map[string]*Descriptor{}}
	for i := range descriptors {
		d := descriptors[i]
		entry.descriptors[d.ID] = &d
	}
	c.repos[repoURL] = entry
}

// Find resolves a PackageKey to its Descriptor, the Target matching the
// current host, and the Release.Version that Target was selected from. It
// returns (nil, nil, "", false) if the repository or package is unknown, and
// (descriptor, nil, "", false) if the package exists but no target matches.
func (c *Catalogue) Find(key PackageKey) (*Descriptor, *Target, string, bool) {
	return c.FindForHost(key, runtime.GOOS, runtime.GOARCH)
}

// FindForHost is Find parameterized over an explicit host, for testing and
// for cross-platform operations like `pahkat download`.
func (c *Catalogue) FindForHost(key PackageKey, platform, arch string) (*Descriptor, *Target, string, bool) {
	entry, ok := c.repos[key.RepoURL]
	if !ok {
		return nil, nil, "", false
	}
	d, ok := entry.descriptors[key.PackageID]
	if !ok {
		return nil, nil, "", false
	}
	target, version, ok := SelectTarget(*d, entry.channel, platform, arch)
	if !ok {
		return d, nil, "", false
	}
	return d, target, version, true
}

// FindConstrained resolves key to the newest eligible Release+Target
// satisfying the given version predicate, honoring the repo's configured
// channel exactly as Find does. Used by the resolver's dependency closure
// to pick "the newest compatible target in the configured channel" for a
// dependency's VersionReq (spec §4.3 step 2).
func (c *Catalogue) FindConstrained(key PackageKey, satisfies func(version string) bool) (*Descriptor, *Target, string, bool) {
	return c.findConstrainedForHost(key, satisfies, runtime.GOOS, runtime.GOARCH)
}

func (c *Catalogue) findConstrainedForHost(key PackageKey, satisfies func(string) bool, platform, arch string) (*Descriptor, *Target, string, bool) {
	entry, ok := c.repos[key.RepoURL]
	if !ok {
		return nil, nil, "", false
	}
	d, ok := entry.descriptors[key.PackageID]
	if !ok {
		return nil, nil, "", false
	}
	for _, r := range eligibleReleases(d.Releases, entry.channel) {
		if satisfies != nil && !satisfies(r.Version) {
			continue
		}
		for j := range r.Targets {
			if r.Targets[j].Matches(platform, arch) {
				t := r.Targets[j]
				return d, &t, r.Version, true
			}
		}
	}
	return d, nil, "", false
}

// SelectTarget picks the first Release in channel order whose Target
// matches the host, tie-breaking by version descending, returning that
// Release's Version alongside the matched Target. channel == "" means
// only Release.Channel == "" (stable) releases are eligible; otherwise
// both channel and stable releases are eligible, channel first.
func SelectTarget(d Descriptor, channel, platform, arch string) (*Target, string, bool) {
	releases := eligibleReleases(d.Releases, channel)
	for i := range releases {
		for j := range releases[i].Targets {
			t := releases[i].Targets[j]
			if t.Matches(platform, arch) {
				return &t, releases[i].Version, true
			}
		}
	}
	return nil, "", false
}

// eligibleReleases returns releases for the configured channel, ordered
// channel-track first (already-descending per Descriptor invariant), then
// stable, each internally descending by version.
func eligibleReleases(releases []Release, channel string) []Release {
	var tracked, stable []Release
	for _, r := range releases {
		switch {
		case channel != "" && r.Channel == channel:
			tracked = append(tracked, r)
		case r.Channel == "":
			stable = append(stable, r)
		}
	}
	out := make([]Release, 0, len(tracked)+len(stable))
	out = append(out, tracked...)
	out = append(out, stable...)
	return out
}

// CandidatesForChannel returns every Descriptor in repoURL eligible under
// channel, for enumeration (e.g. `pahkat` search/list front-ends).
func (c *Catalogue) CandidatesForChannel(repoURL, channel string) []Descriptor {
	entry, ok := c.repos[repoURL]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(entry.descriptors))
	for id := range entry.descriptors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Descriptor, 0, len(ids))
	for _, id := range ids {
		d := entry.descriptors[id]
		if len(eligibleReleases(d.Releases, channel)) > 0 {
			out = append(out, *d)
		}
	}
	return out
}

// Repos returns the configured repository URLs in this snapshot.
func (c *Catalogue) Repos() []string {
	out := make([]string, 0, len(c.repos))
	for url := range c.repos {
		out = append(out, url)
	}
	sort.Strings(out)
	return out
}
