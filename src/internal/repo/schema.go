package repo

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"pahkat/src/internal/catalogue"
)

// schemaMajor is the on-wire schema major version. The loader rejects any
// index whose major differs from this build's, per spec §6 ("the file
// format is stable within a schema-version major; the loader rejects
// unknown major versions").
const schemaMajor uint16 = 1

// wireDescriptor mirrors catalogue.Descriptor in a form gob can encode
// directly (gob does not need exported-field tricks beyond exported
// fields, but we keep a dedicated wire type so the catalogue package's
// in-memory shape is free to evolve independently of the wire format).
type wireDescriptor struct {
	ID          string
	Name        map[string]string
	Description map[string]string
	Releases    []wireRelease
}

type wireRelease struct {
	Version string
	Channel string
	Targets []wireTarget
}

type wireTarget struct {
	Platform     string
	Arch         string
	Dependencies map[string]string // PackageKey.String() -> VersionReq
	PayloadKind  catalogue.PayloadKind
	Windows      *catalogue.WindowsExecutable
	MacOS        *catalogue.MacOSPackage
	Tarball      *catalogue.TarballPackage
}

// wirePackages is the root table: Packages{ packages_keys, packages_values_types,
// packages_values } per spec §6, collapsed here into parallel slices since
// Go's type system does not need a separate "types" vector to disambiguate
// a slice of a single reserved-union type (see DESIGN.md on Synthetic/
// Redirect being reserved-but-unused).
type wirePackages struct {
	Keys        []string
	ValueKind   []uint8 // 0 = Descriptor (Synthetic=1, Redirect=2 reserved, unused)
	Descriptors []wireDescriptor
}

// ErrUnsupportedVariant names the reserved-but-unimplemented union variants
// (Synthetic, Redirect). decodeIndex does not return it: entries of those
// kinds are skipped and the rest of the index is still decoded.
var ErrUnsupportedVariant = fmt.Errorf("repo: unsupported packages_values variant")

func encodeIndex(descriptors []catalogue.Descriptor) ([]byte, error) {
	pkgs := wirePackages{
		Keys:        make([]string, len(descriptors)),
		ValueKind:   make([]uint8, len(descriptors)),
		Descriptors: make([]wireDescriptor, len(descriptors)),
	}
	for i, d := range descriptors {
		pkgs.Keys[i] = d.ID
		pkgs.ValueKind[i] = 0
		pkgs.Descriptors[i] = toWireDescriptor(d)
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, schemaMajor); err != nil {
		return nil, err
	}
	if err := gob.NewEncoder(&buf).Encode(pkgs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeIndex(data []byte) ([]catalogue.Descriptor, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: index truncated", ErrSchema)
	}
	major := binary.BigEndian.Uint16(data[:2])
	if major != schemaMajor {
		return nil, fmt.Errorf("%w: index schema major %d, expected %d", ErrSchema, major, schemaMajor)
	}

	var pkgs wirePackages
	if err := gob.NewDecoder(bytes.NewReader(data[2:])).Decode(&pkgs); err != nil {
		return nil, fmt.Errorf("%w: malformed index body: %v", ErrSchema, err)
	}

	out := make([]catalogue.Descriptor, 0, len(pkgs.Descriptors))
	for i, kind := range pkgs.ValueKind {
		if kind != 0 {
			// Synthetic/Redirect: reserved, treated as present-but-skipped
			// rather than fatal, matching §9's "should be treated as
			// reserved" guidance.
			continue
		}
		if i >= len(pkgs.Descriptors) {
			return nil, fmt.Errorf("%w: keys/values length mismatch", ErrSchema)
		}
		out = append(out, fromWireDescriptor(pkgs.Descriptors[i]))
	}
	return out, nil
}

func toWireDescriptor(d catalogue.Descriptor) wireDescriptor {
	wd := wireDescriptor{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Releases:    make([]wireRelease, len(d.Releases)),
	}
	for i, r := range d.Releases {
		wd.Releases[i] = toWireRelease(r)
	}
	return wd
}

func toWireRelease(r catalogue.Release) wireRelease {
	wr := wireRelease{Version: r.Version, Channel: r.Channel, Targets: make([]wireTarget, len(r.Targets))}
	for i, t := range r.Targets {
		wt := wireTarget{
			Platform:    t.Platform,
			Arch:        t.Arch,
			PayloadKind: t.Payload.Kind,
			Windows:     t.Payload.Windows,
			MacOS:       t.Payload.MacOS,
			Tarball:     t.Payload.Tarball,
		}
		if len(t.Dependencies) > 0 {
			wt.Dependencies = make(map[string]string, len(t.Dependencies))
			for k, v := range t.Dependencies {
				wt.Dependencies[k.String()] = string(v)
			}
		}
		wr.Targets[i] = wt
	}
	return wr
}

func fromWireDescriptor(wd wireDescriptor) catalogue.Descriptor {
	d := catalogue.Descriptor{
		ID:          wd.ID,
		Name:        wd.Name,
		Description: wd.Description,
		Releases:    make([]catalogue.Release, len(wd.Releases)),
	}
	for i, wr := range wd.Releases {
		d.Releases[i] = fromWireRelease(wr)
	}
	return d
}

func fromWireRelease(wr wireRelease) catalogue.Release {
	r := catalogue.Release{Version: wr.Version, Channel: wr.Channel, Targets: make([]catalogue.Target, len(wr.Targets))}
	for i, wt := range wr.Targets {
		t := catalogue.Target{
			Platform: wt.Platform,
			Arch:     wt.Arch,
			Payload: catalogue.Payload{
				Kind:    wt.PayloadKind,
				Windows: wt.Windows,
				MacOS:   wt.MacOS,
				Tarball: wt.Tarball,
			},
		}
		if len(wt.Dependencies) > 0 {
			t.Dependencies = make(map[catalogue.PackageKey]catalogue.VersionReq, len(wt.Dependencies))
			for k, v := range wt.Dependencies {
				key, err := catalogue.ParsePackageKey(k)
				if err != nil {
					continue
				}
				t.Dependencies[key] = catalogue.VersionReq(v)
			}
		}
		r.Targets[i] = t
	}
	return r
}
