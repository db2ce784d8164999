package resolver

import (
	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two version strings. Semver-parseable strings
// compare per semver precedence; when either side fails to parse (e.g. a
// timestamp-style version, "2026-01-15T00:00:00Z"), the comparison falls
// back to a lexicographic compare, which orders zero-padded timestamps
// correctly and degrades gracefully for anything else. An all-digit stamp
// such as "20260115" parses as a semver major version and so compares
// numerically.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SatisfiesConstraint reports whether version meets req, a semver
// constraint expression (e.g. "^1.2.0", ">=1.0.0 <2.0.0"). A req that
// fails to parse as a constraint matches only an exact string equal to
// req, so non-semver catalogues (pinned timestamp versions) still work
// with plain equality requirements.
func SatisfiesConstraint(version string, req string) bool {
	c, err := semver.NewConstraint(req)
	if err != nil {
		return version == req
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return version == req
	}
	return c.Check(v)
}
