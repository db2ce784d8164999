package catalogue

import "testing"

func tarballDescriptor(id string) Descriptor {
	return Descriptor{
		ID: id,
		Releases: []Release{
			{
				Version: "1.1.0",
				Targets: []Target{
					{
						Platform: "linux",
						Payload: Payload{
							Kind:    PayloadTarballPackage,
							Tarball: &TarballPackage{URL: "https://example.invalid/" + id + "-1.1.0.tar.xz", Size: 10},
						},
					},
				},
			},
			{
				Version: "1.0.0",
				Targets: []Target{
					{
						Platform: "linux",
						Payload: Payload{
							Kind:    PayloadTarballPackage,
							Tarball: &TarballPackage{URL: "https://example.invalid/" + id + "-1.0.0.tar.xz", Size: 10},
						},
					},
				},
			},
		},
	}
}

func TestParsePackageKeyRoundTrip(t *testing.T) {
	key := PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "foo"}
	parsed, err := ParsePackageKey(key.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed.RepoURL != key.RepoURL || parsed.PackageID != key.PackageID {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", parsed, key)
	}
}

func TestParsePackageKeyRejectsMissingPackagesSegment(t *testing.T) {
	if _, err := ParsePackageKey("https://example.invalid/repo/foo"); err == nil {
		t.Fatal("expected error for missing /packages/ segment")
	}
}

func TestSelectTargetPicksNewestEligibleRelease(t *testing.T) {
	d := tarballDescriptor("foo")
	target, version, ok := SelectTarget(d, "", "linux", "amd64")
	if !ok {
		t.Fatal("expected a match")
	}
	if version != "1.1.0" {
		t.Fatalf("expected newest version 1.1.0, got %s", version)
	}
	if target.Payload.DownloadURL() == "" {
		t.Fatal("expected a download URL")
	}
}

func TestSelectTargetNoMatchingPlatform(t *testing.T) {
	d := tarballDescriptor("foo")
	if _, _, ok := SelectTarget(d, "", "windows", "amd64"); ok {
		t.Fatal("expected no match for unsupported platform")
	}
}

func TestFindForHostResolvesThroughRepo(t *testing.T) {
	cat := New()
	cat.AddRepo("https://example.invalid/repo", "", []Descriptor{tarballDescriptor("foo")})

	key := PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "foo"}
	d, target, version, ok := cat.FindForHost(key, "linux", "amd64")
	if !ok {
		t.Fatal("expected to find package")
	}
	if d.ID != "foo" {
		t.Fatalf("unexpected descriptor: %+v", d)
	}
	if version != "1.1.0" {
		t.Fatalf("expected version 1.1.0, got %s", version)
	}
	if target.Platform != "linux" {
		t.Fatalf("unexpected target: %+v", target)
	}
}

func TestFindForHostUnknownRepoOrPackage(t *testing.T) {
	cat := New()
	cat.AddRepo("https://example.invalid/repo", "", []Descriptor{tarballDescriptor("foo")})

	if _, _, _, ok := cat.FindForHost(PackageKey{RepoURL: "https://example.invalid/other", PackageID: "foo"}, "linux", "amd64"); ok {
		t.Fatal("expected no match for unknown repo")
	}
	if _, _, _, ok := cat.FindForHost(PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "bar"}, "linux", "amd64"); ok {
		t.Fatal("expected no match for unknown package")
	}
}

func TestFindConstrainedRespectsPredicate(t *testing.T) {
	cat := New()
	cat.AddRepo("https://example.invalid/repo", "", []Descriptor{tarballDescriptor("foo")})
	key := PackageKey{RepoURL: "https://example.invalid/repo", PackageID: "foo"}

	_, _, version, ok := cat.FindConstrained(key, func(v string) bool { return v == "1.0.0" })
	if !ok {
		t.Fatal("expected a constrained match")
	}
	if version != "1.0.0" {
		t.Fatalf("expected pinned version 1.0.0, got %s", version)
	}

	if _, _, _, ok := cat.FindConstrained(key, func(v string) bool { return v == "9.9.9" }); ok {
		t.Fatal("expected no match for unsatisfiable predicate")
	}
}

func TestEligibleReleasesPrefersChannelTrack(t *testing.T) {
	d := Descriptor{
		ID: "foo",
		Releases: []Release{
			{Version: "1.0.0", Channel: ""},
			{Version: "2.0.0-beta", Channel: "beta"},
		},
	}
	releases := eligibleReleases(d.Releases, "beta")
	if len(releases) != 2 || releases[0].Version != "2.0.0-beta" {
		t.Fatalf("expected beta release first, got %+v", releases)
	}

	stableOnly := eligibleReleases(d.Releases, "")
	if len(stableOnly) != 1 || stableOnly[0].Version != "1.0.0" {
		t.Fatalf("expected only the stable release, got %+v", stableOnly)
	}
}
