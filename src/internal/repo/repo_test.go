package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"pahkat/src/internal/catalogue"
)

func sampleDescriptors() []catalogue.Descriptor {
	return []catalogue.Descriptor{
		{
			ID:   "app",
			Name: map[string]string{"en": "App"},
			Releases: []catalogue.Release{
				{
					Version: "1.0.0",
					Targets: []catalogue.Target{
						{
							Platform: runtime.GOOS,
							Payload: catalogue.Payload{
								Kind:    catalogue.PayloadTarballPackage,
								Tarball: &catalogue.TarballPackage{URL: "https://example.invalid/app-1.0.0.tar.xz", Size: 42},
							},
						},
					},
				},
			},
		},
	}
}

func TestRefreshFetchesAndDecodesIndex(t *testing.T) {
	data, err := EncodeIndex(sampleDescriptors())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index.bin" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	client := NewClient()
	cat, errs := client.Refresh(context.Background(), []Source{{URL: srv.URL}})
	if len(errs) != 0 {
		t.Fatalf("unexpected refresh errors: %+v", errs)
	}

	key := catalogue.PackageKey{RepoURL: srv.URL, PackageID: "app"}
	d, target, version, ok := cat.Find(key)
	if !ok {
		t.Fatalf("expected to find decoded package, descriptor=%+v", d)
	}
	if version != "1.0.0" {
		t.Fatalf("unexpected version: %s", version)
	}
	if target.Payload.DownloadURL() != "https://example.invalid/app-1.0.0.tar.xz" {
		t.Fatalf("unexpected payload URL: %s", target.Payload.DownloadURL())
	}
}

func TestRefreshPartialFailureKeepsSuccessfulRepos(t *testing.T) {
	data, err := EncodeIndex(sampleDescriptors())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	client := NewClient()
	cat, errs := client.Refresh(context.Background(), []Source{{URL: good.URL}, {URL: bad.URL}})

	if len(errs) != 1 {
		t.Fatalf("expected exactly one refresh error, got %+v", errs)
	}
	if _, ok := errs[bad.URL]; !ok {
		t.Fatalf("expected the failing repo to be recorded, got %+v", errs)
	}

	if _, _, _, ok := cat.Find(catalogue.PackageKey{RepoURL: good.URL, PackageID: "app"}); !ok {
		t.Fatal("expected the successful repo's package to still be usable")
	}
}

func TestDecodeIndexRejectsUnknownSchemaMajor(t *testing.T) {
	data, err := EncodeIndex(sampleDescriptors())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	corrupted := append([]byte(nil), data...)
	corrupted[0] = 0xFF
	corrupted[1] = 0xFF

	if _, err := decodeIndex(corrupted); err == nil {
		t.Fatal("expected an error for an unknown schema major version")
	}
}
