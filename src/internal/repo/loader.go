// Package repo fetches and validates each configured repository's binary
// index and assembles the immutable Catalogue snapshot the rest of the
// client core consults (§4.1). Partial failure is first-class: a refresh
// that has some repositories fail still returns a usable catalogue for
// the ones that succeeded, alongside a per-repo error map.
package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/telemetry"
)

// ErrSchema is wrapped by schema-version and malformed-body failures.
var ErrSchema = errors.New("repo: schema error")

// ErrNetwork is wrapped by transport-level failures.
var ErrNetwork = errors.New("repo: network error")

// Source names one configured repository to refresh.
type Source struct {
	URL     string
	Channel string // empty selects stable-only
}

// Client fetches repository indices over HTTPS with the system trust
// roots (no custom TLS config — signature verification of indices is out
// of scope per spec §1 Non-goals).
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a bounded per-request timeout, matching
// the teacher's plain net/http usage in internal/cache (xe's CAS layer)
// rather than reaching for an HTTP framework this domain does not need.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 30 * time.Second}}
}

// Refresh fetches <url>/index.bin for each source and assembles a
// Catalogue from the successes. Failures are collected per repo URL and
// never abort the whole refresh (spec §4.1, §8 "Refresh partial-failure").
func (c *Client) Refresh(ctx context.Context, sources []Source) (*catalogue.Catalogue, map[string]error) {
	cat := catalogue.New()
	errs := map[string]error{}

	for _, src := range sources {
		done := telemetry.StartSpan("repo.refresh", "url", src.URL, "channel", src.Channel)
		descriptors, err := c.fetchOne(ctx, src.URL)
		if err != nil {
			done("status", "error", "error", err.Error())
			errs[src.URL] = err
			continue
		}
		cat.AddRepo(src.URL, src.Channel, descriptors)
		done("status", "ok", "packages", len(descriptors))
	}

	return cat, errs
}

func (c *Client) fetchOne(ctx context.Context, repoURL string) ([]catalogue.Descriptor, error) {
	done := telemetry.StartSpan("repo.fetch", "url", repoURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, repoURL+"/index.bin", nil)
	if err != nil {
		done("status", "error", "error", err.Error())
		return nil, pahkaterr.Annotate(pahkaterr.Network, err, "build index request")
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		done("status", "error", "error", err.Error())
		return nil, pahkaterr.Annotate(pahkaterr.Network, fmt.Errorf("%w: %v", ErrNetwork, err), "fetch index")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("%w: %s returned %s", ErrNetwork, repoURL, resp.Status)
		done("status", "error", "error", err.Error())
		return nil, pahkaterr.Annotate(pahkaterr.Network, err, "fetch index")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		done("status", "error", "error", err.Error())
		return nil, pahkaterr.Annotate(pahkaterr.Network, fmt.Errorf("%w: %v", ErrNetwork, err), "read index body")
	}

	descriptors, err := decodeIndex(body)
	if err != nil {
		done("status", "error", "error", err.Error())
		return nil, pahkaterr.Annotate(pahkaterr.Schema, err, "decode index")
	}

	done("status", "ok", "packages", len(descriptors))
	return descriptors, nil
}

// EncodeIndex serializes descriptors into the on-wire format this loader
// consumes. It exists so tests (and any future uploader-side tooling) can
// produce a fixture index.bin without duplicating the wire format.
func EncodeIndex(descriptors []catalogue.Descriptor) ([]byte, error) {
	return encodeIndex(descriptors)
}
