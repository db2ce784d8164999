package cmd

import (
	"context"

	"pahkat/src/internal/cache"
	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/executor"
	"pahkat/src/internal/pahkatcfg"
	"pahkat/src/internal/pahkatdir"
	"pahkat/src/internal/repo"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
	"pahkat/src/internal/store/prefix"
)

// prefixSession bundles everything a prefix-scoped command needs: the
// loaded config, the prefix store, a refreshed catalogue, and an
// executor wired to the prefix's own cache directory. Grounded on xe's
// own cmd/add.go pattern of "LoadOrCreate config, then build an
// Installer from it" at the top of every mutating command.
type prefixSession struct {
	Prefix    string
	Config    pahkatcfg.Config
	Store     *prefix.Store
	Cache     *cache.Cache
	Catalogue *catalogue.Catalogue
	Errors    map[string]error
}

func (s *prefixSession) Close() error {
	if s.Store != nil {
		return s.Store.Close()
	}
	return nil
}

// openPrefixSession opens an initialized prefix, loads its config,
// refreshes its configured repositories into a catalogue, and prepares
// the download cache. Repo refresh failures are returned in Errors
// rather than failing the whole open (spec §4.1 partial failure), even
// when every repo failed.
func openPrefixSession(ctx context.Context) (*prefixSession, error) {
	prefixPath, err := requirePrefix()
	if err != nil {
		return nil, err
	}

	st, err := prefix.Open(prefixPath)
	if err != nil {
		return nil, err
	}

	cfg, err := pahkatcfg.LoadOrCreate(
		pahkatdir.PrefixConfigFile(prefixPath),
		pahkatdir.PrefixCacheDir(prefixPath),
		pahkatdir.PrefixCacheDir(prefixPath),
	)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	c, err := cache.New(pahkatdir.PrefixCacheDir(prefixPath))
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	sources := make([]repo.Source, 0, len(cfg.Repositories))
	for _, r := range cfg.Repositories {
		sources = append(sources, repo.Source{URL: r.URL, Channel: r.Channel})
	}
	cat, errs := repo.NewClient().Refresh(ctx, sources)

	return &prefixSession{
		Prefix:    prefixPath,
		Config:    cfg,
		Store:     st,
		Cache:     c,
		Catalogue: cat,
		Errors:    errs,
	}, nil
}

func (s *prefixSession) resolver() *resolver.Resolver {
	return resolver.New(s.Catalogue, s.Store)
}

// backendFor always selects the prefix store: the CLI surface named in
// spec §6 is explicitly the prefix client, never the Windows/macOS
// native backends (those are reached only through the RPC/UI process
// boundary in internal/rpcapi).
func (s *prefixSession) backendFor(resolver.PlanStep) store.Backend {
	return s.Store
}

func (s *prefixSession) executor() *executor.Executor {
	return executor.New(s.Cache, s.backendFor)
}
