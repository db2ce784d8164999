// Package rpcapi exposes the client core's operations as the
// process-boundary operation set (spec §6): the seam a local RPC
// transport (out of scope here, §1) would wrap so an unprivileged UI can
// request privileged installs. No transport is implemented; Service is
// called directly by whatever wrapper a future transport provides.
package rpcapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pahkat/src/internal/cache"
	"pahkat/src/internal/catalogue"
	"pahkat/src/internal/events"
	"pahkat/src/internal/executor"
	"pahkat/src/internal/pahkatcfg"
	"pahkat/src/internal/pahkaterr"
	"pahkat/src/internal/repo"
	"pahkat/src/internal/resolver"
	"pahkat/src/internal/store"
	"pahkat/src/internal/store/hostbackend"
)

// Service implements the §6 "Process-boundary API to RPC / UI clients"
// operation list over the core packages.
type Service struct {
	RepoClient *repo.Client
	Config     pahkatcfg.Config
	ConfigPath string

	Cache    *cache.Cache
	Executor *executor.Executor

	// HostBackend is the platform-native store.Backend (Windows registry/
	// MSI/Inno/NSIS, macOS installer/pkgutil, or the unsupported stub),
	// selected at compile time by internal/store/hostbackend's build-tag
	// dispatch. The CLI (internal/cmd) always operates against a prefix
	// instead (see cmd/session.go); a native, non-prefix install is only
	// reachable through this RPC/UI process boundary.
	HostBackend store.Backend

	mu          sync.Mutex
	catalogue   *catalogue.Catalogue
	refreshErrs map[string]error

	txMu         sync.Mutex
	transactions map[string]context.CancelFunc
}

func NewService(repoClient *repo.Client, cfg pahkatcfg.Config, configPath string, c *cache.Cache, exec *executor.Executor) *Service {
	return &Service{
		RepoClient:   repoClient,
		Config:       cfg,
		ConfigPath:   configPath,
		Cache:        c,
		Executor:     exec,
		HostBackend:  hostbackend.New(),
		transactions: map[string]context.CancelFunc{},
	}
}

// HostStatus reports a package's installed-state classification against
// the platform-native backend rather than a caller-supplied prefix, for
// RPC/UI clients that query system-wide (non-prefix) install state.
func (s *Service) HostStatus(ctx context.Context, key catalogue.PackageKey, target store.Target) (store.Status, error) {
	return s.Status(ctx, s.HostBackend, key, target)
}

// ResolveHost and ProcessHostTransaction are the HostBackend-scoped
// counterparts of Resolve/ProcessTransaction, for RPC/UI clients that
// request native installs outside of any prefix.
func (s *Service) ResolveHost(ctx context.Context, actions []resolver.Action) (*resolver.Plan, error) {
	return s.Resolve(ctx, s.HostBackend, actions)
}

func (s *Service) ProcessHostTransaction(ctx context.Context, plan *resolver.Plan) (<-chan events.Event, error) {
	return s.ProcessTransaction(ctx, s.HostBackend, plan)
}

// RepoIndexes refreshes every configured repository and returns the
// resulting catalogue snapshot plus any per-repo errors (spec §4.1
// partial failure).
func (s *Service) RepoIndexes(ctx context.Context) (*catalogue.Catalogue, map[string]error, error) {
	sources := make([]repo.Source, 0, len(s.Config.Repositories))
	for _, r := range s.Config.Repositories {
		sources = append(sources, repo.Source{URL: r.URL, Channel: r.Channel})
	}
	cat, errs := s.RepoClient.Refresh(ctx, sources)

	s.mu.Lock()
	s.catalogue = cat
	s.refreshErrs = errs
	s.mu.Unlock()

	return cat, errs, nil
}

func (s *Service) currentCatalogue() (*catalogue.Catalogue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.catalogue == nil {
		return nil, pahkaterr.New(pahkaterr.Configuration, "catalogue not loaded: call RepoIndexes first")
	}
	return s.catalogue, nil
}

// Status reports a single package's installed-state classification.
func (s *Service) Status(ctx context.Context, backend store.Backend, key catalogue.PackageKey, target store.Target) (store.Status, error) {
	cat, err := s.currentCatalogue()
	if err != nil {
		return store.NotInstalled, err
	}
	_, _, version, ok := cat.Find(key)
	if !ok {
		return store.NotInstalled, pahkaterr.Annotate(pahkaterr.Resolve, resolver.ErrPackageResolve, "resolve package for status")
	}
	return backend.Status(ctx, key, version, target, resolver.CompareVersions)
}

// Resolve builds a transaction plan from the requested actions.
func (s *Service) Resolve(ctx context.Context, backend store.Backend, actions []resolver.Action) (*resolver.Plan, error) {
	cat, err := s.currentCatalogue()
	if err != nil {
		return nil, err
	}
	r := resolver.New(cat, backend)
	return r.Resolve(ctx, actions)
}

// ProcessTransaction validates plan against a fresh snapshot and, if
// still current, executes it, tracking a cancellable context under the
// plan's ID so a later Cancel call can reach it.
func (s *Service) ProcessTransaction(ctx context.Context, backend store.Backend, plan *resolver.Plan) (<-chan events.Event, error) {
	r := resolver.New(nil, backend)
	if cat, err := s.currentCatalogue(); err == nil {
		r.Catalogue = cat
	}
	if err := r.Validate(ctx, plan); err != nil {
		return nil, err
	}

	txCtx, cancel := context.WithCancel(ctx)
	s.txMu.Lock()
	s.transactions[plan.ID] = cancel
	s.txMu.Unlock()

	stream := s.Executor.Execute(txCtx, plan)
	return s.wrapWithCleanup(plan.ID, stream, cancel), nil
}

// wrapWithCleanup forwards every event from src and forgets the
// transaction once the producer closes its stream.
func (s *Service) wrapWithCleanup(txID string, src <-chan events.Event, cancel context.CancelFunc) <-chan events.Event {
	out := make(chan events.Event)
	go func() {
		defer close(out)
		defer func() {
			s.txMu.Lock()
			delete(s.transactions, txID)
			s.txMu.Unlock()
			cancel()
		}()
		for ev := range src {
			out <- ev
		}
	}()
	return out
}

// Cancel signals the named transaction's cancellation token.
func (s *Service) Cancel(txID string) error {
	s.txMu.Lock()
	cancel, ok := s.transactions[txID]
	s.txMu.Unlock()
	if !ok {
		return pahkaterr.New(pahkaterr.Concurrency, fmt.Sprintf("no such transaction: %s", txID))
	}
	cancel()
	return nil
}

// SettingsGet/SettingsSet expose the ui.* preference bag (spec §4.6).
func (s *Service) SettingsGet(prefs *pahkatcfg.UIPrefs, key string) any {
	return prefs.Get(key)
}

func (s *Service) SettingsSet(prefs *pahkatcfg.UIPrefs, key string, value any) error {
	return prefs.Set(key, value)
}

// RepoAdd/RepoRemove mutate the configured repository list and persist it.
func (s *Service) RepoAdd(url, channel string) error {
	s.Config.AddRepo(url, channel)
	return pahkatcfg.Save(s.ConfigPath, s.Config)
}

func (s *Service) RepoRemove(url string) error {
	s.Config.RemoveRepo(url)
	return pahkatcfg.Save(s.ConfigPath, s.Config)
}

// NewTransactionID mints an identifier for a plan, used by callers that
// build a Plan outside of Resolve (e.g. restoring one from persisted
// state) and need it tracked the same way.
func NewTransactionID() string { return uuid.NewString() }
