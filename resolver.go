package openguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"

	"github.com/porthorian/openguard/pkg/cache"
	oerrors "github.com/porthorian/openguard/pkg/errors"
	"github.com/porthorian/openguard/pkg/storage"
)

const DefaultResolveTimeout = 2 * time.Second

type ResolverConfig struct {
	// KeyPrefix is prepended to the subject id to form the cache key.
	// Defaults to cache.DefaultKeyPrefix.
	KeyPrefix string
	// TTL of cache entries. Defaults to cache.DefaultTTL.
	TTL time.Duration
	// Timeout bounds each cache and storage call. Defaults to DefaultResolveTimeout.
	Timeout time.Duration
	// DisableCoalescing turns off sharing of concurrent storage loads for the
	// same subject.
	DisableCoalescing bool
}

// Resolver turns a subject id into an Identity, reading through the cache to
// storage.
type Resolver struct {
	store    storage.IdentityStore
	cache    cache.IdentityCache
	prefix   string
	ttl      time.Duration
	timeout  time.Duration
	coalesce bool
	group    singleflight.Group
	gens     generations
	logger   logr.Logger
	metrics  *Metrics
	now      func() time.Time
}

// NewResolver builds a Resolver. identityCache may be nil, in which case every
// resolution goes to storage.
func NewResolver(store storage.IdentityStore, identityCache cache.IdentityCache, config ResolverConfig, logger logr.Logger) (*Resolver, error) {
	if store == nil {
		return nil, oerrors.ErrMissingStore
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = cache.DefaultKeyPrefix
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = cache.DefaultTTL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = DefaultResolveTimeout
	}

	return &Resolver{
		store:    store,
		cache:    identityCache,
		prefix:   prefix,
		ttl:      ttl,
		timeout:  timeout,
		coalesce: !config.DisableCoalescing,
		logger:   resolveLogger(logger),
		now:      time.Now,
	}, nil
}

func (r *Resolver) Resolve(ctx context.Context, subjectID string) (*Identity, error) {
	identity, err := r.resolve(ctx, subjectID)
	if err != nil {
		r.metrics.observeResolutionError(err)
		return nil, err
	}
	return identity, nil
}

func (r *Resolver) resolve(ctx context.Context, subjectID string) (*Identity, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, oerrors.New(oerrors.CodeIdentityNotFound, "identity not found")
	}
	if err := ctx.Err(); err != nil {
		return nil, oerrors.Wrap(oerrors.CodeUnknown, "identity resolution cancelled", err)
	}

	key := cache.Key(r.prefix, subjectID)

	if r.cache != nil {
		snapshot, found, err := r.cacheGet(ctx, key)
		if err != nil {
			return nil, oerrors.Wrap(oerrors.CodeCacheUnavailable, "identity cache unavailable", err)
		}
		if found {
			r.metrics.observeResolution(resolutionSourceCache)
			r.logger.V(2).Info("identity cache hit", "subject", subjectID)
			return identityFromSnapshot(snapshot), nil
		}
	}

	if !r.coalesce {
		return r.load(ctx, key, subjectID)
	}

	// The shared load outlives any single caller; it is bounded by r.timeout
	// on each call instead.
	result := r.group.DoChan(subjectID, func() (any, error) {
		return r.load(context.WithoutCancel(ctx), key, subjectID)
	})

	select {
	case <-ctx.Done():
		return nil, oerrors.Wrap(oerrors.CodeUnknown, "identity resolution cancelled", ctx.Err())
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Identity).clone(), nil
	}
}

func (r *Resolver) load(ctx context.Context, key string, subjectID string) (*Identity, error) {
	gen := r.gens.acquire(subjectID)
	defer r.gens.release(subjectID)

	loadCtx, cancel := context.WithTimeout(ctx, r.timeout)
	record, err := r.store.LoadIdentity(loadCtx, subjectID)
	cancel()

	if errors.Is(err, storage.ErrNotFound) {
		return nil, oerrors.New(oerrors.CodeIdentityNotFound, "identity not found")
	}
	if err != nil {
		return nil, oerrors.Wrap(oerrors.CodeStorageUnavailable, "identity storage unavailable", err)
	}
	if !record.Subject.Usable() {
		r.logger.V(1).Info("rejected unusable subject", "subject", subjectID, "status", record.Subject.Status)
		return nil, oerrors.New(oerrors.CodeIdentityNotFound, "identity not found")
	}

	identity := NewIdentity(
		record.Subject.ID,
		record.Subject.DisplayName,
		record.Subject.Email,
		record.Roles,
		record.Permissions,
	)
	r.metrics.observeResolution(resolutionSourceStore)

	if r.cache != nil {
		r.populate(ctx, key, subjectID, gen, identity)
	}
	return identity, nil
}

// populate writes the identity to the cache unless subjectID was invalidated
// while it loaded. Failures are logged only.
func (r *Resolver) populate(ctx context.Context, key string, subjectID string, gen uint64, identity *Identity) {
	if r.gens.current(subjectID) != gen {
		r.logger.V(1).Info("skipped caching invalidated identity", "subject", subjectID)
		return
	}

	setCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.cache.SetIdentity(setCtx, key, snapshotFromIdentity(identity, r.now()), r.ttl); err != nil {
		r.logger.Error(err, "failed to cache identity", "key", key)
		return
	}

	// Invalidate may have deleted the key between the check and the write.
	if r.gens.current(subjectID) != gen {
		if err := r.cache.DeleteIdentity(setCtx, key); err != nil {
			r.logger.Error(err, "failed to drop invalidated identity", "key", key)
		}
	}
}

func (r *Resolver) cacheGet(ctx context.Context, key string) (cache.IdentitySnapshot, bool, error) {
	getCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.cache.GetIdentity(getCtx, key)
}

// Invalidate drops the cached identity for subjectID so the next resolution
// reads storage.
func (r *Resolver) Invalidate(ctx context.Context, subjectID string) error {
	subjectID = strings.TrimSpace(subjectID)
	r.gens.bump(subjectID)
	r.group.Forget(subjectID)
	if r.cache == nil || subjectID == "" {
		return nil
	}

	deleteCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.cache.DeleteIdentity(deleteCtx, cache.Key(r.prefix, subjectID)); err != nil {
		return oerrors.Wrap(oerrors.CodeCacheUnavailable, "identity cache unavailable", err)
	}
	r.logger.V(1).Info("invalidated cached identity", "subject", subjectID)
	return nil
}

// generations counts invalidations per subject while a load for it is in
// flight. Entries are dropped once the last load releases them.
type generations struct {
	mu      sync.Mutex
	entries map[string]*generation
}

type generation struct {
	value uint64
	refs  int
}

func (g *generations) acquire(subjectID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.entries == nil {
		g.entries = make(map[string]*generation)
	}
	entry, ok := g.entries[subjectID]
	if !ok {
		entry = &generation{}
		g.entries[subjectID] = entry
	}
	entry.refs++
	return entry.value
}

func (g *generations) release(subjectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.entries[subjectID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(g.entries, subjectID)
	}
}

func (g *generations) current(subjectID string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.entries[subjectID]; ok {
		return entry.value
	}
	return 0
}

func (g *generations) bump(subjectID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if entry, ok := g.entries[subjectID]; ok {
		entry.value++
	}
}

func identityFromSnapshot(snapshot cache.IdentitySnapshot) *Identity {
	return NewIdentity(snapshot.ID, snapshot.DisplayName, snapshot.Email, snapshot.Roles, snapshot.Permissions)
}

func snapshotFromIdentity(identity *Identity, resolvedAt time.Time) cache.IdentitySnapshot {
	return cache.CloneSnapshot(cache.IdentitySnapshot{
		ID:          identity.ID,
		DisplayName: identity.DisplayName,
		Email:       identity.Email,
		Roles:       identity.Roles,
		Permissions: identity.Permissions,
		ResolvedAt:  resolvedAt.UTC(),
	})
}
