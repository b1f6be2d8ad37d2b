package memory

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/porthorian/openguard/pkg/cache"
)

const DefaultSize = 10_000

var (
	ErrInvalidTTL = errors.New("memory cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("memory cache: key is required")
)

type Config struct {
	// Size bounds the number of entries; the least recently used entry is
	// evicted first. Defaults to DefaultSize.
	Size int
	Now  func() time.Time
}

type identityEntry struct {
	snapshot cache.IdentitySnapshot
	expires  time.Time
}

type Adapter struct {
	entries *lru.Cache[string, identityEntry]
	now     func() time.Time
}

var _ cache.IdentityCache = (*Adapter)(nil)

func NewAdapter(config Config) (*Adapter, error) {
	size := config.Size
	if size <= 0 {
		size = DefaultSize
	}

	entries, err := lru.New[string, identityEntry](size)
	if err != nil {
		return nil, err
	}

	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Adapter{
		entries: entries,
		now:     now,
	}, nil
}

func (a *Adapter) SetIdentity(ctx context.Context, key string, snapshot cache.IdentitySnapshot, ttl time.Duration) error {
	if err := validateSetInput(key, ttl); err != nil {
		return err
	}

	a.entries.Add(key, identityEntry{
		snapshot: cache.CloneSnapshot(snapshot),
		expires:  a.now().UTC().Add(ttl),
	})
	return nil
}

func (a *Adapter) GetIdentity(ctx context.Context, key string) (cache.IdentitySnapshot, bool, error) {
	entry, ok := a.entries.Get(key)
	if !ok {
		return cache.IdentitySnapshot{}, false, nil
	}

	if a.now().UTC().After(entry.expires) {
		a.entries.Remove(key)
		return cache.IdentitySnapshot{}, false, nil
	}

	return cache.CloneSnapshot(entry.snapshot), true, nil
}

func (a *Adapter) DeleteIdentity(ctx context.Context, key string) error {
	a.entries.Remove(key)
	return nil
}

// Len reports the number of entries, expired ones included until touched.
func (a *Adapter) Len() int {
	return a.entries.Len()
}

func validateSetInput(key string, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
