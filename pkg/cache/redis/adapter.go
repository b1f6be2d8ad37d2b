package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/go-redis/redis/v8"

	"github.com/porthorian/openguard/pkg/cache"
)

var (
	ErrInvalidTTL = errors.New("redis cache: ttl must be greater than zero")
	ErrEmptyKey   = errors.New("redis cache: key is required")
	ErrNilClient  = errors.New("redis cache: client is nil")
)

type Config struct {
	Address      string
	Username     string
	Password     string
	Database     int
	Namespace    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Adapter struct {
	client    goredis.UniversalClient
	namespace string
}

var _ cache.IdentityCache = (*Adapter)(nil)

func NewAdapter(config Config) *Adapter {
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 3 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 3 * time.Second
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:         config.Address,
		Username:     config.Username,
		Password:     config.Password,
		DB:           config.Database,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	return &Adapter{
		client:    client,
		namespace: config.Namespace,
	}
}

// NewAdapterWithClient wraps an existing client. Closing the adapter closes it.
func NewAdapterWithClient(client goredis.UniversalClient, namespace string) (*Adapter, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Adapter{
		client:    client,
		namespace: namespace,
	}, nil
}

func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: ping: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) SetIdentity(ctx context.Context, key string, snapshot cache.IdentitySnapshot, ttl time.Duration) error {
	if key == "" {
		return ErrEmptyKey
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("redis cache: encode identity: %w", err)
	}

	if err := a.client.Set(ctx, a.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

// GetIdentity returns a miss for absent keys. An entry that no longer decodes
// is deleted and also reported as a miss.
func (a *Adapter) GetIdentity(ctx context.Context, key string) (cache.IdentitySnapshot, bool, error) {
	if key == "" {
		return cache.IdentitySnapshot{}, false, ErrEmptyKey
	}

	data, err := a.client.Get(ctx, a.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return cache.IdentitySnapshot{}, false, nil
	}
	if err != nil {
		return cache.IdentitySnapshot{}, false, fmt.Errorf("redis cache: get: %w", err)
	}

	var snapshot cache.IdentitySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		_ = a.client.Del(ctx, a.key(key)).Err()
		return cache.IdentitySnapshot{}, false, nil
	}

	return snapshot, true, nil
}

func (a *Adapter) DeleteIdentity(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := a.client.Del(ctx, a.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: delete: %w", err)
	}
	return nil
}

func (a *Adapter) key(key string) string {
	if a.namespace == "" {
		return key
	}
	return a.namespace + ":" + key
}
