package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/porthorian/openguard"
	"github.com/porthorian/openguard/pkg/authz"
)

const (
	envPrefix     = "OPENGUARD_"
	configPathEnv = "OPENGUARD_CONFIG"
)

type config struct {
	Log           logConfig                    `koanf:"log"`
	Server        serverConfig                 `koanf:"server"`
	Storage       storageConfig                `koanf:"storage"`
	Cache         cacheConfig                  `koanf:"cache"`
	Verifier      verifierConfig               `koanf:"verifier"`
	Resolver      resolverConfig               `koanf:"resolver"`
	SuperuserRole string                       `koanf:"superuser_role"`
	Policies      map[string]authz.Requirement `koanf:"policies"`
}

type logConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

type serverConfig struct {
	Address         string        `koanf:"address" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	SeedFile        string        `koanf:"seed_file"`
}

type storageConfig struct {
	Backend  string         `koanf:"backend" validate:"oneof=none memory postgres"`
	Postgres postgresConfig `koanf:"postgres"`
}

type postgresConfig struct {
	DSN             string        `koanf:"dsn"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `koanf:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `koanf:"conn_max_idle_time"`
}

type cacheConfig struct {
	Backend    string      `koanf:"backend" validate:"oneof=none memory redis"`
	MemorySize int         `koanf:"memory_size" validate:"gte=0"`
	Redis      redisConfig `koanf:"redis"`
}

type redisConfig struct {
	Address   string `koanf:"address"`
	Username  string `koanf:"username"`
	Password  string `koanf:"password"`
	Database  int    `koanf:"database" validate:"gte=0"`
	Namespace string `koanf:"namespace"`
}

type verifierConfig struct {
	Secret             string        `koanf:"secret"`
	Algorithm          string        `koanf:"algorithm" validate:"oneof=HS256 HS384 HS512"`
	SubjectClaim       string        `koanf:"subject_claim" validate:"required"`
	Leeway             time.Duration `koanf:"leeway" validate:"gte=0"`
	AllowMissingExpiry bool          `koanf:"allow_missing_expiry"`
	Issuer             string        `koanf:"issuer"`
	Audience           string        `koanf:"audience"`
}

type resolverConfig struct {
	KeyPrefix         string        `koanf:"key_prefix" validate:"required"`
	TTL               time.Duration `koanf:"ttl" validate:"gt=0"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
	DisableCoalescing bool          `koanf:"disable_coalescing"`
}

func defaultConfig() config {
	return config{
		Log: logConfig{
			Level:  "info",
			Format: "json",
		},
		Server: serverConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: storageConfig{
			Backend: string(openguard.StorageBackendMemory),
		},
		Cache: cacheConfig{
			Backend: string(openguard.CacheBackendMemory),
		},
		Verifier: verifierConfig{
			Algorithm:    "HS256",
			SubjectClaim: "sub",
		},
		Resolver: resolverConfig{
			KeyPrefix: "user:",
			TTL:       time.Hour,
			Timeout:   openguard.DefaultResolveTimeout,
		},
		SuperuserRole: authz.DefaultSuperuserRole,
	}
}

// loadConfig layers defaults, the optional YAML file and OPENGUARD_* variables.
// Nested keys use a double underscore: OPENGUARD_VERIFIER__SECRET.
func loadConfig(path string) (config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = strings.TrimSpace(os.Getenv(configPathEnv))
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg config
	if err := k.Unmarshal("", &cfg); err != nil {
		return config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	switch key {
	case "database_url":
		return "storage.postgres.dsn"
	case "jwt_secret":
		return "verifier.secret"
	}
	return strings.ReplaceAll(key, "__", ".")
}

func (c config) validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return err
	}

	if c.Storage.Backend == string(openguard.StorageBackendPostgres) && c.Storage.Postgres.DSN == "" {
		return errors.New("storage.postgres.dsn is required for the postgres backend")
	}
	if c.Cache.Backend == string(openguard.CacheBackendRedis) && c.Cache.Redis.Address == "" {
		return errors.New("cache.redis.address is required for the redis backend")
	}
	return nil
}

func (c config) clientConfig(logger logr.Logger) openguard.Config {
	return openguard.Config{
		Logger: logger,
		Runtime: openguard.RuntimeConfig{
			Storage: openguard.StorageConfig{
				Backend: openguard.StorageBackend(c.Storage.Backend),
				Postgres: openguard.PostgresConfig{
					DSN:             c.Storage.Postgres.DSN,
					MaxOpenConns:    c.Storage.Postgres.MaxOpenConns,
					MaxIdleConns:    c.Storage.Postgres.MaxIdleConns,
					ConnMaxLifetime: c.Storage.Postgres.ConnMaxLifetime,
					ConnMaxIdleTime: c.Storage.Postgres.ConnMaxIdleTime,
				},
			},
			Cache: openguard.CacheConfig{
				Backend: openguard.CacheBackend(c.Cache.Backend),
				Memory:  openguard.MemoryCacheConfig{Size: c.Cache.MemorySize},
				Redis: openguard.RedisCacheConfig{
					Address:   c.Cache.Redis.Address,
					Username:  c.Cache.Redis.Username,
					Password:  c.Cache.Redis.Password,
					Database:  c.Cache.Redis.Database,
					Namespace: c.Cache.Redis.Namespace,
				},
			},
			Verifier: openguard.VerifierConfig{
				Secret:             c.Verifier.Secret,
				Algorithm:          c.Verifier.Algorithm,
				SubjectClaim:       c.Verifier.SubjectClaim,
				Leeway:             c.Verifier.Leeway,
				AllowMissingExpiry: c.Verifier.AllowMissingExpiry,
				Issuer:             c.Verifier.Issuer,
				Audience:           c.Verifier.Audience,
			},
			Resolver: openguard.ResolverConfig{
				KeyPrefix:         c.Resolver.KeyPrefix,
				TTL:               c.Resolver.TTL,
				Timeout:           c.Resolver.Timeout,
				DisableCoalescing: c.Resolver.DisableCoalescing,
			},
			SuperuserRole: c.SuperuserRole,
		},
	}
}

// policyRegistry merges configured policies over the built-in ones.
func (c config) policyRegistry() (*authz.Registry, error) {
	policies := map[string]authz.Requirement{
		policyIdentitiesRead:  authz.AnyRole("admin"),
		policyIdentitiesEvict: authz.AllPermissions("identities.evict"),
	}
	for name, requirement := range c.Policies {
		policies[name] = requirement
	}
	return authz.NewRegistry(policies)
}
