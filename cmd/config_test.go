package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porthorian/openguard"
	"github.com/porthorian/openguard/pkg/authz"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")

	cfg, err := loadConfig("")
	require.NoError(t, err)

	assert.Equal(t, defaultConfig().Log, cfg.Log)
	assert.Equal(t, string(openguard.StorageBackendMemory), cfg.Storage.Backend)
	assert.Equal(t, string(openguard.CacheBackendMemory), cfg.Cache.Backend)
	assert.Equal(t, "HS256", cfg.Verifier.Algorithm)
	assert.Equal(t, "user:", cfg.Resolver.KeyPrefix)
	assert.Equal(t, time.Hour, cfg.Resolver.TTL)
	assert.Equal(t, openguard.DefaultResolveTimeout, cfg.Resolver.Timeout)
	assert.Equal(t, authz.DefaultSuperuserRole, cfg.SuperuserRole)
}

func TestLoadConfigFileThenEnvironment(t *testing.T) {
	path := writeConfigFile(t, `
log:
  level: debug
  format: console
cache:
  backend: none
verifier:
  secret: from-file
  leeway: 30s
resolver:
  ttl: 5m
policies:
  reports:
    permissions: [reports.read]
`)
	t.Setenv("OPENGUARD_VERIFIER__SECRET", "from-env")
	t.Setenv("OPENGUARD_RESOLVER__KEY_PREFIX", "id:")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "none", cfg.Cache.Backend)
	assert.Equal(t, "from-env", cfg.Verifier.Secret)
	assert.Equal(t, 30*time.Second, cfg.Verifier.Leeway)
	assert.Equal(t, 5*time.Minute, cfg.Resolver.TTL)
	assert.Equal(t, "id:", cfg.Resolver.KeyPrefix)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, []string{"reports.read"}, cfg.Policies["reports"].Permissions)
}

func TestLoadConfigPathFromEnvironment(t *testing.T) {
	path := writeConfigFile(t, "server:\n  address: 127.0.0.1:9000\n")
	t.Setenv(configPathEnv, path)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
}

func TestLoadConfigShortcutVariables(t *testing.T) {
	t.Setenv(configPathEnv, "")
	t.Setenv("OPENGUARD_DATABASE_URL", "postgres://localhost/openguard")
	t.Setenv("OPENGUARD_JWT_SECRET", "shh")
	t.Setenv("OPENGUARD_STORAGE__BACKEND", "postgres")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "postgres://localhost/openguard", cfg.Storage.Postgres.DSN)
	assert.Equal(t, "shh", cfg.Verifier.Secret)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		contains string
	}{
		{name: "unknown log level", contents: "log:\n  level: loud\n", contains: "Level"},
		{name: "unknown storage backend", contents: "storage:\n  backend: cassandra\n", contains: "Backend"},
		{name: "postgres without dsn", contents: "storage:\n  backend: postgres\n", contains: "storage.postgres.dsn"},
		{name: "redis without address", contents: "cache:\n  backend: redis\n", contains: "cache.redis.address"},
		{name: "zero ttl", contents: "resolver:\n  ttl: 0s\n", contains: "TTL"},
		{name: "unsupported algorithm", contents: "verifier:\n  algorithm: RS256\n", contains: "Algorithm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadConfig(writeConfigFile(t, tt.contents))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestEnvTransformFunc(t *testing.T) {
	tests := map[string]string{
		"OPENGUARD_DATABASE_URL":             "storage.postgres.dsn",
		"OPENGUARD_JWT_SECRET":               "verifier.secret",
		"OPENGUARD_LOG__LEVEL":               "log.level",
		"OPENGUARD_CACHE__REDIS__ADDRESS":    "cache.redis.address",
		"OPENGUARD_RESOLVER__KEY_PREFIX":     "resolver.key_prefix",
		"OPENGUARD_SUPERUSER_ROLE":           "superuser_role",
		"OPENGUARD_SERVER__SHUTDOWN_TIMEOUT": "server.shutdown_timeout",
	}
	for in, want := range tests {
		assert.Equal(t, want, envTransformFunc(in), in)
	}
}

func TestClientConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.Cache.MemorySize = 64
	cfg.Verifier.Secret = "s"
	cfg.Resolver.DisableCoalescing = true

	clientConfig := cfg.clientConfig(logr.Discard())
	assert.Equal(t, openguard.StorageBackendMemory, clientConfig.Runtime.Storage.Backend)
	assert.Equal(t, openguard.CacheBackendMemory, clientConfig.Runtime.Cache.Backend)
	assert.Equal(t, 64, clientConfig.Runtime.Cache.Memory.Size)
	assert.Equal(t, "s", clientConfig.Runtime.Verifier.Secret)
	assert.True(t, clientConfig.Runtime.Resolver.DisableCoalescing)
	assert.Equal(t, authz.DefaultSuperuserRole, clientConfig.Runtime.SuperuserRole)
}

func TestPolicyRegistry(t *testing.T) {
	cfg := defaultConfig()
	cfg.Policies = map[string]authz.Requirement{
		policyIdentitiesRead: authz.AnyRole("auditor"),
		"reports":            authz.AllPermissions("reports.read"),
	}

	registry, err := cfg.policyRegistry()
	require.NoError(t, err)

	read, ok := registry.Policy(policyIdentitiesRead)
	require.True(t, ok)
	assert.Equal(t, []string{"auditor"}, read.Roles)

	evict, ok := registry.Policy(policyIdentitiesEvict)
	require.True(t, ok)
	assert.Equal(t, []string{"identities.evict"}, evict.Permissions)

	_, ok = registry.Policy("reports")
	assert.True(t, ok)
}
