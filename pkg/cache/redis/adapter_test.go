package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"

	"github.com/porthorian/openguard/pkg/cache"
)

func setupAdapterTest(t *testing.T, namespace string) (*Adapter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	adapter := NewAdapter(Config{
		Address:   mr.Addr(),
		Namespace: namespace,
	})

	t.Cleanup(func() {
		_ = adapter.Close()
		mr.Close()
	})

	return adapter, mr
}

func TestSetGetIdentity(t *testing.T) {
	ctx := context.Background()
	adapter, mr := setupAdapterTest(t, "openguard")

	if err := adapter.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	snapshot := cache.IdentitySnapshot{
		ID:          "u1",
		DisplayName: "Ada",
		Email:       "ada@example.com",
		Roles:       []string{"user"},
		Permissions: []string{"dashboard.view"},
		ResolvedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := adapter.SetIdentity(ctx, "user:u1", snapshot, time.Hour); err != nil {
		t.Fatalf("set identity: %v", err)
	}

	if !mr.Exists("openguard:user:u1") {
		t.Fatal("expected namespaced key to exist")
	}
	if ttl := mr.TTL("openguard:user:u1"); ttl != time.Hour {
		t.Fatalf("expected ttl 1h, got %v", ttl)
	}

	got, ok, err := adapter.GetIdentity(ctx, "user:u1")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Email != "ada@example.com" || got.Permissions[0] != "dashboard.view" || !got.ResolvedAt.Equal(snapshot.ResolvedAt) {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}

func TestGetIdentityMissAndExpiry(t *testing.T) {
	ctx := context.Background()
	adapter, mr := setupAdapterTest(t, "")

	if _, ok, err := adapter.GetIdentity(ctx, "user:missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := adapter.SetIdentity(ctx, "user:u1", cache.IdentitySnapshot{ID: "u1"}, time.Minute); err != nil {
		t.Fatalf("set identity: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, ok, err := adapter.GetIdentity(ctx, "user:u1"); ok || err != nil {
		t.Fatalf("expected expired miss, got ok=%v err=%v", ok, err)
	}
}

func TestGetIdentityCorruptEntry(t *testing.T) {
	ctx := context.Background()
	adapter, mr := setupAdapterTest(t, "")

	if err := mr.Set("user:u1", "{not json"); err != nil {
		t.Fatalf("seed corrupt entry: %v", err)
	}

	if _, ok, err := adapter.GetIdentity(ctx, "user:u1"); ok || err != nil {
		t.Fatalf("expected corrupt entry to read as miss, got ok=%v err=%v", ok, err)
	}
	if mr.Exists("user:u1") {
		t.Fatal("expected corrupt entry to be deleted")
	}
}

func TestDeleteIdentity(t *testing.T) {
	ctx := context.Background()
	adapter, mr := setupAdapterTest(t, "")

	if err := adapter.SetIdentity(ctx, "user:u1", cache.IdentitySnapshot{ID: "u1"}, time.Hour); err != nil {
		t.Fatalf("set identity: %v", err)
	}
	if err := adapter.DeleteIdentity(ctx, "user:u1"); err != nil {
		t.Fatalf("delete identity: %v", err)
	}
	if mr.Exists("user:u1") {
		t.Fatal("expected key to be deleted")
	}
}

func TestGetIdentityServerDown(t *testing.T) {
	ctx := context.Background()
	adapter, mr := setupAdapterTest(t, "")
	mr.Close()

	if _, _, err := adapter.GetIdentity(ctx, "user:u1"); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}

func TestNewAdapterWithClient(t *testing.T) {
	if _, err := NewAdapterWithClient(nil, ""); err != ErrNilClient {
		t.Fatalf("expected ErrNilClient, got %v", err)
	}

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	adapter, err := NewAdapterWithClient(client, "ns")
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	defer adapter.Close()

	if err := adapter.SetIdentity(context.Background(), "user:u2", cache.IdentitySnapshot{ID: "u2"}, time.Hour); err != nil {
		t.Fatalf("set identity: %v", err)
	}
	if !mr.Exists("ns:user:u2") {
		t.Fatal("expected namespaced key")
	}
}
