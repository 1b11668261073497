package audience

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRedisResolverResolve(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	mr.HSet("audience:tenant-1:aud-1", "+919876543210", `{"name":"Asha"}`)
	mr.HSet("audience:tenant-1:aud-1", "+919876543211", `{"name":"Ravi"}`)
	mr.HSet("audience:tenant-1:aud-2", "+919876543210", `{"name":"Duplicate"}`)
	mr.HSet("audience:tenant-1:aud-2", "+919876543212", "")

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	resolver, err := NewRedisResolver(rdb)
	if err != nil {
		t.Fatalf("NewRedisResolver() error = %v", err)
	}

	recipients, err := resolver.Resolve(context.Background(), "tenant-1", []string{"aud-1", "aud-2"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if len(recipients) != 3 {
		t.Fatalf("len(recipients) = %d, want 3 (duplicates removed)", len(recipients))
	}

	byPhone := make(map[string]Recipient, len(recipients))
	for _, r := range recipients {
		byPhone[r.Phone] = r
	}

	if got := byPhone["+919876543210"].Vars["name"]; got != "Asha" {
		t.Fatalf("vars[name] = %q, want Asha (first segment wins)", got)
	}
	if _, ok := byPhone["+919876543212"]; !ok {
		t.Fatal("recipient with empty vars should still resolve")
	}
}

func TestRedisResolverEmptyAudience(t *testing.T) {
	t.Parallel()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	resolver, err := NewRedisResolver(rdb)
	if err != nil {
		t.Fatalf("NewRedisResolver() error = %v", err)
	}

	recipients, err := resolver.Resolve(context.Background(), "tenant-1", []string{"missing"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("len(recipients) = %d, want 0", len(recipients))
	}
}
