package auth

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func TestNewRedisCache_InvalidURL(t *testing.T) {
	if _, err := NewRedisCache("http://not-redis", time.Minute, zerolog.Nop()); err == nil {
		t.Error("expected error for non redis URL")
	}
}

func TestRedisCache_UnavailableIsAMiss(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCacheWithClient(client, time.Minute, zerolog.Nop())
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", &Identity{UserID: "u-1"})
	if id, ok := c.Get(ctx, "k"); ok || id != nil {
		t.Errorf("unreachable cache should miss, got %v", id)
	}
	if err := c.Ping(ctx); err == nil {
		t.Error("Ping should report the unreachable server")
	}
}

func TestAuthenticator_SurvivesCacheOutage(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	cache := NewRedisCacheWithClient(client, time.Minute, zerolog.Nop())
	defer cache.Close()

	gw := &stubProvider{id: &Identity{UserID: "u-1"}}
	a := NewAuthenticator(nil, cache, gw, nil)
	id, err := a.Authenticate(context.Background(), Credentials{Cookie: "s=1"})
	if err != nil || id.UserID != "u-1" {
		t.Fatalf("Authenticate = %v, %v", id, err)
	}
}
