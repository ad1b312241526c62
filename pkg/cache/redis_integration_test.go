package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "redis://localhost:6379/15"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := Connect(ctx, url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	client.Client.FlushDB(ctx)
	t.Cleanup(func() {
		client.Client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestClient_GetSet_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	if err := client.Set(ctx, "test-key", "test-value", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	val, err := client.Get(ctx, "test-key")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if val != "test-value" {
		t.Errorf("Get() = %q, want %q", val, "test-value")
	}
}

func TestClient_GetSet_JSON_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	type testStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	input := testStruct{Name: "test", Value: 42}
	if err := client.Set(ctx, "json-key", input, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var output testStruct
	found, err := client.GetJSON(ctx, "json-key", &output)
	if err != nil {
		t.Fatalf("GetJSON() error = %v", err)
	}
	if !found {
		t.Fatal("GetJSON() found = false, want true")
	}
	if output != input {
		t.Errorf("GetJSON() = %+v, want %+v", output, input)
	}
}

func TestClient_TTL_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	if err := client.Set(ctx, "ttl-test", "value", 10*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	ttl, err := client.TTL(ctx, "ttl-test")
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl < 9*time.Second || ttl > 10*time.Second {
		t.Errorf("TTL() = %v, want ~10s", ttl)
	}
}

func TestClient_Delete_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	keys := []string{"key1", "key2", "key3"}
	for _, k := range keys {
		if err := client.Set(ctx, k, "value", time.Minute); err != nil {
			t.Fatalf("Set(%s) error = %v", k, err)
		}
	}

	n, err := client.Delete(ctx, keys...)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Delete() = %d, want 3", n)
	}

	for _, k := range keys {
		exists, _ := client.Exists(ctx, k)
		if exists {
			t.Errorf("key %s should be gone", k)
		}
	}
}

func TestClient_WithKeyPrefix_Integration(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	client = client.WithKeyPrefix("draftmill")

	if err := client.Set(ctx, "key", "value", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// The raw key must carry the prefix on the server.
	directVal, _ := client.Client.Get(ctx, "draftmill:key").Result()
	if directVal != "value" {
		t.Errorf("prefixed key = %q, want %q", directVal, "value")
	}
}
