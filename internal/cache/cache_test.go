package cache

import (
	"context"
	"testing"
	"time"
)

func TestCache_SetGet(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Close()

	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	c.Set(ctx, "a", 42, time.Minute)

	got, ok := c.Get(ctx, "a")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestCache_Expiry(t *testing.T) {
	c := New[string, string](time.Minute)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", "v", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
	if c.Len() != 0 {
		t.Fatalf("expected lazy expiry to remove entry, len=%d", c.Len())
	}
}

func TestCache_Overwrite(t *testing.T) {
	c := New[string, int](time.Minute)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, "k", 1, time.Minute)
	c.Set(ctx, "k", 2, time.Minute)

	got, _ := c.Get(ctx, "k")
	if got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if c.Len() != 1 {
		t.Fatalf("len=%d, want 1", c.Len())
	}
}

func TestCache_Delete(t *testing.T) {
	c := New[int, int](time.Minute)
	defer c.Close()

	ctx := context.Background()
	c.Set(ctx, 1, 1, time.Minute)
	c.Delete(ctx, 1)

	if _, ok := c.Get(ctx, 1); ok {
		t.Fatal("expected miss after Delete")
	}
}
