package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGet(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	ctx := context.Background()

	key := Key("gpt-4", "hello world")
	if _, ok := m.Get(ctx, key); ok {
		t.Fatal("Get before Set should miss")
	}

	m.Set(ctx, key, 2)
	got, ok := m.Get(ctx, key)
	if !ok {
		t.Fatal("Get after Set should hit")
	}
	if got != 2 {
		t.Errorf("Get = %d, want 2", got)
	}
}

func TestMemory_Purge(t *testing.T) {
	t.Parallel()
	m, err := NewMemory(100, time.Minute)
	if err != nil {
		t.Fatalf("NewMemory() error = %v", err)
	}
	ctx := context.Background()

	m.Set(ctx, Key("gpt-4", "a"), 1)
	m.Purge(ctx)

	if _, ok := m.Get(ctx, Key("gpt-4", "a")); ok {
		t.Error("Get after Purge should miss")
	}
}

func TestKey_DistinguishesModelAndText(t *testing.T) {
	t.Parallel()

	if Key("gpt-4", "text") == Key("gpt-3.5-turbo", "text") {
		t.Error("same text under different models must not collide")
	}
	if Key("gpt-4", "a") == Key("gpt-4", "b") {
		t.Error("different texts must not collide")
	}
	// The separator byte keeps (model, text) splits unambiguous.
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("shifted model/text boundary must not collide")
	}
	if Key("gpt-4", "text") != Key("gpt-4", "text") {
		t.Error("Key must be deterministic")
	}
}
