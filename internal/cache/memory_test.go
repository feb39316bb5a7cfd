package cache

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemory_BasicOperations(t *testing.T) {
	m := NewMemory(1024)

	if err := m.Put("a", []byte("hello")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	got, ok := m.Get("a")
	if !ok || string(got) != "hello" {
		t.Fatalf("Get() = %q, %v", got, ok)
	}
	if err := m.Put("a", []byte("hi")); err != nil {
		t.Fatalf("Put() overwrite error = %v", err)
	}
	if s := m.Stats(); s.Size != 2 || s.Items != 1 {
		t.Errorf("after overwrite size=%d items=%d", s.Size, s.Items)
	}

	m.Delete("a")
	if m.Contains("a") {
		t.Error("entry survived Delete")
	}
	if _, ok := m.Get("a"); ok {
		t.Error("Get() hit after Delete")
	}

	s := m.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.HitRate() != 0.5 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemory_LRUEviction(t *testing.T) {
	m := NewMemory(100)
	for i := range 5 {
		if err := m.Put(fmt.Sprintf("key-%d", i), make([]byte, 20)); err != nil {
			t.Fatal(err)
		}
	}
	m.Get("key-0")
	m.Get("key-1")

	if err := m.Put("new", make([]byte, 30)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"key-0", true},
		{"key-1", true},
		{"key-2", false},
		{"key-3", false},
		{"key-4", true},
		{"new", true},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := m.Contains(tt.key); got != tt.want {
				t.Errorf("Contains(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
	if s := m.Stats(); s.Evictions != 2 || s.Size != 90 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestMemory_TooLarge(t *testing.T) {
	m := NewMemory(10)
	if err := m.Put("big", make([]byte, 11)); !errors.Is(err, ErrItemTooLarge) {
		t.Errorf("Put() error = %v, want ErrItemTooLarge", err)
	}
}

func TestMemory_PruneAndClear(t *testing.T) {
	m := NewMemory(100)
	_ = m.Put("a", []byte("x"))
	_ = m.Put("b", []byte("y"))

	if n := m.Prune(time.Hour); n != 0 {
		t.Errorf("Prune(1h) = %d, want 0", n)
	}
	time.Sleep(2 * time.Millisecond)
	if n := m.Prune(time.Millisecond); n != 2 {
		t.Errorf("Prune(1ms) = %d, want 2", n)
	}

	_ = m.Put("c", []byte("z"))
	m.Clear()
	if s := m.Stats(); s.Items != 0 || s.Size != 0 {
		t.Errorf("after Clear Stats() = %+v", s)
	}
}

func TestKey_String(t *testing.T) {
	base := Key{Engine: "piper", Voice: "amy", Lang: "en-US", Text: "Hello  world.", Rate: 1, Pitch: 1}

	reflowed := base
	reflowed.Text = "Hello\nworld."
	if base.String() != reflowed.String() {
		t.Error("whitespace changed the key")
	}
	upper := base
	upper.Lang = "EN-us"
	if base.String() != upper.String() {
		t.Error("language case changed the key")
	}

	tests := []struct {
		name   string
		mutate func(*Key)
	}{
		{"engine", func(k *Key) { k.Engine = "gtts" }},
		{"voice", func(k *Key) { k.Voice = "lessac" }},
		{"rate", func(k *Key) { k.Rate = 1.5 }},
		{"pitch", func(k *Key) { k.Pitch = 0.5 }},
		{"text", func(k *Key) { k.Text = "Goodbye." }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := base
			tt.mutate(&k)
			if k.String() == base.String() {
				t.Errorf("changing %s kept the key", tt.name)
			}
		})
	}
	if len(base.String()) != 32 {
		t.Errorf("key length = %d", len(base.String()))
	}
}
