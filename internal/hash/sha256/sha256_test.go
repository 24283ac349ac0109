// Package sha256 includes tests for the SHA-256 hasher adapter.
package sha256

import "testing"

// TestHasherHashDeterministic ensures repeated hashing yields the same digest.
func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() error = %v", err)
	}
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	again, err := h.Hash([]byte("hello world"))
	if err != nil {
		t.Fatalf("Hash() repeat error = %v", err)
	}
	if again != got {
		t.Fatalf("expected deterministic hash, got %s vs %s", got, again)
	}
}

// TestContentHashSeparatesLocatorAndText pins the identity digest.
func TestContentHashSeparatesLocatorAndText(t *testing.T) {
	t.Parallel()

	got := ContentHash("https://example.org/a", "Hello world")
	want := "fe6f0246bc7e4312f581a0e2b70231fc7923b443d76ab510214d43b4dc7cdff8"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if ContentHash("https://example.org/aHello", " world") == got {
		t.Fatal("expected the separator to distinguish locator from text")
	}
}
