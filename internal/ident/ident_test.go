package ident

import "testing"

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("generated id not valid: %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id: %q", id)
		}
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	if IsValid("") {
		t.Fatalf("empty string accepted")
	}
	if IsValid("not-an-id") {
		t.Fatalf("garbage accepted")
	}
	if !IsValid("a987fbc9-4bed-3078-cf07-9141ba07c9f3") {
		t.Fatalf("well-formed id rejected")
	}
}
