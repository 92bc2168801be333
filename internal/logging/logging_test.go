package logging

import "testing"

func TestNew(t *testing.T) {
	if _, err := New("debug", "console"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New("info", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := New("loud", "json"); err == nil {
		t.Fatal("expected error for bad level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected error for bad format")
	}
	if Must("loud", "xml") == nil {
		t.Fatal("Must should always return a logger")
	}
}
