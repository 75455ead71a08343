package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("post")
	if !strings.HasPrefix(id, "post_") || len(id) != len("post_")+32 {
		t.Fatalf("unexpected id %q", id)
	}
	if NewID("post") == id {
		t.Fatal("expected unique ids")
	}
	if strings.Contains(NewID(""), "_") {
		t.Fatal("expected bare id without prefix")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
