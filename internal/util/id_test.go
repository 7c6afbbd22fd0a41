package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a := NewID("ses")
	b := NewID("ses")
	if a == b {
		t.Fatal("ids must be unique")
	}
	if !strings.HasPrefix(a, "ses_") || len(a) != len("ses_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if bare := NewID(""); len(bare) != 32 || strings.Contains(bare, "_") {
		t.Fatalf("unexpected bare id %q", bare)
	}
}
