package fileid

import (
	"strings"
	"testing"
)

func TestSourceID(t *testing.T) {
	id1 := SourceID("/drop/a.json", 0)
	if id1 != SourceID("/drop/a.json", 0) {
		t.Error("same path and index should give the same id")
	}
	if !strings.HasPrefix(id1, prefix) {
		t.Errorf("id should have prefix %q: got %q", prefix, id1)
	}
	if id1 == SourceID("/drop/a.json", 1) {
		t.Error("different index should give a different id")
	}
	if id1 == SourceID("/drop/b.json", 0) {
		t.Error("different path should give a different id")
	}
}

func TestSourceID_Normalized(t *testing.T) {
	tests := []string{"/drop/a.json", "/drop/./a.json", "/drop//a.json", "/drop/x/../a.json"}
	want := SourceID(tests[0], 3)
	for _, p := range tests[1:] {
		if got := SourceID(p, 3); got != want {
			t.Errorf("SourceID(%q) = %q, want %q", p, got, want)
		}
	}
}
