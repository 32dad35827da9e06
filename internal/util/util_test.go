package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestRingBufferOverwritesOldest(t *testing.T) {
	r := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	if got := r.Snapshot(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Fatalf("snapshot = %v, want [3 4 5]", got)
	}
	if got := r.Tail(2); !reflect.DeepEqual(got, []int{4, 5}) {
		t.Fatalf("tail(2) = %v, want [4 5]", got)
	}
	if got := r.Tail(10); len(got) != 3 {
		t.Fatalf("tail(10) len = %d, want 3", len(got))
	}
	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("len after reset = %d", r.Len())
	}
}

func TestValidatePeerID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"customer-001", "customer-001", false},
		{"  agent-1 ", "agent-1", false},
		{"", "", true},
		{"a b", "", true},
		{"../x", "", true},
		{"a?b", "", true},
	}
	for _, tc := range tests {
		got, err := ValidatePeerID(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ValidatePeerID(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ValidatePeerID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolvePathAndWriteJSON(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "abs.json")
	if got := ResolvePath("/ignored", abs); got != abs {
		t.Fatalf("ResolvePath absolute = %q", got)
	}

	path := ResolvePath(dir, "nested/cfg.json")
	if err := WriteJSONFile(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]int
	if err := json.Unmarshal(b, &m); err != nil || m["a"] != 1 {
		t.Fatalf("round trip = %v, %v", m, err)
	}
}
