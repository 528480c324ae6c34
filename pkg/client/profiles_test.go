package client

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestProfileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.yaml")
	ps := NewProfileStore(path)
	if err := ps.Load(); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if len(ps.Profiles) != 0 {
		t.Fatalf("Load missing file: got %v", ps.Profiles)
	}

	if !ps.Add(Profile{Name: "home", URL: "ws://localhost:18080/ws", Username: "alice", PublicKey: "k"}) {
		t.Fatalf("Add: want new entry")
	}
	if ps.Add(Profile{Name: "home", URL: "ws://relay:18080/ws", Username: "alice", PublicKey: "k"}) {
		t.Fatalf("Add same name: want update")
	}
	ps.Add(Profile{Name: "work", URL: "ws://work/ws", Username: "a.smith"})
	if !ps.Touch("work", 42) {
		t.Fatalf("Touch: profile not found")
	}
	if err := ps.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := NewProfileStore(path)
	if err := loaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []Profile{
		{Name: "home", URL: "ws://relay:18080/ws", Username: "alice", PublicKey: "k"},
		{Name: "work", URL: "ws://work/ws", Username: "a.smith", LastUsed: 42},
	}
	if diff := cmp.Diff(want, loaded.Profiles); diff != "" {
		t.Errorf("profiles mismatch (-want +got):\n%s", diff)
	}

	if !loaded.Remove("home") || loaded.Remove("home") {
		t.Fatalf("Remove: want true then false")
	}
	if _, ok := loaded.Get("work"); !ok {
		t.Fatalf("Get(work): not found")
	}
}
