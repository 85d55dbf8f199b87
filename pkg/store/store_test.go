package store

import (
	"path/filepath"
	"testing"
)

func TestLoadOnMissingFileStartsFresh(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.GetField("name"); ok {
		t.Fatal("expected fresh store to have no fields")
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	s.SetField("color", "red")
	v, ok := s.GetField("color")
	if !ok || v != "red" {
		t.Fatalf("got (%q, %v), want (%q, true)", v, ok, "red")
	}
}

func TestSetFieldPersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	s.SetField("color", "blue")

	reloaded, err := Load(dir, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	v, ok := reloaded.GetField("color")
	if !ok || v != "blue" {
		t.Fatalf("got (%q, %v), want (%q, true)", v, ok, "blue")
	}
}

func TestMergeAppliesRemoteSnapshot(t *testing.T) {
	dir := t.TempDir()
	local, err := Load(dir, "local")
	if err != nil {
		t.Fatal(err)
	}

	remoteDir := t.TempDir()
	remote, err := Load(remoteDir, "remote")
	if err != nil {
		t.Fatal(err)
	}
	remote.SetField("name", "dio")

	local.Merge(remote.Snapshot())
	v, ok := local.GetField("name")
	if !ok || v != "dio" {
		t.Fatalf("got (%q, %v), want (%q, true)", v, ok, "dio")
	}
}

func TestMergeWithCorruptSnapshotIsNoop(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir, "node-a")
	if err != nil {
		t.Fatal(err)
	}
	s.SetField("name", "jotaro")
	s.Merge([]byte("not a valid snapshot"))

	v, ok := s.GetField("name")
	if !ok || v != "jotaro" {
		t.Fatalf("expected corrupt merge to be a no-op, got (%q, %v)", v, ok)
	}
}

func TestLoadCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	if _, err := Load(dir, "node-a"); err != nil {
		t.Fatal(err)
	}
}
