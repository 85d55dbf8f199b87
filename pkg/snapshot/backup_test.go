package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/criticalstack/swimkv/pkg/snapshot/crypto"
)

type fakeDocStore struct {
	data []byte
}

func (f *fakeDocStore) Snapshot() []byte { return f.data }

func TestBackupOnceWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.snapshot")

	store := &fakeDocStore{data: []byte("hello")}
	u, err := ParseSnapshotBackupURL("file://" + path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBackup(store, u, 0, false, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Once(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}
	restored, err := b.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != "hello" {
		t.Fatalf("restored %q", restored)
	}
}

func TestBackupOnceCompresses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.snapshot.gz")

	store := &fakeDocStore{data: []byte("hello world hello world hello world")}
	u, err := ParseSnapshotBackupURL("file://" + path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewBackup(store, u, 0, true, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Once(); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) < 2 || got[0] != 0x1f || got[1] != 0x8b {
		t.Fatalf("expected gzip magic header, got %v", got[:2])
	}
	restored, err := b.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(store.data) {
		t.Fatalf("restored %q, want %q", restored, store.data)
	}
}

func TestBackupOnceEncryptsAndRestores(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.snapshot.enc")

	store := &fakeDocStore{data: []byte("hello encrypted world")}
	u, err := ParseSnapshotBackupURL("file://" + path)
	if err != nil {
		t.Fatal(err)
	}
	key := crypto.NewEncryptionKey()
	b, err := NewBackup(store, u, 0, true, nil, key)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Once(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(got, store.data) {
		t.Fatal("expected ciphertext on disk, found plaintext")
	}

	restored, err := b.Restore()
	if err != nil {
		t.Fatal(err)
	}
	if string(restored) != string(store.data) {
		t.Fatalf("restored %q, want %q", restored, store.data)
	}

	wrongKey := crypto.NewEncryptionKey()
	bad, err := NewBackup(store, u, 0, true, nil, wrongKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bad.Restore(); !errors.Is(err, crypto.ErrMessageAuthFailed) {
		t.Fatalf("expected ErrMessageAuthFailed for a wrong key, got %v", err)
	}
}
