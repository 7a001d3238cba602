package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStorePutGetRoundTrip(t *testing.T) {
	root := t.TempDir()
	store, err := NewFileStore(root, "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	ctx := context.Background()
	ref, err := store.Put(ctx, "jobs/abc.png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ref != "jobs/abc.png" {
		t.Fatalf("reference = %q", ref)
	}
	got, err := store.Get(ctx, ref)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "png-bytes" {
		t.Fatalf("Get = %q", got)
	}
	if url := store.PublicURL(ref); url != "/media/jobs/abc.png" {
		t.Fatalf("PublicURL = %q", url)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	store, _ := NewFileStore(root, "https://cdn.example.com/media/")
	if _, err := store.Put(context.Background(), "a.png", []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.png" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected directory contents: %v", names)
	}
	if url := store.PublicURL("a.png"); url != "https://cdn.example.com/media/a.png" {
		t.Fatalf("PublicURL = %q", url)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	for _, key := range []string{"", "../escape.png", "a/../../escape.png", ".."} {
		_, err := store.Put(context.Background(), key, []byte("x"))
		var we *WriteError
		if !errors.As(err, &we) {
			t.Fatalf("Put(%q) = %v, want *WriteError", key, err)
		}
	}
}

func TestFileStoreWriteFailureIsWriteError(t *testing.T) {
	root := t.TempDir()
	store, _ := NewFileStore(root, "")
	// A regular file where a directory is needed makes MkdirAll fail.
	if err := os.WriteFile(filepath.Join(root, "blocked"), []byte("file"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := store.Put(context.Background(), "blocked/abc.png", []byte("x"))
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriteError, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "blocked", "abc.png")); statErr == nil {
		t.Fatalf("artifact must not exist after failed write")
	}
}

func TestFileStoreGetMissing(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	if _, err := store.Get(context.Background(), "nope.png"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	ctx := context.Background()
	ref, _ := store.Put(ctx, "gone.png", []byte("x"))
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, ref); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("second Delete should be a no-op, got %v", err)
	}
}

func TestArtifactKey(t *testing.T) {
	tests := []struct {
		id, mime, want string
	}{
		{"job-1", "image/png", "job-1.png"},
		{"job-2", "image/jpeg", "job-2.jpg"},
		{"job-3", "video/mp4", "job-3.mp4"},
		{"job-4", "IMAGE/WEBP; charset=binary", "job-4.webp"},
		{"job-5", "", "job-5.bin"},
	}
	for _, tt := range tests {
		if got := ArtifactKey(tt.id, tt.mime); got != tt.want {
			t.Fatalf("ArtifactKey(%q, %q) = %q, want %q", tt.id, tt.mime, got, tt.want)
		}
		if strings.Contains(ArtifactKey(tt.id, tt.mime), "/") {
			t.Fatalf("artifact key must be flat")
		}
	}
}
