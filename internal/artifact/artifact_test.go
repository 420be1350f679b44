package artifact

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteAtomicAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docker-compose.yml")

	if err := WriteAtomic(path, "services:\n"); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "services:\n" {
		t.Errorf("Read = %q", got)
	}

	// no temp file left behind
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temporary file was not cleaned up")
	}
}

func TestWriteAtomicReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frr.conf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := WriteAtomic(path, "new"); err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	got, _ := Read(path)
	if got != "new" {
		t.Errorf("contents = %q, want %q", got, "new")
	}
}

func TestWriteAtomicBytesCreatesDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frr", "r1", "frr.conf")
	if err := WriteAtomicBytes(path, []byte("hostname r1\n")); err != nil {
		t.Fatalf("WriteAtomicBytes: %v", err)
	}
	if !Exists(path) {
		t.Error("artifact missing after write")
	}
}

func TestExists(t *testing.T) {
	if Exists(filepath.Join(t.TempDir(), "missing.yml")) {
		t.Error("Exists returned true for missing file")
	}
}
