package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestOpenWriteFinalize(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	part, err := m.Open("file", "photo.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := part.WritePart([]byte("hello ")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	if err := part.WritePart([]byte("world")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	path, size, err := part.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if size != 11 {
		t.Fatalf("expected size 11, got %d", size)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("got %q", data)
	}
}

func TestCancelRemovesFile(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	part, err := m.Open("file", "doc.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := part.WritePart([]byte("partial")); err != nil {
		t.Fatalf("WritePart: %v", err)
	}
	path := part.Path
	if err := part.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected temp file to be removed after Cancel")
	}
}

func TestTempFileNameUsesUUIDAndOriginalExtension(t *testing.T) {
	m := New(Config{Dir: t.TempDir()})
	part, err := m.Open("file", "report.pdf")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer part.Cancel()
	if got := part.Path[len(part.Path)-4:]; got != ".pdf" {
		t.Fatalf("expected .pdf extension, got %q", got)
	}
	base := filepath.Base(part.Path)
	if _, err := uuid.Parse(strings.TrimSuffix(base, ".pdf")); err != nil {
		t.Fatalf("expected a UUID base name, got %q", base)
	}
}
