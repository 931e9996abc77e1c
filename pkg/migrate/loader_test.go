package migrate

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDirSortsByName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0002_add_users.sql", "CREATE TABLE users (id int);")
	writeFile(t, dir, "0001_init.sql", "SELECT 1;")
	writeFile(t, dir, "0010_later.sql", "SELECT 2;")
	writeFile(t, dir, "notes.txt", "not a migration")

	files, err := LoadDir(dir, false)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	want := []string{"0001_init", "0002_add_users", "0010_later"}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d", len(files), len(want))
	}
	for i, f := range files {
		if f.Name != want[i] {
			t.Errorf("files[%d].Name = %q, want %q", i, f.Name, want[i])
		}
	}
	if files[0].Timestamp != 1 || files[2].Timestamp != 10 {
		t.Errorf("timestamps = %d, %d; want 1, 10", files[0].Timestamp, files[2].Timestamp)
	}
}

func TestLoadDirUppercaseExtension(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_init.SQL", "SELECT 1;")

	files, err := LoadDir(dir, false)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(files) != 1 || files[0].Name != "0001_init" {
		t.Errorf("files = %+v, want one 0001_init", files)
	}
}

func TestLoadDirRejectsMissingTimestampPrefix(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "init.sql", "SELECT 1;")

	_, err := LoadDir(dir, false)
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("err = %v, want ErrInvalidName", err)
	}
}

func TestLoadDirRejectsDuplicateNames(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0001_init.sql", "SELECT 1;")
	writeFile(t, dir, "0001_init.SQL", "SELECT 2;")

	_, err := LoadDir(dir, false)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestLoadDirMissingFolder(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")

	if _, err := LoadDir(missing, false); err == nil {
		t.Error("required folder: expected error")
	}
	files, err := LoadDir(missing, true)
	if err != nil {
		t.Errorf("optional folder: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("optional folder: got %d files, want 0", len(files))
	}
}

func TestHashNormalization(t *testing.T) {
	base := HashSQL([]byte("SELECT 1;\nSELECT 2;\n"))

	tests := []struct {
		name string
		raw  string
	}{
		{"crlf", "SELECT 1;\r\nSELECT 2;\r\n"},
		{"bom", "\xEF\xBB\xBFSELECT 1;\nSELECT 2;\n"},
		{"bom and crlf", "\xEF\xBB\xBFSELECT 1;\r\nSELECT 2;\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashSQL([]byte(tt.raw)); got != base {
				t.Errorf("hash differs from normalized base")
			}
		})
	}

	if HashSQL([]byte("SELECT 3;\n")) == base {
		t.Error("different content must hash differently")
	}
}
