package migrate

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// File is one migration discovered on disk. Name is the file name
// without the .sql extension; Timestamp is the leading digit prefix;
// Hash is the SHA-256 of the normalized content.
type File struct {
	Name      string
	Path      string
	SQL       string
	Timestamp int64
	Hash      string
}

// ErrInvalidName is returned for .sql files whose names lack the
// leading digit prefix.
var ErrInvalidName = errors.New("migration file name must start with a digit sequence")

// ErrDuplicate is returned when two files share a migration name.
var ErrDuplicate = errors.New("duplicate migration name")

var timestampPrefix = regexp.MustCompile(`^\d+`)

var bom = []byte{0xEF, 0xBB, 0xBF}

// normalizeSQL strips a UTF-8 BOM and converts CRLF line endings so
// that cosmetic differences do not change the hash.
func normalizeSQL(raw []byte) []byte {
	raw = bytes.TrimPrefix(raw, bom)
	return bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
}

// HashSQL computes the SHA-256 hash of normalized migration content.
func HashSQL(raw []byte) string {
	sum := sha256.Sum256(normalizeSQL(raw))
	return hex.EncodeToString(sum[:])
}

// LoadDir scans dir (non-recursive) for *.sql files sorted by file
// name. When optional is true a missing directory yields an empty
// list; otherwise it is an error.
func LoadDir(dir string, optional bool) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) && optional {
			return nil, nil
		}
		return nil, fmt.Errorf("reading migrations folder %q: %w", dir, err)
	}

	var files []File
	seen := make(map[string]string) // name -> path
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		if !strings.EqualFold(filepath.Ext(base), ".sql") {
			continue
		}
		name := base[:len(base)-len(filepath.Ext(base))]

		prefix := timestampPrefix.FindString(name)
		if prefix == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidName, base)
		}
		ts, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidName, base, err)
		}

		if prev, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: %q (also %q)", ErrDuplicate, base, prev)
		}
		path := filepath.Join(dir, base)
		seen[name] = path

		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading migration %q: %w", path, err)
		}

		files = append(files, File{
			Name:      name,
			Path:      path,
			SQL:       string(normalizeSQL(raw)),
			Timestamp: ts,
			Hash:      HashSQL(raw),
		})
	}

	// Files whose names sort lexicographically also sort chronologically.
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}
