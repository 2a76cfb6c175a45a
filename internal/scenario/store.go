package scenario

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var nowFunc = time.Now

const backupLayout = "20060102-150405"

// Load reads, parses and validates a catalog file.
func Load(path string) (*Catalog, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := Validate(c)
	if err != nil {
		return nil, warnings, err
	}
	return c, warnings, nil
}

// Save writes the catalog through a temp file and a rename so readers never
// observe a partial document.
func Save(path string, c *Catalog) error {
	data, err := c.Bytes()
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	return writeAtomic(path, data)
}

// Update applies fn to the catalog at path. The result must re-validate;
// the previous file is copied to a timestamped backup before it is replaced.
// It returns the backup path.
func Update(path string, fn func(c *Catalog) error) (string, error) {
	original, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(original)
	if err != nil {
		return "", err
	}
	if err := fn(c); err != nil {
		return "", err
	}

	data, err := c.Bytes()
	if err != nil {
		return "", fmt.Errorf("encode catalog: %w", err)
	}
	check, err := Parse(data)
	if err != nil {
		return "", err
	}
	if _, err := Validate(check); err != nil {
		return "", err
	}

	backup := backupPath(path)
	if err := os.WriteFile(backup, original, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return backup, err
	}
	return backup, nil
}

func backupPath(path string) string {
	base := fmt.Sprintf("%s.%s", path, nowFunc().UTC().Format(backupLayout))
	candidate := base + ".bak"
	for i := 1; ; i++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s-%d.bak", base, i)
	}
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp catalog: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp catalog: %w", err)
	}
	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode().Perm())
	} else {
		_ = os.Chmod(tmpName, 0o644)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace catalog: %w", err)
	}
	return nil
}

// Holder serves the current catalog to concurrent readers and swaps it when
// the file content changes on disk.
type Holder struct {
	path    string
	current atomic.Pointer[Catalog]

	mu  sync.Mutex
	sum [sha256.Size]byte
}

func NewHolder(path string) (*Holder, error) {
	h := &Holder{path: path}
	if _, err := h.Reload(); err != nil {
		return nil, err
	}
	return h, nil
}

// Catalog returns the catalog readers should use for this tick.
func (h *Holder) Catalog() *Catalog {
	return h.current.Load()
}

// Reload swaps in the file's catalog if its content changed since the last
// load. An invalid file leaves the previous catalog in place.
func (h *Holder) Reload() (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := os.ReadFile(h.path)
	if err != nil {
		return false, fmt.Errorf("read catalog: %w", err)
	}
	sum := sha256.Sum256(data)
	if h.current.Load() != nil && sum == h.sum {
		return false, nil
	}
	c, err := Parse(data)
	if err != nil {
		return false, err
	}
	if _, err := Validate(c); err != nil {
		return false, err
	}
	h.current.Store(c)
	h.sum = sum
	return true, nil
}
