package cache

import (
	"errors"
	"fmt"
	"os"
	"path"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/cominavi/internal/syncerr"
)

// Exists reports whether name is present on fs.
func Exists(fs billy.Filesystem, name string) (bool, error) {
	_, err := fs.Stat(name)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("%w: stat %s: %w", syncerr.ErrIO, name, err)
}

// WriteAtomic writes data to a temp file next to name and renames it into
// place, so readers never observe a partially written file.
func WriteAtomic(fs billy.Filesystem, name string, data []byte) error {
	dir := path.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir %s: %w", syncerr.ErrIO, dir, err)
	}
	tmp, err := fs.TempFile(dir, "."+path.Base(name)+".")
	if err != nil {
		return fmt.Errorf("%w: temp file in %s: %w", syncerr.ErrIO, dir, err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("%w: write %s: %w", syncerr.ErrIO, name, werr)
	}
	if err := fs.Rename(tmpName, name); err != nil {
		_ = fs.Remove(tmpName)
		return fmt.Errorf("%w: rename %s: %w", syncerr.ErrIO, name, err)
	}
	return nil
}
