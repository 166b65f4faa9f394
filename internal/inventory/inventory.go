// Package inventory scans the local source tree and hashes every file in it.
package inventory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/BadgerOps/deployer/internal/safety"
)

// FileRecord is one regular file of the local tree.
type FileRecord struct {
	Path string // relative to the scan root, slash-separated
	Hash string // hex SHA-1 of the full content
	Size int64
	Mode fs.FileMode
}

// Inventory is the set of files below a local root. The scan runs at most
// once per Inventory.
type Inventory struct {
	fs     afero.Fs
	root   string
	logger *slog.Logger

	files   []FileRecord
	index   map[string]int
	skipped int
	scanned bool
}

// New returns an inventory of root on fsys. A nil fsys means the host
// filesystem.
func New(fsys afero.Fs, root string, logger *slog.Logger) *Inventory {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{
		fs:     fsys,
		root:   filepath.Clean(root),
		logger: logger,
	}
}

// Root returns the scanned directory.
func (inv *Inventory) Root() string {
	return inv.root
}

// Walk visits every regular file depth-first in lexical order, hashing each
// one before calling fn. Files that cannot be read are logged and skipped.
// Directories are traversed but never passed to fn.
func (inv *Inventory) Walk(ctx context.Context, fn func(FileRecord) error) error {
	if fi, err := inv.fs.Stat(inv.root); err != nil {
		return fmt.Errorf("source directory: %w", err)
	} else if !fi.IsDir() {
		return fmt.Errorf("source %s is not a directory", inv.root)
	}
	return afero.Walk(inv.fs, inv.root, func(p string, info os.FileInfo, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			inv.logger.Warn("skipping unreadable path", "path", p, "error", err)
			inv.skipped++
			if info != nil && info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if !info.Mode().IsRegular() && info.Mode()&fs.ModeSymlink == 0 {
			inv.logger.Debug("skipping special file", "path", p, "mode", info.Mode())
			return nil
		}

		rel, err := filepath.Rel(inv.root, p)
		if err != nil {
			return fmt.Errorf("relativizing %s: %w", p, err)
		}
		rec, err := inv.record(p, filepath.ToSlash(rel))
		if err != nil {
			inv.logger.Warn("skipping file", "path", rel, "error", err)
			inv.skipped++
			return nil
		}
		return fn(rec)
	})
}

func (inv *Inventory) record(full, rel string) (FileRecord, error) {
	f, err := inv.fs.Open(full)
	if err != nil {
		return FileRecord{}, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return FileRecord{}, err
	}
	if fi.IsDir() {
		return FileRecord{}, fmt.Errorf("symlink to directory is not followed")
	}
	sum, n, err := Hash(f)
	if err != nil {
		return FileRecord{}, err
	}
	return FileRecord{Path: rel, Hash: sum, Size: n, Mode: fi.Mode()}, nil
}

// Files scans the tree on first use and returns every record sorted by
// path. Later calls return the same records.
func (inv *Inventory) Files(ctx context.Context) ([]FileRecord, error) {
	if inv.scanned {
		return inv.files, nil
	}
	var files []FileRecord
	if err := inv.Walk(ctx, func(rec FileRecord) error {
		files = append(files, rec)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", inv.root, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	inv.files = files
	inv.index = make(map[string]int, len(files))
	for i, rec := range files {
		inv.index[rec.Path] = i
	}
	inv.scanned = true
	inv.logger.Debug("scanned local tree", "root", inv.root, "files", len(files), "skipped", inv.skipped)
	return files, nil
}

// Lookup returns the record for a relative path from the completed scan.
func (inv *Inventory) Lookup(rel string) (FileRecord, bool) {
	i, ok := inv.index[rel]
	if !ok {
		return FileRecord{}, false
	}
	return inv.files[i], true
}

// Skipped returns how many paths the scan could not read.
func (inv *Inventory) Skipped() int {
	return inv.skipped
}

// Open opens a file of the tree for upload.
func (inv *Inventory) Open(rel string) (afero.File, error) {
	full, err := safety.SafeJoinUnder(inv.root, rel)
	if err != nil {
		return nil, err
	}
	return inv.fs.Open(full)
}

// Hash returns the hex SHA-1 of everything read from r and the byte count.
func Hash(r io.Reader) (string, int64, error) {
	h := sha1.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
