package deploy

import (
	"context"
	"fmt"
	"sort"

	"github.com/BadgerOps/deployer/internal/filter"
	"github.com/BadgerOps/deployer/internal/inventory"
	"github.com/BadgerOps/deployer/internal/manifest"
	"github.com/BadgerOps/deployer/internal/safety"
)

// ChangeSet is what a run has to do to make the remote match the local tree.
type ChangeSet struct {
	// Updated maps each path to upload to its new hash.
	Updated map[string]string
	// Redundant lists remote paths to delete, sorted.
	Redundant []string
	// Unsafe lists manifest paths that would resolve outside the remote
	// root. They are never touched.
	Unsafe []string
}

// Empty reports whether there is nothing to upload or delete.
func (c ChangeSet) Empty() bool {
	return len(c.Updated) == 0 && len(c.Redundant) == 0
}

// UpdatedPaths returns the keys of Updated in lexicographic order.
func (c ChangeSet) UpdatedPaths() []string {
	paths := make([]string, 0, len(c.Updated))
	for p := range c.Updated {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Diff compares the local manifest with the remote one. A local path is
// updated when the remote has no entry for it or a different hash. A remote
// path is redundant when it is missing locally and not ignored. Only hashes
// are compared.
func Diff(local, remote manifest.Manifest, rules *filter.Rules) ChangeSet {
	cs := ChangeSet{Updated: map[string]string{}}

	for p, sum := range local {
		if rules.IsIgnored(p) {
			continue
		}
		if remoteSum, ok := remote[p]; !ok || remoteSum != sum {
			cs.Updated[p] = sum
		}
	}

	for p := range remote {
		if _, ok := local[p]; ok {
			continue
		}
		if rules.IsIgnored(p) {
			continue
		}
		if clean, err := safety.CleanRemotePath(p); err != nil || clean != p {
			cs.Unsafe = append(cs.Unsafe, p)
			continue
		}
		cs.Redundant = append(cs.Redundant, p)
	}
	sort.Strings(cs.Redundant)
	sort.Strings(cs.Unsafe)
	return cs
}

// LocalManifest scans inv and returns the hash of every file that is not
// ignored.
func LocalManifest(ctx context.Context, inv *inventory.Inventory, rules *filter.Rules) (manifest.Manifest, error) {
	files, err := inv.Files(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanning local files: %w", err)
	}
	m := make(manifest.Manifest, len(files))
	for _, f := range files {
		if rules.IsIgnored(f.Path) {
			continue
		}
		m[f.Path] = f.Hash
	}
	return m, nil
}
