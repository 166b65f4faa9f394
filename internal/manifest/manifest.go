// Package manifest reads and writes the remote object list that records the
// content hash of every deployed file.
package manifest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/BadgerOps/deployer/internal/safety"
	"github.com/BadgerOps/deployer/internal/transport"
)

// DefaultPath is the manifest location relative to the remote root.
const DefaultPath = ".objects"

// MaxSize caps how much of a remote manifest is read.
const MaxSize = 64 << 20

// Manifest maps a relative, slash-separated path to its hex content hash.
type Manifest map[string]string

// Parse reads "<path>: <hash>" lines. The path ends at the last ": " on the
// line and is taken verbatim, so paths may contain colons and surrounding
// spaces. Lines without a separator, or with an empty path or hash, are
// skipped.
func Parse(r io.Reader) (Manifest, error) {
	m := Manifest{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		i := strings.LastIndex(line, ": ")
		if i < 0 {
			continue
		}
		name := line[:i]
		sum := strings.TrimSpace(line[i+2:])
		if name == "" || sum == "" {
			continue
		}
		m[name] = sum
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// Paths returns the manifest's paths in lexicographic order.
func (m Manifest) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Bytes renders the manifest sorted by path, one entry per line.
func (m Manifest) Bytes() []byte {
	var buf bytes.Buffer
	for i, p := range m.Paths() {
		if i > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(p)
		buf.WriteString(": ")
		buf.WriteString(m[p])
	}
	return buf.Bytes()
}

// WriteTo writes the rendered manifest to w.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Bytes())
	return int64(n), err
}

// Load downloads and parses the manifest at p. A missing manifest is an
// empty one.
func Load(ctx context.Context, t transport.Transport, p string, progress transport.ProgressSink) (Manifest, error) {
	var buf bytes.Buffer
	err := t.Download(ctx, p, safety.NewLimitWriter(&buf, MaxSize), progress)
	switch transport.Classify(err) {
	case transport.OutcomeNotFound:
		transport.OrNop(progress).Finish()
		return Manifest{}, nil
	case transport.OutcomeFailure:
		return nil, fmt.Errorf("downloading manifest %s: %w", p, err)
	}
	return Parse(&buf)
}

// Store uploads m to p through a temporary name so a partial manifest is
// never visible.
func Store(ctx context.Context, t transport.Transport, p string, m Manifest, progress transport.ProgressSink) error {
	data := m.Bytes()
	if err := transport.SafeUpload(ctx, t, bytes.NewReader(data), int64(len(data)), p, progress); err != nil {
		return fmt.Errorf("uploading manifest %s: %w", p, err)
	}
	return nil
}
