// Package changelog appends a record of each deployment to a text log kept
// on the remote side.
package changelog

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BadgerOps/deployer/internal/safety"
	"github.com/BadgerOps/deployer/internal/transport"
)

// DefaultPath is the log location relative to the remote root.
const DefaultPath = "deployer.log"

// TimeLayout formats the block header. Times are always UTC.
const TimeLayout = "02/Jan/2006 15:04"

// maxSize caps how much of an existing log is read back before appending.
const maxSize = 256 << 20

// Entry is one deployment's changes.
type Entry struct {
	Time    time.Time
	Updated []string
	Removed []string
}

// Empty reports whether the entry lists no changes.
func (e Entry) Empty() bool {
	return len(e.Updated) == 0 && len(e.Removed) == 0
}

// Format renders e as a log block ending in a newline. Sections without
// paths are left out.
func (e Entry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s UTC]\n", e.Time.UTC().Format(TimeLayout))
	writeSection(&b, "Updated Files:", e.Updated)
	writeSection(&b, "Removed Files:", e.Removed)
	return b.String()
}

func writeSection(b *strings.Builder, title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	b.WriteString("\t" + title + "\n")
	for _, p := range sorted {
		b.WriteString("\t\t" + p + "\n")
	}
}

// Append downloads the log at path, adds e to the end and uploads the result
// through a temporary name. A missing log starts empty.
func Append(ctx context.Context, t transport.Transport, path string, e Entry, progress transport.ProgressSink) error {
	var buf bytes.Buffer
	err := t.Download(ctx, path, safety.NewLimitWriter(&buf, maxSize), nil)
	switch transport.Classify(err) {
	case transport.OutcomeNotFound:
		buf.Reset()
	case transport.OutcomeFailure:
		return fmt.Errorf("reading change log %s: %w", path, err)
	}

	if buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
		buf.WriteByte('\n')
	}
	buf.WriteString(e.Format())

	data := buf.Bytes()
	if err := transport.SafeUpload(ctx, t, bytes.NewReader(data), int64(len(data)), path, progress); err != nil {
		return fmt.Errorf("writing change log %s: %w", path, err)
	}
	return nil
}
