package safety

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestCleanRemotePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"index.html", "index.html", false},
		{"css/./style.css", "css/style.css", false},
		{"a/b/../c", "a/c", false},
		{"dir:with:colons/x", "dir:with:colons/x", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../escape", "", true},
		{"a/../../escape", "", true},
		{".", "", true},
		{`a\b`, "", true},
	}
	for _, tt := range tests {
		got, err := CleanRemotePath(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CleanRemotePath(%q) = %q, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("CleanRemotePath(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CleanRemotePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSafeJoinUnder(t *testing.T) {
	root := t.TempDir()

	okPath, err := SafeJoinUnder(root, "a/b/c.txt")
	if err != nil {
		t.Fatalf("SafeJoinUnder returned error: %v", err)
	}
	if !strings.HasPrefix(okPath, root) {
		t.Fatalf("path %q is not under root %q", okPath, root)
	}

	if _, err := SafeJoinUnder(root, "../escape.txt"); err == nil {
		t.Fatal("expected traversal path to fail")
	}
	if _, err := SafeJoinUnder(root, "/abs/path.txt"); err == nil {
		t.Fatal("expected absolute path to fail")
	}
}

func TestEnsureUnderRoot(t *testing.T) {
	root := t.TempDir()
	if _, err := EnsureUnderRoot(root, root+"/child/file.txt"); err != nil {
		t.Fatalf("EnsureUnderRoot failed for child path: %v", err)
	}
	if _, err := EnsureUnderRoot(root, root+"/../escape"); err == nil {
		t.Fatal("expected escape path to fail")
	}
}

func TestLimitWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewLimitWriter(&buf, 4)
	if _, err := w.Write([]byte("abc")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := w.Write([]byte("de")); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if buf.String() != "abc" {
		t.Fatalf("unexpected data: %q", buf.String())
	}

	unlimited := NewLimitWriter(&buf, 0)
	if _, err := unlimited.Write(bytes.Repeat([]byte("x"), 1024)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"ftp.example.com", "ftp.example.com", 21, false},
		{"ftp.example.com:2121", "ftp.example.com", 2121, false},
		{"[::1]:22", "::1", 22, false},
		{"10.0.0.5", "10.0.0.5", 21, false},
		{"", "", 0, true},
		{"ftp://example.com", "", 0, true},
		{"user@example.com", "", 0, true},
		{"example.com:99999", "", 0, true},
	}
	for _, tt := range tests {
		host, port, err := SplitHostPort(tt.in, 21)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SplitHostPort(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("SplitHostPort(%q) error: %v", tt.in, err)
			continue
		}
		if host != tt.wantHost || port != tt.wantPort {
			t.Errorf("SplitHostPort(%q) = %s:%d, want %s:%d", tt.in, host, port, tt.wantHost, tt.wantPort)
		}
	}
}
