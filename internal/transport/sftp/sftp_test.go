package sftp

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BadgerOps/deployer/internal/transport"
)

// memServer serves one in-memory filesystem to every session dialled
// during a test.
type memServer struct {
	handlers sftp.Handlers
	dials    int
}

func (m *memServer) dial(ctx context.Context, cfg Config, logger *slog.Logger) (*session, error) {
	m.dials++
	clientSide, serverSide := net.Pipe()
	srv := sftp.NewRequestServer(serverSide, m.handlers)
	go func() { _ = srv.Serve() }()

	client, err := sftp.NewClientPipe(clientSide, clientSide)
	if err != nil {
		srv.Close()
		return nil, err
	}
	return &session{
		client: client,
		close: func() error {
			err := client.Close()
			srv.Close()
			return err
		},
	}, nil
}

func newTestTransport(t *testing.T) (*Transport, *memServer) {
	t.Helper()
	srv := &memServer{handlers: sftp.InMemHandler()}
	tr := New(Config{Host: "sftp.example.com", Username: "deploy", Root: "/www"}, nil)
	tr.dial = srv.dial
	require.NoError(t, tr.Connect(context.Background()))
	t.Cleanup(func() { _ = tr.Close() })
	return tr, srv
}

func download(t *testing.T, tr *Transport, p string) ([]byte, error) {
	t.Helper()
	var buf bytes.Buffer
	err := tr.Download(context.Background(), p, &buf, nil)
	return buf.Bytes(), err
}

func TestUploadRenameDownload(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	data := []byte("body { margin: 0 }")
	require.NoError(t, tr.Upload(ctx, bytes.NewReader(data), int64(len(data)), "css/style.css.new", nil))
	require.NoError(t, tr.Rename(ctx, "css/style.css.new", "css/style.css"))

	got, err := download(t, tr, "css/style.css")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	ok, err := tr.Exists(ctx, "css/style.css.new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRenameReplacesExistingTarget(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	old, next := []byte("old"), []byte("new")
	require.NoError(t, tr.Upload(ctx, bytes.NewReader(old), 3, "index.html", nil))
	require.NoError(t, tr.Upload(ctx, bytes.NewReader(next), 3, "index.html.new", nil))
	require.NoError(t, tr.Rename(ctx, "index.html.new", "index.html"))

	got, err := download(t, tr, "index.html")
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestNotFound(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	err := tr.Remove(ctx, "missing.txt")
	assert.Equal(t, transport.OutcomeNotFound, transport.Classify(err))

	_, err = download(t, tr, ".objects")
	assert.True(t, errors.Is(err, transport.ErrNotFound))
}

func TestChangeDirCreates(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	err := tr.ChangeDir(ctx, "a/b", false)
	assert.Equal(t, transport.OutcomeNotFound, transport.Classify(err))

	require.NoError(t, tr.ChangeDir(ctx, "a/b", true))
	require.NoError(t, tr.ChangeDir(ctx, "a/b", false))
	require.NoError(t, tr.MakeDir(ctx, "a/b"))
}

func TestSetPermissions(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx := context.Background()

	require.NoError(t, tr.Upload(ctx, bytes.NewReader([]byte("#!/bin/sh")), 9, "run.sh.new", nil))
	assert.NoError(t, tr.SetPermissions(ctx, "run.sh.new", 0o755))
}

func TestUploadReconnectsAfterLostSession(t *testing.T) {
	tr, srv := newTestTransport(t)
	ctx := context.Background()

	// Simulate the server dropping the connection.
	_ = tr.sess.client.Close()

	data := []byte("<h1>hi</h1>")
	require.NoError(t, tr.Upload(ctx, bytes.NewReader(data), int64(len(data)), "index.html.new", nil))
	assert.Equal(t, 2, srv.dials)

	got, err := download(t, tr, "index.html.new")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, transport.KindDisconnect, transport.KindOf(classify("upload", "a", sftp.ErrSSHFxConnectionLost)))
	assert.Equal(t, transport.KindPermission, transport.KindOf(classify("upload", "a", &os.PathError{Op: "open", Path: "a", Err: os.ErrPermission})))
	assert.Equal(t, transport.KindNotFound, transport.KindOf(classify("stat", "a", os.ErrNotExist)))
}

func TestRenameWithoutPosixExtension(t *testing.T) {
	var logs bytes.Buffer
	srv := &memServer{handlers: sftp.InMemHandler()}
	tr := New(Config{Host: "sftp.example.com", Root: "/www"}, slog.New(slog.NewTextHandler(&logs, nil)))
	tr.dial = srv.dial
	tr.posixRename = func(*sftp.Client) bool { return false }
	ctx := context.Background()
	require.NoError(t, tr.Connect(ctx))
	t.Cleanup(func() { _ = tr.Close() })

	require.NoError(t, tr.Upload(ctx, bytes.NewReader([]byte("fresh")), 5, "new.txt.new", nil))
	require.NoError(t, tr.Rename(ctx, "new.txt.new", "new.txt"))
	assert.NotContains(t, logs.String(), "non-atomically", "no target to replace")

	require.NoError(t, tr.Upload(ctx, bytes.NewReader([]byte("old")), 3, "index.html", nil))
	require.NoError(t, tr.Upload(ctx, bytes.NewReader([]byte("new")), 3, "index.html.new", nil))
	require.NoError(t, tr.Rename(ctx, "index.html.new", "index.html"))

	got, err := download(t, tr, "index.html")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
	assert.Contains(t, logs.String(), "non-atomically")
}
