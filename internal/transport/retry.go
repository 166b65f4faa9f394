package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// RetryOnce runs attempt, and when it fails with a disconnect-class error
// reconnects and runs it exactly once more. A second failure of any kind is
// returned as is. Errors other than disconnects are never retried.
func RetryOnce(ctx context.Context, logger *slog.Logger, op, path string, reconnect func(context.Context) error, attempt func(ctx context.Context, n int) error) error {
	if logger == nil {
		logger = slog.Default()
	}

	err := attempt(ctx, 1)
	if err == nil || !IsDisconnect(err) {
		return err
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s %s cancelled: %w", op, path, ctx.Err())
	}

	logger.Warn("connection lost, reconnecting", "op", op, "path", path, "error", err)
	if rerr := reconnect(ctx); rerr != nil {
		return &Error{Op: op, Path: path, Kind: KindConnection, Err: fmt.Errorf("reconnect after %v: %w", err, rerr)}
	}

	if err := attempt(ctx, 2); err != nil {
		logger.Error("retry failed", "op", op, "path", path, "error", err)
		return err
	}
	logger.Info("retry succeeded", "op", op, "path", path)
	return nil
}

// Rewind seeks src back to its start before a retried upload.
func Rewind(src io.Seeker) error {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding upload source: %w", err)
	}
	return nil
}
