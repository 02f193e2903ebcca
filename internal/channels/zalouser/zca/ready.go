package zca

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultReadyInterval is the auth status poll period.
const DefaultReadyInterval = 2 * time.Second

// WaitReady polls `auth status` until the profile reports a logged-in
// session. It returns ErrAborted when ctx is cancelled; the ticker is
// always released.
func WaitReady(ctx context.Context, r *Runner, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReadyInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		res, err := r.Run(ctx, Request{Args: []string{"auth", "status"}, Timeout: interval * 5})
		switch {
		case errors.Is(err, ErrAborted):
			return ErrAborted
		case err == nil && res.OK():
			slog.Info("zca: session ready", "profile", r.Profile, "attempts", attempt)
			return nil
		case err != nil:
			slog.Debug("zca: auth status failed", "attempt", attempt, "error", err)
		default:
			slog.Debug("zca: not logged in yet", "attempt", attempt, "exit", res.ExitCode)
		}

		select {
		case <-ctx.Done():
			return ErrAborted
		case <-ticker.C:
		}
	}
}
