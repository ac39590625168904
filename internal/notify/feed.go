package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Channel is the Postgres notification channel the database triggers fire
// on for message and conversation changes.
const Channel = "engage_changes"

// Feed listens for database change notifications and invalidates the
// propagator. Lost notifications are tolerated: the resync timer bounds how
// stale the snapshot can get.
type Feed struct {
	pool       *pgxpool.Pool
	propagator *Propagator
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
}

// NewFeed creates a change feed.
func NewFeed(log *slog.Logger, pool *pgxpool.Pool, propagator *Propagator) *Feed {
	if log == nil {
		log = slog.Default()
	}
	return &Feed{
		pool:       pool,
		propagator: propagator,
		done:       make(chan struct{}),
		logger:     log.With(slog.String("component", "notify_feed")),
	}
}

// Start launches the listener goroutine.
func (f *Feed) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f.cancel = cancel
	go f.run(runCtx)
	return nil
}

// Stop halts the listener.
func (f *Feed) Stop(ctx context.Context) error {
	if f.cancel != nil {
		f.cancel()
	}
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	for {
		if err := f.listen(ctx); err != nil && ctx.Err() == nil {
			f.logger.Warn("change feed dropped, reconnecting", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(2 * time.Second):
		}
	}
}

// listen holds one dedicated connection on the notification channel until
// it breaks or the context ends.
func (f *Feed) listen(ctx context.Context) error {
	conn, err := f.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	f.logger.Info("change feed connected", slog.String("channel", Channel))

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.logger.Debug("change notification",
			slog.String("payload", notification.Payload))
		f.propagator.Invalidate()
	}
}
