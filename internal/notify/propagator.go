// Package notify keeps dashboard clients' unread state current. All unread
// state is owned by a single goroutine: every mutation and read goes through
// its command channel, so no lock protects the snapshot and no subscriber
// ever observes a half-applied update.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/basketly/engage/internal/conversation"
)

const (
	// DefaultDebounce batches invalidation bursts into one refresh.
	DefaultDebounce = 300 * time.Millisecond
	// DefaultResync bounds staleness when a change notification is lost.
	DefaultResync = 30 * time.Second
)

// Snapshot is the unread state pushed to subscribers.
type Snapshot struct {
	Total         int                         `json:"total"`
	Conversations []conversation.Conversation `json:"-"`
	UpdatedAt     time.Time                   `json:"updated_at"`
}

// Source reads unread state from storage.
type Source interface {
	UnreadTotal(ctx context.Context) (int, error)
	ListUnread(ctx context.Context) ([]conversation.Conversation, error)
}

// ReadMarker clears unread state in storage.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID uuid.UUID) error
	MarkAllRead(ctx context.Context) error
}

// Subscription is one dashboard client's feed. C carries the latest
// snapshot; a slow reader only ever misses intermediate states, never the
// newest one.
type Subscription struct {
	C  chan Snapshot
	id uint64
}

// Propagator owns unread state and fans it out to subscribers.
type Propagator struct {
	source   Source
	marker   ReadMarker
	debounce time.Duration
	resync   time.Duration
	cmds     chan func(context.Context, *state)
	cron     *cron.Cron
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger
}

type state struct {
	snapshot Snapshot
	subs     map[uint64]*Subscription
	nextSub  uint64
	dirty    bool
}

// New creates a propagator. Zero durations take the defaults.
func New(log *slog.Logger, source Source, marker ReadMarker, debounce, resync time.Duration) *Propagator {
	if log == nil {
		log = slog.Default()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if resync <= 0 {
		resync = DefaultResync
	}
	return &Propagator{
		source:   source,
		marker:   marker,
		debounce: debounce,
		resync:   resync,
		cmds:     make(chan func(context.Context, *state), 64),
		done:     make(chan struct{}),
		logger:   log.With(slog.String("component", "notify")),
	}
}

// Start launches the owner goroutine and the fallback resync timer.
func (p *Propagator) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	p.cron = cron.New()
	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.resync), p.Invalidate); err != nil {
		cancel()
		return fmt.Errorf("schedule resync: %w", err)
	}
	p.cron.Start()

	go p.run(runCtx)
	p.Invalidate()
	return nil
}

// Stop halts the owner goroutine and the resync timer.
func (p *Propagator) Stop(ctx context.Context) error {
	if p.cron != nil {
		p.cron.Stop()
	}
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Invalidate signals that stored unread state may have changed. Bursts are
// debounced into one refresh.
func (p *Propagator) Invalidate() {
	p.send(func(_ context.Context, s *state) { s.dirty = true })
}

// Subscribe registers a dashboard client. The current snapshot arrives on
// the channel immediately. After shutdown the returned channel is closed.
func (p *Propagator) Subscribe() *Subscription {
	sub := &Subscription{C: make(chan Snapshot, 1)}
	if !p.call(func(_ context.Context, s *state) {
		s.nextSub++
		sub.id = s.nextSub
		s.subs[sub.id] = sub
		push(sub, s.snapshot)
	}) {
		close(sub.C)
	}
	return sub
}

// Unsubscribe removes a client and closes its channel.
func (p *Propagator) Unsubscribe(sub *Subscription) {
	p.send(func(_ context.Context, s *state) {
		if _, ok := s.subs[sub.id]; ok {
			delete(s.subs, sub.id)
			close(sub.C)
		}
	})
}

// Current returns the latest snapshot, or a zero one after shutdown.
func (p *Propagator) Current() Snapshot {
	var snap Snapshot
	p.call(func(_ context.Context, s *state) { snap = s.snapshot })
	return snap
}

// MarkRead clears one conversation's unread count in storage, then
// recomputes and broadcasts before returning. The cache is never patched
// directly: storage stays the single source of truth.
func (p *Propagator) MarkRead(ctx context.Context, conversationID uuid.UUID) error {
	if err := p.marker.MarkRead(ctx, conversationID); err != nil {
		return err
	}
	p.Recompute()
	return nil
}

// MarkAllRead clears every unread count in storage, then recomputes and
// broadcasts before returning. The zero total holds until new inbound
// traffic arrives.
func (p *Propagator) MarkAllRead(ctx context.Context) error {
	if err := p.marker.MarkAllRead(ctx); err != nil {
		return err
	}
	p.Recompute()
	return nil
}

// Recompute reloads unread state immediately, bypassing the debounce, and
// waits for the broadcast to complete.
func (p *Propagator) Recompute() {
	p.call(func(ctx context.Context, s *state) {
		s.dirty = false
		p.refresh(ctx, s)
	})
}

func (p *Propagator) send(cmd func(context.Context, *state)) {
	select {
	case p.cmds <- cmd:
	case <-p.done:
	}
}

// call runs cmd in the owner goroutine and waits for it. It reports false
// when the propagator has already stopped.
func (p *Propagator) call(cmd func(context.Context, *state)) bool {
	reply := make(chan struct{})
	select {
	case p.cmds <- func(ctx context.Context, s *state) {
		cmd(ctx, s)
		close(reply)
	}:
	case <-p.done:
		return false
	}
	select {
	case <-reply:
		return true
	case <-p.done:
		return false
	}
}

func (p *Propagator) run(ctx context.Context) {
	defer close(p.done)

	s := &state{subs: map[uint64]*Subscription{}}
	debounce := time.NewTimer(p.debounce)
	debounce.Stop()
	armed := false

	for {
		select {
		case <-ctx.Done():
			for _, sub := range s.subs {
				close(sub.C)
			}
			return
		case cmd := <-p.cmds:
			wasDirty := s.dirty
			cmd(ctx, s)
			if s.dirty && !wasDirty {
				if armed && !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(p.debounce)
				armed = true
			}
		case <-debounce.C:
			armed = false
			if !s.dirty {
				continue
			}
			s.dirty = false
			p.refresh(ctx, s)
		}
	}
}

// refresh reloads unread state from storage and broadcasts it. On failure
// the previous snapshot stands until the next invalidation or resync tick.
func (p *Propagator) refresh(ctx context.Context, s *state) {
	loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	total, err := p.source.UnreadTotal(loadCtx)
	if err != nil {
		p.logger.Warn("unread refresh failed", slog.Any("error", err))
		return
	}
	unread, err := p.source.ListUnread(loadCtx)
	if err != nil {
		p.logger.Warn("unread listing failed", slog.Any("error", err))
		return
	}

	s.snapshot = Snapshot{Total: total, Conversations: unread, UpdatedAt: time.Now()}
	broadcast(s)
}

func broadcast(s *state) {
	for _, sub := range s.subs {
		push(sub, s.snapshot)
	}
}

// push delivers latest-wins: a full buffer is drained so the newest
// snapshot always lands.
func push(sub *Subscription, snap Snapshot) {
	for {
		select {
		case sub.C <- snap:
			return
		default:
			select {
			case <-sub.C:
			default:
			}
		}
	}
}
