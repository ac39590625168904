// Package conversation persists one thread of messages per contact together
// with its assistant binding and unread bookkeeping.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/basketly/engage/internal/db"
)

// ErrNotFound is returned when no conversation matches the lookup.
var ErrNotFound = errors.New("conversation not found")

// Conversation is one contact's message thread.
type Conversation struct {
	ID            uuid.UUID
	ContactID     uuid.UUID
	ExternalID    string
	AssistantID   string
	ThreadID      string
	AIEnabled     bool
	Status        string
	TotalMessages int
	UnreadCount   int
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Store reads and writes conversations.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log.With(slog.String("store", "conversation"))}
}

const conversationColumns = `
id, contact_id, external_id, assistant_id, thread_id, ai_enabled, status,
total_messages, unread_count, last_message_at, created_at`

const getOrCreateQuery = `
INSERT INTO conversations (contact_id, external_id, ai_enabled)
VALUES ($1, NULLIF($2, ''), true)
ON CONFLICT (contact_id) DO UPDATE SET
    external_id = COALESCE(conversations.external_id, EXCLUDED.external_id),
    updated_at  = now()
RETURNING ` + conversationColumns

// GetOrCreateByContact returns the contact's conversation, creating it on
// first message. One conversation per contact.
func (s *Store) GetOrCreateByContact(ctx context.Context, contactID uuid.UUID, externalID string) (Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, getOrCreateQuery, contactID, externalID))
	if err != nil {
		return Conversation{}, fmt.Errorf("upsert conversation: %w", err)
	}
	return c, nil
}

const getByIDQuery = `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`

// GetByID fetches one conversation.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Conversation, error) {
	c, err := scanConversation(s.pool.QueryRow(ctx, getByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// AssistantID returns the bound assistant id, or empty when unbound.
func (s *Store) AssistantID(ctx context.Context, id uuid.UUID) (string, error) {
	var bound pgtype.Text
	err := s.pool.QueryRow(ctx, `SELECT assistant_id FROM conversations WHERE id = $1`, id).Scan(&bound)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read assistant binding: %w", err)
	}
	return db.TextToString(bound), nil
}

const bindQuery = `
UPDATE conversations SET assistant_id = $2, updated_at = now()
WHERE id = $1 AND assistant_id IS NULL`

// Bind writes the assistant binding unless one already exists, then returns
// the canonical binding. Losing the write race is not an error.
func (s *Store) Bind(ctx context.Context, id uuid.UUID, assistantID string) (string, error) {
	if _, err := s.pool.Exec(ctx, bindQuery, id, assistantID); err != nil {
		return "", fmt.Errorf("bind assistant: %w", err)
	}
	canonical, err := s.AssistantID(ctx, id)
	if err != nil {
		return "", err
	}
	if canonical == "" {
		return "", fmt.Errorf("bind assistant: conversation %s vanished", id)
	}
	return canonical, nil
}

const setThreadQuery = `
UPDATE conversations SET thread_id = $2, updated_at = now()
WHERE id = $1 AND (thread_id IS NULL OR thread_id = '')`

// SetThread records the runtime thread the conversation runs on. The first
// writer wins so one conversation keeps one thread.
func (s *Store) SetThread(ctx context.Context, id uuid.UUID, threadID string) error {
	if _, err := s.pool.Exec(ctx, setThreadQuery, id, threadID); err != nil {
		return fmt.Errorf("set thread: %w", err)
	}
	return nil
}

// ApplyInbound bumps the message and unread counters after an inbound
// message lands. The counters are read then written without a row lock:
// under a concurrent bump one increment may be absorbed, which the dashboard
// tolerates since the resync pass corrects drift.
func (s *Store) ApplyInbound(ctx context.Context, id uuid.UUID) error {
	return s.bumpCounters(ctx, id, true)
}

// ApplyOutbound bumps the message counter after a reply is sent. Outbound
// traffic never adds unread.
func (s *Store) ApplyOutbound(ctx context.Context, id uuid.UUID) error {
	return s.bumpCounters(ctx, id, false)
}

func (s *Store) bumpCounters(ctx context.Context, id uuid.UUID, unread bool) error {
	var total, unreadCount int
	err := s.pool.QueryRow(ctx,
		`SELECT total_messages, unread_count FROM conversations WHERE id = $1`, id).
		Scan(&total, &unreadCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read counters: %w", err)
	}
	total++
	if unread {
		unreadCount++
	}
	_, err = s.pool.Exec(ctx, `
UPDATE conversations SET
    total_messages  = $2,
    unread_count    = $3,
    last_message_at = now(),
    updated_at      = now()
WHERE id = $1`, id, total, unreadCount)
	if err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	return nil
}

// MarkRead clears the unread counter for one conversation.
func (s *Store) MarkRead(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkAllRead clears every unread counter.
func (s *Store) MarkAllRead(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE conversations SET unread_count = 0, updated_at = now() WHERE unread_count > 0`)
	if err != nil {
		return fmt.Errorf("mark all read: %w", err)
	}
	return nil
}

// UnreadTotal sums unread counters across all conversations.
func (s *Store) UnreadTotal(ctx context.Context) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(unread_count), 0) FROM conversations`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("unread total: %w", err)
	}
	return total, nil
}

const listUnreadQuery = `SELECT ` + conversationColumns + `
FROM conversations WHERE unread_count > 0 ORDER BY last_message_at DESC NULLS LAST`

// ListUnread returns conversations with pending unread messages, newest
// activity first.
func (s *Store) ListUnread(ctx context.Context) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, listUnreadQuery)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

const listQuery = `SELECT ` + conversationColumns + `
FROM conversations ORDER BY last_message_at DESC NULLS LAST LIMIT $1 OFFSET $2`

// List pages through conversations for the dashboard, newest activity first.
func (s *Store) List(ctx context.Context, limit, offset int) ([]Conversation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, listQuery, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

func collectConversations(rows pgx.Rows) ([]Conversation, error) {
	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c           Conversation
		externalID  pgtype.Text
		assistantID pgtype.Text
		threadID    pgtype.Text
		lastMessage pgtype.Timestamptz
	)
	err := row.Scan(&c.ID, &c.ContactID, &externalID, &assistantID, &threadID,
		&c.AIEnabled, &c.Status, &c.TotalMessages, &c.UnreadCount, &lastMessage, &c.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	c.ExternalID = db.TextToString(externalID)
	c.AssistantID = db.TextToString(assistantID)
	c.ThreadID = db.TextToString(threadID)
	if lastMessage.Valid {
		c.LastMessageAt = lastMessage.Time
	}
	return c, nil
}
