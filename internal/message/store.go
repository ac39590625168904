// Package message persists individual messages and their delivery status.
package message

import (
	"context"
	"encoding/json"
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

// Direction of a message relative to the business.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Who authored a message.
const (
	SenderCustomer  = "customer"
	SenderAssistant = "ai_assistant"
	SenderAdmin     = "admin"
)

// Delivery status values, ordered by progression.
const (
	StatusError     = "error"
	StatusPending   = "pending"
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
	StatusPlayed    = "played"
)

// ErrNotFound is returned when no message matches the lookup.
var ErrNotFound = errors.New("message not found")

// Message is one stored message.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	ExternalID     string
	Content        string
	Direction      string
	SenderType     string
	Status         string
	Metadata       json.RawMessage
	CreatedAt      time.Time
}

// Store reads and writes messages.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a message store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log.With(slog.String("store", "message"))}
}

const insertQuery = `
INSERT INTO messages (conversation_id, external_id, content, direction, sender_type, status, metadata)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, COALESCE($7, '{}'::jsonb))
ON CONFLICT (external_id) DO NOTHING
RETURNING id`

// Insert stores one message. Re-delivery of an already stored external id is
// a no-op and reports inserted = false.
func (s *Store) Insert(ctx context.Context, m Message) (uuid.UUID, bool, error) {
	if m.Status == "" {
		m.Status = StatusSent
	}
	var metadata any
	if len(m.Metadata) > 0 {
		metadata = m.Metadata
	}
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, insertQuery,
		m.ConversationID, m.ExternalID, m.Content, m.Direction, m.SenderType, m.Status, metadata).
		Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("insert message: %w", err)
	}
	return id, true, nil
}

const updateStatusQuery = `
UPDATE messages SET status = $2 WHERE external_id = $1`

// UpdateStatusByExternalID moves a message to a new delivery status. Unknown
// external ids are reported as ErrNotFound so callers can decide whether the
// update arrived before the message.
func (s *Store) UpdateStatusByExternalID(ctx context.Context, externalID, status string) error {
	tag, err := s.pool.Exec(ctx, updateStatusQuery, externalID, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const listQuery = `
SELECT id, conversation_id, external_id, content, direction, sender_type, status, metadata, created_at
FROM messages WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`

// ListByConversation returns the newest messages in a conversation.
func (s *Store) ListByConversation(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, listQuery, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m          Message
			externalID pgtype.Text
		)
		err := rows.Scan(&m.ID, &m.ConversationID, &externalID, &m.Content,
			&m.Direction, &m.SenderType, &m.Status, &m.Metadata, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ExternalID = db.TextToString(externalID)
		out = append(out, m)
	}
	return out, rows.Err()
}
