// Package contact persists the people messaging the business.
package contact

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

// ErrNotFound is returned when no contact matches the lookup.
var ErrNotFound = errors.New("contact not found")

// Contact is one person reachable at a normalized address.
type Contact struct {
	ID          uuid.UUID
	Address     string
	DisplayName string
	PushName    string
	IsActive    bool
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

// Store reads and writes contacts.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a contact store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log.With(slog.String("store", "contact"))}
}

const upsertQuery = `
INSERT INTO contacts (address, push_name, last_seen_at)
VALUES ($1, NULLIF($2, ''), now())
ON CONFLICT (address) DO UPDATE SET
    push_name    = COALESCE(NULLIF(EXCLUDED.push_name, ''), contacts.push_name),
    last_seen_at = now(),
    updated_at   = now()
RETURNING id, address, display_name, push_name, is_active, last_seen_at, created_at`

// GetOrCreateByAddress returns the contact at the given address, creating it
// on first sight. The push name refreshes on every call so renamed shoppers
// stay current.
func (s *Store) GetOrCreateByAddress(ctx context.Context, address, pushName string) (Contact, error) {
	row := s.pool.QueryRow(ctx, upsertQuery, address, pushName)
	c, err := scanContact(row)
	if err != nil {
		return Contact{}, fmt.Errorf("upsert contact: %w", err)
	}
	return c, nil
}

const getByIDQuery = `
SELECT id, address, display_name, push_name, is_active, last_seen_at, created_at
FROM contacts WHERE id = $1`

// GetByID fetches one contact.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, getByIDQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

const getByAddressQuery = `
SELECT id, address, display_name, push_name, is_active, last_seen_at, created_at
FROM contacts WHERE address = $1`

// GetByAddress fetches one contact by normalized address.
func (s *Store) GetByAddress(ctx context.Context, address string) (Contact, error) {
	c, err := scanContact(s.pool.QueryRow(ctx, getByAddressQuery, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, ErrNotFound
	}
	if err != nil {
		return Contact{}, fmt.Errorf("get contact by address: %w", err)
	}
	return c, nil
}

const setDisplayNameQuery = `
UPDATE contacts SET display_name = NULLIF($2, ''), updated_at = now() WHERE id = $1`

// SetDisplayName records the operator-facing name for a contact.
func (s *Store) SetDisplayName(ctx context.Context, id uuid.UUID, name string) error {
	if _, err := s.pool.Exec(ctx, setDisplayNameQuery, id, name); err != nil {
		return fmt.Errorf("set display name: %w", err)
	}
	return nil
}

func scanContact(row pgx.Row) (Contact, error) {
	var (
		c           Contact
		displayName pgtype.Text
		pushName    pgtype.Text
		lastSeen    pgtype.Timestamptz
	)
	if err := row.Scan(&c.ID, &c.Address, &displayName, &pushName, &c.IsActive, &lastSeen, &c.CreatedAt); err != nil {
		return Contact{}, err
	}
	c.DisplayName = db.TextToString(displayName)
	c.PushName = db.TextToString(pushName)
	if lastSeen.Valid {
		c.LastSeenAt = lastSeen.Time
	}
	return c, nil
}
