package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Interaction is one recorded assistant exchange, kept for analytics.
type Interaction struct {
	ConversationID uuid.UUID
	AssistantID    string
	Query          string
	Reply          string
	Latency        time.Duration
	Fallback       bool
}

// InteractionStore appends assistant exchanges to the interaction log.
type InteractionStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewInteractionStore creates an interaction store.
func NewInteractionStore(log *slog.Logger, pool *pgxpool.Pool) *InteractionStore {
	if log == nil {
		log = slog.Default()
	}
	return &InteractionStore{pool: pool, logger: log.With(slog.String("store", "interaction"))}
}

const recordQuery = `
INSERT INTO assistant_interactions (conversation_id, assistant_id, query, reply, latency_ms, fallback)
VALUES ($1, $2, $3, $4, $5, $6)`

// Record appends one exchange.
func (s *InteractionStore) Record(ctx context.Context, in Interaction) error {
	_, err := s.pool.Exec(ctx, recordQuery,
		in.ConversationID, in.AssistantID, in.Query, in.Reply, in.Latency.Milliseconds(), in.Fallback)
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	return nil
}

// Stats summarizes recent assistant activity.
type Stats struct {
	Total        int
	Fallbacks    int
	AvgLatencyMS int
}

const statsQuery = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE fallback),
       COALESCE(AVG(latency_ms), 0)::int
FROM assistant_interactions
WHERE created_at > now() - $1::interval`

// RecentStats aggregates interactions over the trailing window.
func (s *InteractionStore) RecentStats(ctx context.Context, window time.Duration) (Stats, error) {
	var out Stats
	interval := fmt.Sprintf("%d seconds", int(window.Seconds()))
	err := s.pool.QueryRow(ctx, statsQuery, interval).
		Scan(&out.Total, &out.Fallbacks, &out.AvgLatencyMS)
	if err != nil {
		return Stats{}, fmt.Errorf("interaction stats: %w", err)
	}
	return out, nil
}
