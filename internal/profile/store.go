package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/basketly/engage/internal/db"
)

// ErrNotFound means the contact has no stored profile yet.
var ErrNotFound = errors.New("profile not found")

// Store reads and writes shopper profiles keyed by contact.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a profile store.
func NewStore(log *slog.Logger, pool *pgxpool.Pool) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{pool: pool, logger: log.With(slog.String("store", "profile"))}
}

const getByContactQuery = `
SELECT city, country, country_code, language_code, dietary_restrictions,
       budget_level, household_size, store_preferences
FROM contact_profiles WHERE contact_id = $1`

// GetByContact fetches the profile stored for a contact. Name and Phone are
// not part of the stored profile; callers fill them from the contact record.
func (s *Store) GetByContact(ctx context.Context, contactID uuid.UUID) (Profile, error) {
	var (
		p                               Profile
		city, country, cc, lang, budget pgtype.Text
	)
	err := s.pool.QueryRow(ctx, getByContactQuery, contactID).Scan(
		&city, &country, &cc, &lang, &p.Dietary, &budget, &p.HouseholdSize, &p.Stores)
	if errors.Is(err, pgx.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}
	p.City = db.TextToString(city)
	p.Country = db.TextToString(country)
	p.CountryCode = db.TextToString(cc)
	p.Language = db.TextToString(lang)
	p.BudgetLevel = db.TextToString(budget)
	return p, nil
}

const saveQuery = `
INSERT INTO contact_profiles (contact_id, city, country, country_code, language_code,
                              dietary_restrictions, budget_level, household_size, store_preferences)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (contact_id) DO UPDATE SET
    city                 = EXCLUDED.city,
    country              = EXCLUDED.country,
    country_code         = EXCLUDED.country_code,
    language_code        = EXCLUDED.language_code,
    dietary_restrictions = EXCLUDED.dietary_restrictions,
    budget_level         = EXCLUDED.budget_level,
    household_size       = EXCLUDED.household_size,
    store_preferences    = EXCLUDED.store_preferences,
    updated_at           = now()`

// Save upserts the profile for a contact.
func (s *Store) Save(ctx context.Context, contactID uuid.UUID, p Profile) error {
	dietary := p.Dietary
	if dietary == nil {
		dietary = []string{}
	}
	stores := p.Stores
	if stores == nil {
		stores = []string{}
	}
	_, err := s.pool.Exec(ctx, saveQuery, contactID,
		db.ToPgText(p.City), db.ToPgText(p.Country), db.ToPgText(p.CountryCode),
		db.ToPgText(p.Language), dietary, db.ToPgText(p.BudgetLevel),
		p.HouseholdSize, stores)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
