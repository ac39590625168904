package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/basketly/engage/internal/profile"
)

// ProfilesHandler manages the shopper profile attached to a contact. The
// profile personalizes assistant provisioning and every AI run.
type ProfilesHandler struct {
	profiles *profile.Store
	logger   *slog.Logger
}

// NewProfilesHandler creates a profiles handler.
func NewProfilesHandler(log *slog.Logger, profiles *profile.Store) *ProfilesHandler {
	if log == nil {
		log = slog.Default()
	}
	return &ProfilesHandler{
		profiles: profiles,
		logger:   log.With(slog.String("handler", "profiles")),
	}
}

func (h *ProfilesHandler) Register(e *echo.Echo) {
	e.GET("/api/contacts/:id/profile", h.Get)
	e.PUT("/api/contacts/:id/profile", h.Put)
}

type profileRequest struct {
	City          string   `json:"city"`
	Country       string   `json:"country"`
	CountryCode   string   `json:"country_code" validate:"omitempty,len=2"`
	LanguageCode  string   `json:"language_code" validate:"omitempty,min=2,max=5"`
	Dietary       []string `json:"dietary_restrictions"`
	BudgetLevel   string   `json:"budget_level" validate:"omitempty,oneof=low medium high"`
	HouseholdSize int      `json:"household_size" validate:"gte=0,lte=20"`
	Stores        []string `json:"store_preferences"`
}

type profileView struct {
	City          string   `json:"city,omitempty"`
	Country       string   `json:"country,omitempty"`
	CountryCode   string   `json:"country_code,omitempty"`
	LanguageCode  string   `json:"language_code,omitempty"`
	Dietary       []string `json:"dietary_restrictions,omitempty"`
	BudgetLevel   string   `json:"budget_level,omitempty"`
	HouseholdSize int      `json:"household_size,omitempty"`
	Stores        []string `json:"store_preferences,omitempty"`
}

// Get returns the stored profile for a contact.
func (h *ProfilesHandler) Get(c echo.Context) error {
	contactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
	}
	p, err := h.profiles.GetByContact(c.Request().Context(), contactID)
	if errors.Is(err, profile.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "no profile"})
	}
	if err != nil {
		h.logger.Error("profile read failed", slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "profile read failed"})
	}
	return c.JSON(http.StatusOK, profileView{
		City:          p.City,
		Country:       p.Country,
		CountryCode:   p.CountryCode,
		LanguageCode:  p.Language,
		Dietary:       p.Dietary,
		BudgetLevel:   p.BudgetLevel,
		HouseholdSize: p.HouseholdSize,
		Stores:        p.Stores,
	})
}

// Put replaces the stored profile for a contact.
func (h *ProfilesHandler) Put(c echo.Context) error {
	contactID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
	}
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}
	if err := c.Validate(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	p := profile.Profile{
		City:          req.City,
		Country:       req.Country,
		CountryCode:   req.CountryCode,
		Language:      req.LanguageCode,
		Dietary:       req.Dietary,
		BudgetLevel:   req.BudgetLevel,
		HouseholdSize: req.HouseholdSize,
		Stores:        req.Stores,
	}
	if err := h.profiles.Save(c.Request().Context(), contactID, p); err != nil {
		h.logger.Error("profile save failed",
			slog.String("contact_id", contactID.String()),
			slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "profile save failed"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}
