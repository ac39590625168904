// Package profile models the shopper profile that personalizes an assistant.
package profile

import "strings"

// Profile is what we know about a shopper when their assistant is
// provisioned. Fields may be empty; Configurable fills sensible defaults so
// the runtime never sees a hole.
type Profile struct {
	Name          string
	Phone         string
	City          string
	Country       string
	CountryCode   string
	Language      string
	Dietary       []string
	BudgetLevel   string
	HouseholdSize int
	Stores        []string
}

const (
	defaultStore       = "Albert Heijn"
	defaultBudgetLevel = "medium"
)

// storeWebsites maps known store names to their sites. Unknown stores get a
// guessed .nl domain, matching how shoppers name local chains.
var storeWebsites = map[string]string{
	"Albert Heijn": "ah.nl",
	"Jumbo":        "jumbo.com",
	"Lidl":         "lidl.nl",
	"Dirk":         "dirk.nl",
	"Aldi":         "aldi.nl",
}

// Configurable derives the runtime configuration block for this profile.
// Keys follow the runtime's configurable schema.
func (p Profile) Configurable() map[string]any {
	dietary := "none"
	if len(p.Dietary) > 0 {
		dietary = strings.Join(p.Dietary, ", ")
	}
	budget := p.BudgetLevel
	if budget == "" {
		budget = defaultBudgetLevel
	}
	household := p.HouseholdSize
	if household <= 0 {
		household = 1
	}
	store := defaultStore
	if len(p.Stores) > 0 {
		store = p.Stores[0]
	}
	return map[string]any{
		"user_id":              p.Phone,
		"country_code":         p.CountryCode,
		"language_code":        p.Language,
		"dietary_restrictions": dietary,
		"budget_level":         budget,
		"household_size":       household,
		"store_preference":     store,
		"store_websites":       p.Websites(),
	}
}

// Websites renders the comma separated site list for the profile's stores.
func (p Profile) Websites() string {
	stores := p.Stores
	if len(stores) == 0 {
		stores = []string{defaultStore}
	}
	sites := make([]string, 0, len(stores))
	for _, s := range stores {
		if site, ok := storeWebsites[s]; ok {
			sites = append(sites, site)
			continue
		}
		sites = append(sites, strings.ToLower(strings.ReplaceAll(s, " ", ""))+".nl")
	}
	return strings.Join(sites, ", ")
}

// DisplayName returns the shopper's name or a fallback derived from the
// phone number.
func (p Profile) DisplayName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.Phone
}
