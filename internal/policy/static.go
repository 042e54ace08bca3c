package policy

import (
	"sort"

	"gatekeeper/internal/models"
)

// Well-known endpoints carried by the built-in table.
const (
	EndpointLogin    = "/api/v1/auth/login"
	EndpointRegister = "/api/v1/auth/register"
	EndpointImages   = "/api/v1/images"
)

// Limit is one cell of a static table.
type Limit struct {
	Requests    int
	Window      int // seconds
	Description string
}

// Table maps endpoint to tier to limit. Every endpoint must carry every
// recognised tier and the table must contain models.DefaultEndpoint.
type Table map[string]map[string]Limit

// StaticTable returns the built-in limits used when no dynamic rule source
// is reachable.
func StaticTable() Table {
	return Table{
		EndpointLogin: {
			models.TierAnonymous: {5, 300, "Login attempts for unauthenticated users"},
			models.TierStandard:  {10, 300, "Login attempts for standard users"},
			models.TierPremium:   {20, 300, "Login attempts for premium users"},
		},
		EndpointRegister: {
			models.TierAnonymous: {3, 3600, "Registration attempts per hour"},
			models.TierStandard:  {5, 3600, "Registration attempts per hour"},
			models.TierPremium:   {10, 3600, "Registration attempts per hour"},
		},
		EndpointImages: {
			models.TierAnonymous: {10, 3600, "Image uploads per hour for anonymous users"},
			models.TierStandard:  {100, 3600, "Image uploads per hour for standard users"},
			models.TierPremium:   {1000, 3600, "Image uploads per hour for premium users"},
		},
		models.DefaultEndpoint: {
			models.TierAnonymous: {100, 3600, "Default API calls per hour for anonymous users"},
			models.TierStandard:  {1000, 3600, "Default API calls per hour for standard users"},
			models.TierPremium:   {10000, 3600, "Default API calls per hour for premium users"},
		},
	}
}

// Endpoints lists the table's endpoints other than the default, sorted.
func (t Table) Endpoints() []string {
	out := make([]string, 0, len(t))
	for endpoint := range t {
		if endpoint != models.DefaultEndpoint {
			out = append(out, endpoint)
		}
	}
	sort.Strings(out)
	return out
}

// Missing reports "endpoint/tier" pairs absent from the table, including the
// default endpoint itself.
func (t Table) Missing() []string {
	var missing []string
	endpoints := append(t.Endpoints(), models.DefaultEndpoint)
	for _, endpoint := range endpoints {
		for _, tier := range models.KnownTiers() {
			if _, ok := t[endpoint][tier]; !ok {
				missing = append(missing, endpoint+"/"+tier)
			}
		}
	}
	return missing
}

// Rules converts the table into policy rules, e.g. for seeding a store.
func (t Table) Rules() []*models.PolicyRule {
	var rules []*models.PolicyRule
	endpoints := append(t.Endpoints(), models.DefaultEndpoint)
	for _, endpoint := range endpoints {
		for _, tier := range models.KnownTiers() {
			if l, ok := t[endpoint][tier]; ok {
				rules = append(rules, models.NewPolicyRule(endpoint, tier, l.Requests, l.Window, l.Description))
			}
		}
	}
	return rules
}

// lookup applies the static fallback order: endpoint then default, tier then
// anonymous.
func (t Table) lookup(endpoint, tier string) (Limit, bool) {
	tiers, ok := t[endpoint]
	if !ok {
		tiers, ok = t[models.DefaultEndpoint]
		if !ok {
			return Limit{}, false
		}
	}
	if l, ok := tiers[tier]; ok {
		return l, true
	}
	l, ok := tiers[models.TierAnonymous]
	return l, ok
}
