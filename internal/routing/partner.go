// Package routing decides which banking partner receives an application.
package routing

import "opz-funnels/internal/models"

type rule struct {
	jurisdictions []string
	partner       models.Partner
}

// rules are evaluated in order, the first match wins.
var rules = []rule{
	{jurisdictions: []string{models.JurisdictionFinland}, partner: models.PartnerNarvi},
	{jurisdictions: []string{models.JurisdictionLuxembourg, models.JurisdictionFrance}, partner: models.PartnerOlky},
}

// DeterminePartner maps the application's relevant jurisdictions to a partner.
// Applications matching no rule go to manual review.
func DeterminePartner(app models.Application) models.Partner {
	return ForJurisdictions(app.RelevantJurisdictions())
}

// ForJurisdictions applies the routing rules to a jurisdiction list.
func ForJurisdictions(jurisdictions []string) models.Partner {
	set := make(map[string]struct{}, len(jurisdictions))
	for _, j := range jurisdictions {
		set[j] = struct{}{}
	}
	for _, r := range rules {
		for _, j := range r.jurisdictions {
			if _, ok := set[j]; ok {
				return r.partner
			}
		}
	}
	return models.PartnerManualReview
}
