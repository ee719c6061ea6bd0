package flows

import (
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/funnel"
	"opz-funnels/internal/models"
)

const Personal = "personal"

func identityValid(d funnel.Data) bool {
	return d.Filled("firstName", "lastName", "nationality", "countryOfResidence") &&
		validation.ValidateEmail(d.String("email")) &&
		validation.ValidateDate(d.String("dateOfBirth")) &&
		(d.String("phone") == "" || validation.ValidatePhone(d.String("phone")))
}

func intentValid(d funnel.Data) bool {
	return d.Filled("accountPurpose", "expectedMonthlyVolume")
}

func consentsValid(d funnel.Data) bool {
	return d.Bool("termsAccepted") && d.Bool("privacyAccepted")
}

func personalDefinition() *funnel.Definition {
	return funnel.MustCompile(funnel.Definition{
		Type:   Personal,
		Target: funnel.TargetPartner,
		Steps: []funnel.Step{
			{ID: "welcome", Title: "Welcome", Description: "What you need before you start"},
			{ID: "identity", Title: "About you", Description: "Name, contact details and residence", Valid: identityValid},
			{ID: "intent", Title: "Your account", Description: "How you plan to use the account", Valid: intentValid},
			{ID: "consents", Title: "Consents", Description: "Terms and privacy", Valid: consentsValid},
			{ID: "review", Title: "Review", Description: "Check your answers", Valid: func(d funnel.Data) bool {
				return identityValid(d) && intentValid(d) && consentsValid(d)
			}},
		},
		Fields: map[string]string{
			"firstName":              schemaString(100),
			"lastName":               schemaString(100),
			"email":                  schemaEmail,
			"phone":                  schemaString(32),
			"dateOfBirth":            schemaDate,
			"nationality":            schemaString(64),
			"countryOfResidence":     schemaString(64),
			"accountPurpose":         schemaEnum("everyday", "savings", "investments", "business_income", "other"),
			"expectedMonthlyVolume":  schemaEnum("lt_1k", "1k_10k", "10k_50k", "gt_50k"),
			"preferredJurisdictions": schemaEnumArray(models.Jurisdictions...),
			"termsAccepted":          schemaBool,
			"privacyAccepted":        schemaBool,
			"marketingOptIn":         schemaBool,
		},
		Defaults: func() funnel.Data {
			return funnel.Data{
				"preferredJurisdictions": []interface{}{},
				"termsAccepted":          false,
				"privacyAccepted":        false,
				"marketingOptIn":         false,
			}
		},
		Extract: extractPersonal,
	})
}

func extractPersonal(userRef string, d funnel.Data) (interface{}, error) {
	return models.Application{
		UserRef: userRef,
		Mode:    models.ModePersonal,
		Personal: &models.PersonalApplication{
			Identity: models.Identity{
				FirstName:          d.String("firstName"),
				LastName:           d.String("lastName"),
				Email:              d.String("email"),
				Phone:              d.String("phone"),
				DateOfBirth:        d.String("dateOfBirth"),
				Nationality:        d.String("nationality"),
				CountryOfResidence: d.String("countryOfResidence"),
			},
			Intent: models.Intent{
				AccountPurpose:         d.String("accountPurpose"),
				ExpectedMonthlyVolume:  d.String("expectedMonthlyVolume"),
				PreferredJurisdictions: nonNil(d.Strings("preferredJurisdictions")),
			},
			Consents: models.Consents{
				Terms:     d.Bool("termsAccepted"),
				Privacy:   d.Bool("privacyAccepted"),
				Marketing: d.Bool("marketingOptIn"),
			},
		},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
