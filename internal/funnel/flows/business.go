package flows

import (
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/funnel"
	"opz-funnels/internal/models"
)

const Business = "business"

// businessStepDocuments is where existing companies land after the people step.
const businessStepDocuments = 6

func companyExists(d funnel.Data) bool {
	return d.String("companyStatus") == models.CompanyExisting
}

func companyValid(d funnel.Data) bool {
	switch d.String("companyStatus") {
	case models.CompanyExisting:
		return d.Filled("companyName", "registrationNumber", "companyCountry")
	case models.CompanyNew:
		return d.Filled("companyName", "companyCountry")
	default:
		return false
	}
}

func activityValid(d funnel.Data) bool {
	return d.Filled("industry", "activityDescription")
}

func contactValid(d funnel.Data) bool {
	return d.Filled("contactFirstName", "contactLastName") &&
		validation.ValidateEmail(d.String("contactEmail")) &&
		(d.String("contactPhone") == "" || validation.ValidatePhone(d.String("contactPhone")))
}

func peopleValid(d funnel.Data) bool {
	directors := d.Objects("directors")
	if len(directors) == 0 {
		return false
	}
	for _, p := range directors {
		if p.String("fullName") == "" {
			return false
		}
	}

	var total float64
	for _, u := range d.Objects("ubos") {
		pct, ok := u.Float("ownershipPercent")
		if u.String("fullName") == "" || !ok || pct <= 0 || pct > 100 {
			return false
		}
		total += pct
	}
	return total <= 100
}

// formationValid is the only place the company formation step is checked.
func formationValid(d funnel.Data) bool {
	capital, ok := d.Float("shareCapital")
	if !ok || d.String("legalForm") == "" || len(d.Strings("proposedNames")) == 0 {
		return false
	}
	return capital >= minimumShareCapital[d.String("legalForm")]
}

var minimumShareCapital = map[string]float64{
	"oy":    0,
	"sarl":  1,
	"sas":   1,
	"sa":    30000,
	"oyj":   80000,
	"other": 0,
}

func documentsValid(d funnel.Data) bool {
	docs := d.Objects("documents")
	if len(docs) == 0 {
		return false
	}
	hasRegistryExtract := false
	for _, doc := range docs {
		if doc.String("kind") == "" || doc.String("fileName") == "" {
			return false
		}
		if doc.String("kind") == "registry_extract" {
			hasRegistryExtract = true
		}
	}
	return !companyExists(d) || hasRegistryExtract
}

func businessReviewValid(d funnel.Data) bool {
	if !companyValid(d) || !activityValid(d) || !contactValid(d) || !peopleValid(d) || !documentsValid(d) {
		return false
	}
	if !companyExists(d) && !formationValid(d) {
		return false
	}
	return d.Bool("termsAccepted") && d.Bool("privacyAccepted")
}

func businessDefinition() *funnel.Definition {
	return funnel.MustCompile(funnel.Definition{
		Type:   Business,
		Target: funnel.TargetPartner,
		Steps: []funnel.Step{
			{ID: "company", Title: "Your company", Description: "Existing or new company", Valid: companyValid},
			{ID: "activity", Title: "Activity", Description: "Industry and where you want to bank", Valid: activityValid},
			{ID: "contact", Title: "Contact person", Valid: contactValid},
			{
				ID:          "people",
				Title:       "Directors and owners",
				Description: "Board members and ultimate beneficial owners",
				Valid:       peopleValid,
				Next:        funnel.SkipTo(businessStepDocuments, companyExists),
			},
			{ID: "formation", Title: "Company formation", Description: "Legal form and share capital", Valid: formationValid},
			{ID: "documents", Title: "Documents", Valid: documentsValid},
			{ID: "review", Title: "Review and consents", Valid: businessReviewValid},
		},
		Fields: map[string]string{
			"companyStatus":       schemaEnum(models.CompanyExisting, models.CompanyNew),
			"companyName":         schemaString(200),
			"registrationNumber":  schemaString(64),
			"companyCountry":      schemaString(64),
			"industry":            schemaString(100),
			"activityDescription": schemaString(2000),
			"jurisdictions":       schemaEnumArray(models.Jurisdictions...),
			"contactFirstName":    schemaString(100),
			"contactLastName":     schemaString(100),
			"contactEmail":        schemaEmail,
			"contactPhone":        schemaString(32),
			"contactRole":         schemaString(100),
			"directors": schemaObjectArray(20, map[string]string{
				"fullName":    schemaString(200),
				"dateOfBirth": schemaDate,
				"nationality": schemaString(64),
			}),
			"ubos": schemaObjectArray(20, map[string]string{
				"fullName":         schemaString(200),
				"ownershipPercent": `{"type":"number","minimum":0,"maximum":100}`,
				"nationality":      schemaString(64),
			}),
			"legalForm":     schemaEnum("oy", "oyj", "sarl", "sas", "sa", "other"),
			"shareCapital":  schemaNumber,
			"proposedNames": schemaStringArray(3),
			"documents": schemaObjectArray(30, map[string]string{
				"kind":     schemaEnum("registry_extract", "articles", "founder_id", "proof_of_address", "other"),
				"fileName": schemaString(255),
				"fileRef":  schemaString(255),
			}),
			"termsAccepted":   schemaBool,
			"privacyAccepted": schemaBool,
			"marketingOptIn":  schemaBool,
		},
		Defaults: func() funnel.Data {
			return funnel.Data{
				"jurisdictions":   []interface{}{},
				"directors":       []interface{}{},
				"ubos":            []interface{}{},
				"documents":       []interface{}{},
				"termsAccepted":   false,
				"privacyAccepted": false,
				"marketingOptIn":  false,
			}
		},
		Extract: extractBusiness,
	})
}

func extractBusiness(userRef string, d funnel.Data) (interface{}, error) {
	app := &models.BusinessApplication{
		Company: models.Company{
			Status:             d.String("companyStatus"),
			Name:               d.String("companyName"),
			RegistrationNumber: d.String("registrationNumber"),
			Country:            d.String("companyCountry"),
			Industry:           d.String("industry"),
			Activity:           d.String("activityDescription"),
		},
		Jurisdictions: nonNil(d.Strings("jurisdictions")),
		Contact: models.Contact{
			FirstName: d.String("contactFirstName"),
			LastName:  d.String("contactLastName"),
			Email:     d.String("contactEmail"),
			Phone:     d.String("contactPhone"),
			Role:      d.String("contactRole"),
		},
		Directors: []models.Person{},
		UBOs:      []models.UBO{},
		Consents: models.Consents{
			Terms:     d.Bool("termsAccepted"),
			Privacy:   d.Bool("privacyAccepted"),
			Marketing: d.Bool("marketingOptIn"),
		},
	}

	for _, p := range d.Objects("directors") {
		app.Directors = append(app.Directors, models.Person{
			FullName:    p.String("fullName"),
			DateOfBirth: p.String("dateOfBirth"),
			Nationality: p.String("nationality"),
		})
	}
	for _, u := range d.Objects("ubos") {
		pct, _ := u.Float("ownershipPercent")
		app.UBOs = append(app.UBOs, models.UBO{
			FullName:         u.String("fullName"),
			OwnershipPercent: pct,
			Nationality:      u.String("nationality"),
		})
	}
	for _, doc := range d.Objects("documents") {
		app.Documents = append(app.Documents, models.Document{
			Kind:     doc.String("kind"),
			FileName: doc.String("fileName"),
			FileRef:  doc.String("fileRef"),
		})
	}
	if !companyExists(d) {
		capital, _ := d.Float("shareCapital")
		app.Formation = &models.Formation{
			LegalForm:     d.String("legalForm"),
			ShareCapital:  capital,
			ProposedNames: d.Strings("proposedNames"),
		}
	}

	return models.Application{UserRef: userRef, Mode: models.ModeBusiness, Business: app}, nil
}
