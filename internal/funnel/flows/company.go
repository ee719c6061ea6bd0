package flows

import (
	"math"

	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/funnel"
)

const CompanyFormation = "company-formation"

// CompanyFormationSubmission is posted to the backend when the formation funnel completes.
type CompanyFormationSubmission struct {
	ProposedNames []string  `json:"proposedNames"`
	LegalForm     string    `json:"legalForm"`
	ShareCapital  float64   `json:"shareCapital"`
	Founders      []Founder `json:"founders"`
	Office        Address   `json:"registeredOffice"`
}

type Founder struct {
	FullName     string  `json:"fullName"`
	Email        string  `json:"email"`
	SharePercent float64 `json:"sharePercent"`
}

func namesValid(d funnel.Data) bool {
	return len(d.Strings("proposedNames")) > 0
}

func legalFormValid(d funnel.Data) bool {
	capital, ok := d.Float("shareCapital")
	return ok && d.String("legalForm") != "" && capital >= minimumShareCapital[d.String("legalForm")]
}

// foundersValid requires founder shares to add up to 100%.
func foundersValid(d funnel.Data) bool {
	founders := d.Objects("founders")
	if len(founders) == 0 {
		return false
	}
	var total float64
	for _, f := range founders {
		share, ok := f.Float("sharePercent")
		if f.String("fullName") == "" || !validation.ValidateEmail(f.String("email")) || !ok || share <= 0 {
			return false
		}
		total += share
	}
	return math.Abs(total-100) < 0.01
}

func officeValid(d funnel.Data) bool {
	return d.Filled("officeStreet", "officeCity", "officePostalCode", "officeCountry")
}

func companyFormationDefinition() *funnel.Definition {
	return funnel.MustCompile(funnel.Definition{
		Type:   CompanyFormation,
		Target: funnel.TargetBackend,
		Steps: []funnel.Step{
			{ID: "names", Title: "Company name", Description: "Up to three names in order of preference", Valid: namesValid},
			{ID: "legal-form", Title: "Legal form", Valid: legalFormValid},
			{ID: "founders", Title: "Founders", Valid: foundersValid},
			{ID: "office", Title: "Registered office", Valid: officeValid},
			{ID: "review", Title: "Review", Valid: func(d funnel.Data) bool {
				return namesValid(d) && legalFormValid(d) && foundersValid(d) && officeValid(d) && d.Bool("termsAccepted")
			}},
		},
		Fields: map[string]string{
			"proposedNames": schemaStringArray(3),
			"legalForm":     schemaEnum("oy", "oyj", "sarl", "sas", "sa", "other"),
			"shareCapital":  schemaNumber,
			"founders": schemaObjectArray(10, map[string]string{
				"fullName":     schemaString(200),
				"email":        schemaEmail,
				"sharePercent": `{"type":"number","minimum":0,"maximum":100}`,
			}),
			"officeStreet":     schemaString(200),
			"officeCity":       schemaString(100),
			"officePostalCode": schemaString(16),
			"officeCountry":    schemaString(64),
			"termsAccepted":    schemaBool,
		},
		Defaults: func() funnel.Data {
			return funnel.Data{
				"proposedNames": []interface{}{},
				"founders":      []interface{}{},
				"termsAccepted": false,
			}
		},
		Extract: func(_ string, d funnel.Data) (interface{}, error) {
			capital, _ := d.Float("shareCapital")
			sub := CompanyFormationSubmission{
				ProposedNames: d.Strings("proposedNames"),
				LegalForm:     d.String("legalForm"),
				ShareCapital:  capital,
				Founders:      []Founder{},
				Office: Address{
					Street:     d.String("officeStreet"),
					City:       d.String("officeCity"),
					PostalCode: d.String("officePostalCode"),
					Country:    d.String("officeCountry"),
				},
			}
			for _, f := range d.Objects("founders") {
				share, _ := f.Float("sharePercent")
				sub.Founders = append(sub.Founders, Founder{
					FullName:     f.String("fullName"),
					Email:        f.String("email"),
					SharePercent: share,
				})
			}
			return sub, nil
		},
	})
}
