package flows

import (
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/funnel"
)

const Insurance = "insurance"

const (
	insuranceStepAsset  = 4
	insuranceStepReview = 5
)

// InsuranceSubmission is posted to the backend when the insurance funnel completes.
type InsuranceSubmission struct {
	CoverageType string         `json:"coverageType"`
	StartDate    string         `json:"startDate"`
	Insured      InsuredPerson  `json:"insured"`
	Health       *HealthDetails `json:"health,omitempty"`
	Asset        *InsuredAsset  `json:"asset,omitempty"`
}

type InsuredPerson struct {
	FullName    string `json:"fullName"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
}

type HealthDetails struct {
	Smoker                bool    `json:"smoker"`
	HeightCm              float64 `json:"heightCm"`
	WeightKg              float64 `json:"weightKg"`
	PreExistingConditions string  `json:"preExistingConditions,omitempty"`
}

type InsuredAsset struct {
	Description string  `json:"description"`
	Value       float64 `json:"value"`
	Address     string  `json:"address,omitempty"`
}

func personCoverage(d funnel.Data) bool {
	switch d.String("coverageType") {
	case "life", "health":
		return true
	}
	return false
}

func coverageValid(d funnel.Data) bool {
	return d.String("coverageType") != "" && validation.ValidateDate(d.String("startDate"))
}

func insuredValid(d funnel.Data) bool {
	return d.String("insuredFullName") != "" &&
		validation.ValidateEmail(d.String("insuredEmail")) &&
		validation.ValidateDate(d.String("insuredDateOfBirth"))
}

func healthValid(d funnel.Data) bool {
	_, smokerSet := d["smoker"].(bool)
	height, hOK := d.Float("heightCm")
	weight, wOK := d.Float("weightKg")
	return smokerSet && hOK && wOK && height > 0 && weight > 0
}

func assetValid(d funnel.Data) bool {
	value, ok := d.Float("assetValue")
	return d.String("assetDescription") != "" && ok && value > 0
}

func insuranceDefinition() *funnel.Definition {
	return funnel.MustCompile(funnel.Definition{
		Type:   Insurance,
		Target: funnel.TargetBackend,
		Steps: []funnel.Step{
			{ID: "coverage", Title: "Coverage", Valid: coverageValid},
			{
				ID:    "insured",
				Title: "Insured person",
				Valid: insuredValid,
				Next: funnel.SkipTo(insuranceStepAsset, func(d funnel.Data) bool {
					return !personCoverage(d)
				}),
			},
			{
				ID:          "health",
				Title:       "Health declaration",
				Description: "Only asked for life and health coverage",
				Valid:       healthValid,
				Next:        funnel.SkipTo(insuranceStepReview, personCoverage),
			},
			{ID: "asset", Title: "Insured property", Valid: assetValid},
			{ID: "review", Title: "Review", Valid: func(d funnel.Data) bool {
				if !coverageValid(d) || !insuredValid(d) || !d.Bool("termsAccepted") {
					return false
				}
				if personCoverage(d) {
					return healthValid(d)
				}
				return assetValid(d)
			}},
		},
		Fields: map[string]string{
			"coverageType":          schemaEnum("life", "health", "property", "liability"),
			"startDate":             schemaDate,
			"insuredFullName":       schemaString(200),
			"insuredEmail":          schemaEmail,
			"insuredDateOfBirth":    schemaDate,
			"smoker":                schemaBool,
			"heightCm":              schemaNumber,
			"weightKg":              schemaNumber,
			"preExistingConditions": schemaString(2000),
			"assetDescription":      schemaString(500),
			"assetValue":            schemaNumber,
			"assetAddress":          schemaString(300),
			"termsAccepted":         schemaBool,
		},
		Defaults: func() funnel.Data {
			return funnel.Data{"termsAccepted": false}
		},
		Extract: func(_ string, d funnel.Data) (interface{}, error) {
			sub := InsuranceSubmission{
				CoverageType: d.String("coverageType"),
				StartDate:    d.String("startDate"),
				Insured: InsuredPerson{
					FullName:    d.String("insuredFullName"),
					Email:       d.String("insuredEmail"),
					DateOfBirth: d.String("insuredDateOfBirth"),
				},
			}
			if personCoverage(d) {
				height, _ := d.Float("heightCm")
				weight, _ := d.Float("weightKg")
				sub.Health = &HealthDetails{
					Smoker:                d.Bool("smoker"),
					HeightCm:              height,
					WeightKg:              weight,
					PreExistingConditions: d.String("preExistingConditions"),
				}
			} else {
				value, _ := d.Float("assetValue")
				sub.Asset = &InsuredAsset{
					Description: d.String("assetDescription"),
					Value:       value,
					Address:     d.String("assetAddress"),
				}
			}
			return sub, nil
		},
	})
}
