package flows

import (
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/funnel"
)

const KYC = "kyc"

const kycStepConfirm = 6

// KYCSubmission is posted to the backend when the KYC funnel completes.
type KYCSubmission struct {
	FirstName      string      `json:"firstName"`
	LastName       string      `json:"lastName"`
	DateOfBirth    string      `json:"dateOfBirth"`
	Nationality    string      `json:"nationality"`
	Address        Address     `json:"address"`
	Document       KYCDocument `json:"document"`
	SourceOfFunds  string      `json:"sourceOfFunds"`
	PEP            bool        `json:"pep"`
	PEPPosition    string      `json:"pepPosition,omitempty"`
	DeclarationAck bool        `json:"declarationAccepted"`
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type KYCDocument struct {
	Type   string `json:"type"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
}

func kycPersonValid(d funnel.Data) bool {
	return d.Filled("firstName", "lastName", "nationality") && validation.ValidateDate(d.String("dateOfBirth"))
}

func kycAddressValid(d funnel.Data) bool {
	return d.Filled("street", "city", "postalCode", "country")
}

func kycDocumentValid(d funnel.Data) bool {
	return d.Filled("documentType", "documentNumber") && validation.ValidateDate(d.String("documentExpiry"))
}

func kycFundsValid(d funnel.Data) bool {
	_, declared := d["isPep"].(bool)
	return d.String("sourceOfFunds") != "" && declared
}

func isNotPEP(d funnel.Data) bool {
	return !d.Bool("isPep")
}

func kycPEPValid(d funnel.Data) bool {
	return d.String("pepPosition") != ""
}

func kycDefinition() *funnel.Definition {
	return funnel.MustCompile(funnel.Definition{
		Type:   KYC,
		Target: funnel.TargetBackend,
		Steps: []funnel.Step{
			{ID: "person", Title: "Personal details", Valid: kycPersonValid},
			{ID: "address", Title: "Address", Valid: kycAddressValid},
			{ID: "document", Title: "Identity document", Valid: kycDocumentValid},
			{
				ID:          "funds",
				Title:       "Source of funds",
				Description: "Origin of funds and politically exposed person status",
				Valid:       kycFundsValid,
				Next:        funnel.SkipTo(kycStepConfirm, isNotPEP),
			},
			{ID: "pep", Title: "Public position", Valid: kycPEPValid},
			{ID: "confirm", Title: "Declaration", Valid: func(d funnel.Data) bool {
				return kycPersonValid(d) && kycAddressValid(d) && kycDocumentValid(d) && kycFundsValid(d) &&
					(isNotPEP(d) || kycPEPValid(d)) && d.Bool("declarationAccepted")
			}},
		},
		Fields: map[string]string{
			"firstName":           schemaString(100),
			"lastName":            schemaString(100),
			"dateOfBirth":         schemaDate,
			"nationality":         schemaString(64),
			"street":              schemaString(200),
			"city":                schemaString(100),
			"postalCode":          schemaString(16),
			"country":             schemaString(64),
			"documentType":        schemaEnum("passport", "id_card", "residence_permit"),
			"documentNumber":      schemaString(64),
			"documentExpiry":      schemaDate,
			"sourceOfFunds":       schemaEnum("salary", "business", "savings", "inheritance", "investments", "other"),
			"isPep":               schemaBool,
			"pepPosition":         schemaString(200),
			"declarationAccepted": schemaBool,
		},
		Defaults: func() funnel.Data {
			return funnel.Data{"declarationAccepted": false}
		},
		Extract: func(_ string, d funnel.Data) (interface{}, error) {
			sub := KYCSubmission{
				FirstName:   d.String("firstName"),
				LastName:    d.String("lastName"),
				DateOfBirth: d.String("dateOfBirth"),
				Nationality: d.String("nationality"),
				Address: Address{
					Street:     d.String("street"),
					City:       d.String("city"),
					PostalCode: d.String("postalCode"),
					Country:    d.String("country"),
				},
				Document: KYCDocument{
					Type:   d.String("documentType"),
					Number: d.String("documentNumber"),
					Expiry: d.String("documentExpiry"),
				},
				SourceOfFunds:  d.String("sourceOfFunds"),
				PEP:            d.Bool("isPep"),
				DeclarationAck: d.Bool("declarationAccepted"),
			}
			if sub.PEP {
				sub.PEPPosition = d.String("pepPosition")
			}
			return sub, nil
		},
	})
}
