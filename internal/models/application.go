package models

import (
	"encoding/json"
	"fmt"
)

// Mode discriminates the Application union.
type Mode string

const (
	ModePersonal Mode = "personal"
	ModeBusiness Mode = "business"
)

// Jurisdiction values offered by the personal and business funnels.
const (
	JurisdictionFinland    = "finland"
	JurisdictionLuxembourg = "luxembourg"
	JurisdictionFrance     = "france"
	JurisdictionEstonia    = "estonia"
	JurisdictionGermany    = "germany"
	JurisdictionOther      = "other"
)

// Jurisdictions lists every accepted jurisdiction value.
var Jurisdictions = []string{
	JurisdictionFinland,
	JurisdictionLuxembourg,
	JurisdictionFrance,
	JurisdictionEstonia,
	JurisdictionGermany,
	JurisdictionOther,
}

// Application is the finalized payload of a routed funnel. Exactly one of
// Personal or Business is set, matching Mode. On the wire the variant's fields
// sit next to userRef and mode.
type Application struct {
	UserRef  string
	Mode     Mode
	Personal *PersonalApplication
	Business *BusinessApplication
}

type PersonalApplication struct {
	Identity Identity `json:"identity"`
	Intent   Intent   `json:"intent"`
	Consents Consents `json:"consents"`
}

type Identity struct {
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Email              string `json:"email"`
	Phone              string `json:"phone,omitempty"`
	DateOfBirth        string `json:"dateOfBirth,omitempty"`
	Nationality        string `json:"nationality,omitempty"`
	CountryOfResidence string `json:"countryOfResidence,omitempty"`
}

type Intent struct {
	AccountPurpose         string   `json:"accountPurpose"`
	ExpectedMonthlyVolume  string   `json:"expectedMonthlyVolume,omitempty"`
	PreferredJurisdictions []string `json:"preferredJurisdictions"`
}

type Consents struct {
	Terms     bool `json:"terms"`
	Privacy   bool `json:"privacy"`
	Marketing bool `json:"marketing"`
}

type BusinessApplication struct {
	Company       Company    `json:"company"`
	Jurisdictions []string   `json:"jurisdictions"`
	Contact       Contact    `json:"contact"`
	Directors     []Person   `json:"directors"`
	UBOs          []UBO      `json:"ubos"`
	Formation     *Formation `json:"formation,omitempty"`
	Documents     []Document `json:"documents,omitempty"`
	Consents      Consents   `json:"consents"`
}

// CompanyStatus values.
const (
	CompanyExisting = "existing"
	CompanyNew      = "new"
)

type Company struct {
	Status             string `json:"status"`
	Name               string `json:"name"`
	RegistrationNumber string `json:"registrationNumber,omitempty"`
	Country            string `json:"country,omitempty"`
	Industry           string `json:"industry,omitempty"`
	Activity           string `json:"activity,omitempty"`
}

type Contact struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	Role      string `json:"role,omitempty"`
}

type Person struct {
	FullName    string `json:"fullName"`
	DateOfBirth string `json:"dateOfBirth,omitempty"`
	Nationality string `json:"nationality,omitempty"`
}

type UBO struct {
	FullName         string  `json:"fullName"`
	OwnershipPercent float64 `json:"ownershipPercent"`
	Nationality      string  `json:"nationality,omitempty"`
}

// Formation is only collected for companies that do not exist yet.
type Formation struct {
	LegalForm     string   `json:"legalForm"`
	ShareCapital  float64  `json:"shareCapital"`
	ProposedNames []string `json:"proposedNames,omitempty"`
}

type Document struct {
	Kind     string `json:"kind"`
	FileName string `json:"fileName"`
	FileRef  string `json:"fileRef,omitempty"`
}

// RelevantJurisdictions returns the list partner determination looks at.
func (a Application) RelevantJurisdictions() []string {
	switch {
	case a.Mode == ModePersonal && a.Personal != nil:
		return a.Personal.Intent.PreferredJurisdictions
	case a.Mode == ModeBusiness && a.Business != nil:
		return a.Business.Jurisdictions
	default:
		return nil
	}
}

// ContactDetails returns the applicant's name, email and phone regardless of mode.
func (a Application) ContactDetails() (firstName, lastName, email, phone string) {
	switch {
	case a.Personal != nil:
		id := a.Personal.Identity
		return id.FirstName, id.LastName, id.Email, id.Phone
	case a.Business != nil:
		c := a.Business.Contact
		return c.FirstName, c.LastName, c.Email, c.Phone
	}
	return "", "", "", ""
}

// CompanyName is empty for personal applications.
func (a Application) CompanyName() string {
	if a.Business != nil {
		return a.Business.Company.Name
	}
	return ""
}

// Validate checks the union is well formed.
func (a Application) Validate() error {
	if a.UserRef == "" {
		return fmt.Errorf("userRef is required")
	}
	if a.Mode != ModePersonal && a.Mode != ModeBusiness {
		return fmt.Errorf("mode must be personal or business, got %q", a.Mode)
	}
	if a.Personal != nil && a.Business != nil {
		return fmt.Errorf("application carries both personal and business data")
	}
	if a.Mode == ModePersonal && a.Personal == nil {
		return fmt.Errorf("personal application without personal data")
	}
	if a.Mode == ModeBusiness && a.Business == nil {
		return fmt.Errorf("business application without business data")
	}
	return nil
}

type applicationHeader struct {
	UserRef string `json:"userRef"`
	Mode    Mode   `json:"mode"`
}

type personalWire struct {
	applicationHeader
	PersonalApplication
}

type businessWire struct {
	applicationHeader
	BusinessApplication
}

func (a Application) MarshalJSON() ([]byte, error) {
	header := applicationHeader{UserRef: a.UserRef, Mode: a.Mode}
	switch {
	case a.Personal != nil:
		return json.Marshal(personalWire{applicationHeader: header, PersonalApplication: *a.Personal})
	case a.Business != nil:
		return json.Marshal(businessWire{applicationHeader: header, BusinessApplication: *a.Business})
	default:
		return json.Marshal(header)
	}
}

// UnmarshalJSON decodes by mode. Unknown modes keep only the header and are
// rejected by Validate.
func (a *Application) UnmarshalJSON(data []byte) error {
	var header applicationHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}

	*a = Application{UserRef: header.UserRef, Mode: header.Mode}
	switch header.Mode {
	case ModePersonal:
		var w personalWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("personal application: %w", err)
		}
		a.Personal = &w.PersonalApplication
	case ModeBusiness:
		var w businessWire
		if err := json.Unmarshal(data, &w); err != nil {
			return fmt.Errorf("business application: %w", err)
		}
		a.Business = &w.BusinessApplication
	}
	return nil
}
