package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"opz-funnels/internal/models"
)

func TestForJurisdictions(t *testing.T) {
	tests := []struct {
		name          string
		jurisdictions []string
		want          models.Partner
	}{
		{"finland", []string{"finland"}, models.PartnerNarvi},
		{"finland wins over luxembourg", []string{"luxembourg", "finland"}, models.PartnerNarvi},
		{"luxembourg", []string{"luxembourg"}, models.PartnerOlky},
		{"france", []string{"france", "germany"}, models.PartnerOlky},
		{"estonia only", []string{"estonia"}, models.PartnerManualReview},
		{"unknown values ignored", []string{"atlantis", "france"}, models.PartnerOlky},
		{"empty", nil, models.PartnerManualReview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForJurisdictions(tt.jurisdictions))
		})
	}
}

func TestDeterminePartner(t *testing.T) {
	personal := models.Application{
		UserRef:  "U1",
		Mode:     models.ModePersonal,
		Personal: &models.PersonalApplication{Intent: models.Intent{PreferredJurisdictions: []string{"finland"}}},
	}
	assert.Equal(t, models.PartnerNarvi, DeterminePartner(personal))

	business := models.Application{
		UserRef:  "B1",
		Mode:     models.ModeBusiness,
		Business: &models.BusinessApplication{Jurisdictions: []string{"luxembourg"}},
	}
	assert.Equal(t, models.PartnerOlky, DeterminePartner(business))

	unknownMode := models.Application{UserRef: "X", Mode: "trust"}
	assert.Equal(t, models.PartnerManualReview, DeterminePartner(unknownMode))
}

func TestDeterminePartner_AlwaysKnownPartner(t *testing.T) {
	values := append([]string{"", "atlantis"}, models.Jurisdictions...)
	for _, a := range values {
		for _, b := range values {
			got := ForJurisdictions([]string{a, b})
			assert.True(t, got.Valid(), "%s,%s -> %s", a, b, got)
		}
	}
}
