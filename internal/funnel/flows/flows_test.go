package flows_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/funnel"
	"opz-funnels/internal/funnel/flows"
	"opz-funnels/internal/models"
)

func start(t *testing.T, flow string) *funnel.Machine {
	t.Helper()
	def, ok := flows.Default().Get(flow)
	require.True(t, ok, "flow %s registered", flow)
	return funnel.New(def, funnel.Options{SessionID: "s", UserRef: "U1"})
}

func update(t *testing.T, m *funnel.Machine, data map[string]interface{}) {
	t.Helper()
	require.NoError(t, m.UpdateData(context.Background(), data))
}

func advance(t *testing.T, m *funnel.Machine, wantID string) {
	t.Helper()
	require.True(t, m.Next(context.Background()), "next from %s", m.Current().ID)
	require.Equal(t, wantID, m.Current().ID)
}

func TestRegistryTypes(t *testing.T) {
	assert.Equal(t,
		[]string{flows.Business, flows.CompanyFormation, flows.Insurance, flows.KYC, flows.Personal},
		flows.Default().Types())

	_, ok := flows.Default().Get("mortgage")
	assert.False(t, ok)
}

func TestRegistryTargets(t *testing.T) {
	reg := flows.Default()
	for flow, want := range map[string]funnel.Target{
		flows.Personal:         funnel.TargetPartner,
		flows.Business:         funnel.TargetPartner,
		flows.KYC:              funnel.TargetBackend,
		flows.Insurance:        funnel.TargetBackend,
		flows.CompanyFormation: funnel.TargetBackend,
	} {
		def, ok := reg.Get(flow)
		require.True(t, ok)
		assert.Equal(t, want, def.Target, flow)
	}
}

func businessExisting() map[string]interface{} {
	return map[string]interface{}{
		"companyStatus":       models.CompanyExisting,
		"companyName":         "Example Oy",
		"registrationNumber":  "1234567-8",
		"companyCountry":      "FI",
		"industry":            "software",
		"activityDescription": "SaaS",
		"jurisdictions":       []interface{}{"finland"},
		"contactFirstName":    "Eero",
		"contactLastName":     "Korhonen",
		"contactEmail":        "eero@example.fi",
		"directors":           []interface{}{map[string]interface{}{"fullName": "Eero Korhonen"}},
		"ubos": []interface{}{
			map[string]interface{}{"fullName": "Eero Korhonen", "ownershipPercent": 60.0},
			map[string]interface{}{"fullName": "Aino Virtanen", "ownershipPercent": 40.0},
		},
	}
}

func TestBusiness_ExistingCompanySkipsFormation(t *testing.T) {
	ctx := context.Background()
	m := start(t, flows.Business)
	update(t, m, businessExisting())

	advance(t, m, "activity")
	advance(t, m, "contact")
	advance(t, m, "people")
	advance(t, m, "documents")
	assert.Equal(t, 6, m.Current().Index)

	require.True(t, m.Back(ctx))
	assert.Equal(t, "people", m.Current().ID)
	assert.Equal(t, 4, m.Current().Index)
}

func TestBusiness_NewCompanyVisitsFormation(t *testing.T) {
	ctx := context.Background()
	m := start(t, flows.Business)
	data := businessExisting()
	data["companyStatus"] = models.CompanyNew
	update(t, m, data)

	advance(t, m, "activity")
	advance(t, m, "contact")
	advance(t, m, "people")
	advance(t, m, "formation")

	assert.False(t, m.CanProceed())
	update(t, m, map[string]interface{}{"legalForm": "sa", "shareCapital": 1000.0, "proposedNames": []interface{}{"Nova SA"}})
	assert.False(t, m.CanProceed(), "below the minimum share capital")
	update(t, m, map[string]interface{}{"shareCapital": 30000.0})
	advance(t, m, "documents")

	require.True(t, m.Back(ctx))
	assert.Equal(t, "formation", m.Current().ID)
}

func TestBusiness_Validation(t *testing.T) {
	m := start(t, flows.Business)

	err := m.UpdateData(context.Background(), map[string]interface{}{"companyStatus": "dissolved"})
	assert.ErrorIs(t, err, funnel.ErrInvalidField)

	err = m.UpdateData(context.Background(), map[string]interface{}{"ubos": []interface{}{
		map[string]interface{}{"fullName": "X", "ownershipPercent": 140.0},
	}})
	assert.ErrorIs(t, err, funnel.ErrInvalidField)

	err = m.UpdateData(context.Background(), map[string]interface{}{"jurisdictions": []interface{}{"atlantis"}})
	assert.ErrorIs(t, err, funnel.ErrInvalidField)
}

func TestBusiness_UBOsOverHundredBlocksPeople(t *testing.T) {
	m := start(t, flows.Business)
	data := businessExisting()
	data["ubos"] = []interface{}{
		map[string]interface{}{"fullName": "A", "ownershipPercent": 70.0},
		map[string]interface{}{"fullName": "B", "ownershipPercent": 40.0},
	}
	update(t, m, data)
	advance(t, m, "activity")
	advance(t, m, "contact")
	advance(t, m, "people")
	assert.False(t, m.CanProceed())
}

func TestBusiness_ExistingCompanyNeedsRegistryExtract(t *testing.T) {
	m := start(t, flows.Business)
	update(t, m, businessExisting())
	advance(t, m, "activity")
	advance(t, m, "contact")
	advance(t, m, "people")
	advance(t, m, "documents")

	update(t, m, map[string]interface{}{"documents": []interface{}{
		map[string]interface{}{"kind": "articles", "fileName": "articles.pdf"},
	}})
	assert.False(t, m.CanProceed())

	update(t, m, map[string]interface{}{"documents": []interface{}{
		map[string]interface{}{"kind": "registry_extract", "fileName": "extract.pdf", "fileRef": "f-1"},
	}})
	advance(t, m, "review")
}

func TestBusiness_Extract(t *testing.T) {
	ctx := context.Background()
	m := start(t, flows.Business)
	data := businessExisting()
	data["documents"] = []interface{}{map[string]interface{}{"kind": "registry_extract", "fileName": "e.pdf"}}
	data["termsAccepted"] = true
	data["privacyAccepted"] = true
	update(t, m, data)
	for _, id := range []string{"activity", "contact", "people", "documents", "review"} {
		advance(t, m, id)
	}

	var payload interface{}
	require.NoError(t, m.Submit(ctx, func(_ context.Context, inst funnel.Instance) error {
		var err error
		payload, err = m.Definition().Extract(inst.UserRef, inst.Data)
		return err
	}))

	app, ok := payload.(models.Application)
	require.True(t, ok)
	assert.Equal(t, "U1", app.UserRef)
	assert.Equal(t, models.ModeBusiness, app.Mode)
	require.NotNil(t, app.Business)
	assert.Nil(t, app.Business.Formation)
	assert.Equal(t, "Example Oy", app.CompanyName())
	assert.Equal(t, []string{"finland"}, app.RelevantJurisdictions())
	assert.Len(t, app.Business.UBOs, 2)
	assert.InDelta(t, 60.0, app.Business.UBOs[0].OwnershipPercent, 0.001)
	assert.NoError(t, app.Validate())
}

func TestPersonal_FullPathAndExtract(t *testing.T) {
	m := start(t, flows.Personal)
	advance(t, m, "identity")

	update(t, m, map[string]interface{}{
		"firstName":          "Aino",
		"lastName":           "Virtanen",
		"email":              "aino@example.fi",
		"dateOfBirth":        "1990-04-01",
		"nationality":        "FI",
		"countryOfResidence": "FI",
	})
	advance(t, m, "intent")
	update(t, m, map[string]interface{}{
		"accountPurpose":         "savings",
		"expectedMonthlyVolume":  "1k_10k",
		"preferredJurisdictions": []interface{}{"luxembourg"},
	})
	advance(t, m, "consents")
	assert.False(t, m.CanProceed())
	update(t, m, map[string]interface{}{"termsAccepted": true, "privacyAccepted": true})
	advance(t, m, "review")
	assert.True(t, m.CanProceed())

	snap := m.Snapshot()
	payload, err := m.Definition().Extract(snap.UserRef, snap.Data)
	require.NoError(t, err)
	app := payload.(models.Application)
	require.NotNil(t, app.Personal)
	assert.Equal(t, "aino@example.fi", app.Personal.Identity.Email)
	assert.Equal(t, []string{"luxembourg"}, app.RelevantJurisdictions())
	assert.False(t, app.Personal.Consents.Marketing)
}

func TestPersonal_RejectsBadFormats(t *testing.T) {
	m := start(t, flows.Personal)
	assert.ErrorIs(t, m.UpdateData(context.Background(), map[string]interface{}{"dateOfBirth": "01/04/1990"}), funnel.ErrInvalidField)
	assert.ErrorIs(t, m.UpdateData(context.Background(), map[string]interface{}{"accountPurpose": "gambling"}), funnel.ErrInvalidField)
	assert.ErrorIs(t, m.UpdateData(context.Background(), map[string]interface{}{"passport": "X"}), funnel.ErrUnknownField)
}

func kycBase() map[string]interface{} {
	return map[string]interface{}{
		"firstName":      "Aino",
		"lastName":       "Virtanen",
		"dateOfBirth":    "1990-04-01",
		"nationality":    "FI",
		"street":         "Mannerheimintie 1",
		"city":           "Helsinki",
		"postalCode":     "00100",
		"country":        "FI",
		"documentType":   "passport",
		"documentNumber": "P123",
		"documentExpiry": "2030-01-01",
		"sourceOfFunds":  "salary",
	}
}

func TestKYC_PEPStepSkippedForNonPEP(t *testing.T) {
	ctx := context.Background()
	m := start(t, flows.KYC)
	update(t, m, kycBase())
	advance(t, m, "address")
	advance(t, m, "document")
	advance(t, m, "funds")
	assert.False(t, m.CanProceed(), "PEP status must be declared")

	update(t, m, map[string]interface{}{"isPep": false})
	advance(t, m, "confirm")
	require.True(t, m.Back(ctx))
	assert.Equal(t, "funds", m.Current().ID)

	update(t, m, map[string]interface{}{"isPep": true})
	advance(t, m, "pep")
	assert.False(t, m.CanProceed())
	update(t, m, map[string]interface{}{"pepPosition": "Member of parliament"})
	advance(t, m, "confirm")
	update(t, m, map[string]interface{}{"declarationAccepted": true})
	assert.True(t, m.CanProceed())

	snap := m.Snapshot()
	payload, err := m.Definition().Extract(snap.UserRef, snap.Data)
	require.NoError(t, err)
	sub := payload.(flows.KYCSubmission)
	assert.True(t, sub.PEP)
	assert.Equal(t, "Member of parliament", sub.PEPPosition)
	assert.Equal(t, "Helsinki", sub.Address.City)
}

func TestInsurance_SkipRules(t *testing.T) {
	ctx := context.Background()
	base := map[string]interface{}{
		"startDate":          "2026-11-01",
		"insuredFullName":    "Aino Virtanen",
		"insuredEmail":       "aino@example.fi",
		"insuredDateOfBirth": "1990-04-01",
	}

	t.Run("life coverage skips the asset step", func(t *testing.T) {
		m := start(t, flows.Insurance)
		update(t, m, base)
		update(t, m, map[string]interface{}{"coverageType": "life", "smoker": false, "heightCm": 170.0, "weightKg": 65.0})
		advance(t, m, "insured")
		advance(t, m, "health")
		advance(t, m, "review")
		require.True(t, m.Back(ctx))
		assert.Equal(t, "health", m.Current().ID)

		update(t, m, map[string]interface{}{"termsAccepted": true})
		assert.True(t, m.CanProceed())
		snap := m.Snapshot()
		payload, err := m.Definition().Extract(snap.UserRef, snap.Data)
		require.NoError(t, err)
		sub := payload.(flows.InsuranceSubmission)
		require.NotNil(t, sub.Health)
		assert.Nil(t, sub.Asset)
	})

	t.Run("property coverage skips the health step", func(t *testing.T) {
		m := start(t, flows.Insurance)
		update(t, m, base)
		update(t, m, map[string]interface{}{"coverageType": "property", "assetDescription": "Flat", "assetValue": 250000.0})
		advance(t, m, "insured")
		advance(t, m, "asset")
		require.True(t, m.Back(ctx))
		assert.Equal(t, "insured", m.Current().ID)
		advance(t, m, "asset")
		advance(t, m, "review")
		assert.False(t, m.CanProceed())
		update(t, m, map[string]interface{}{"termsAccepted": true})
		assert.True(t, m.CanProceed())
	})
}

func TestCompanyFormation_FounderShares(t *testing.T) {
	m := start(t, flows.CompanyFormation)
	update(t, m, map[string]interface{}{
		"proposedNames": []interface{}{"Nova Oy", "Nova Labs Oy"},
		"legalForm":     "oy",
		"shareCapital":  0.0,
	})
	advance(t, m, "legal-form")
	advance(t, m, "founders")

	update(t, m, map[string]interface{}{"founders": []interface{}{
		map[string]interface{}{"fullName": "A", "email": "a@nova.fi", "sharePercent": 50.0},
		map[string]interface{}{"fullName": "B", "email": "b@nova.fi", "sharePercent": 40.0},
	}})
	assert.False(t, m.CanProceed(), "shares add up to 90")

	update(t, m, map[string]interface{}{"founders": []interface{}{
		map[string]interface{}{"fullName": "A", "email": "a@nova.fi", "sharePercent": 50.0},
		map[string]interface{}{"fullName": "B", "email": "b@nova.fi", "sharePercent": 50.0},
	}})
	advance(t, m, "office")
	update(t, m, map[string]interface{}{
		"officeStreet": "Aleksanterinkatu 5", "officeCity": "Helsinki",
		"officePostalCode": "00100", "officeCountry": "FI",
	})
	advance(t, m, "review")

	snap := m.Snapshot()
	payload, err := m.Definition().Extract(snap.UserRef, snap.Data)
	require.NoError(t, err)
	sub := payload.(flows.CompanyFormationSubmission)
	assert.Equal(t, []string{"Nova Oy", "Nova Labs Oy"}, sub.ProposedNames)
	assert.Len(t, sub.Founders, 2)
	assert.Equal(t, "Helsinki", sub.Office.City)
}
