package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/draft"
	"opz-funnels/internal/funnel/flows"
	"opz-funnels/internal/models"
	"opz-funnels/internal/submission"
)

type fakeRouter struct {
	apps []models.Application
	err  error
}

func (f *fakeRouter) RequestRouting(_ context.Context, app models.Application) (models.ReferralRouting, error) {
	f.apps = append(f.apps, app)
	if f.err != nil {
		return models.ReferralRouting{}, f.err
	}
	return models.ReferralRouting{Partner: models.PartnerNarvi, RedirectURL: "https://narvi.example/?sig=x"}, nil
}

type fakeBackend struct {
	payloads []interface{}
	err      error
}

func (f *fakeBackend) Submit(_ context.Context, flow, userRef string, payload interface{}) (*submission.Result, error) {
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return nil, f.err
	}
	return &submission.Result{Flow: flow, UserRef: userRef, Reference: "ref-1"}, nil
}

func newTestManager(t *testing.T, store draft.Store, router Router, backend submission.Submitter) *Manager {
	t.Helper()
	return NewManager(Options{
		Registry:  flows.Default(),
		Store:     store,
		KeyPrefix: "opz:draft",
		Router:    router,
		Backend:   backend,
		Logger:    logger.NewTestLogger(t),
	})
}

func completePersonal(t *testing.T, m *Manager, id string) {
	t.Helper()
	ctx := context.Background()
	machine, err := m.Get(ctx, flows.Personal, id)
	require.NoError(t, err)

	require.NoError(t, machine.UpdateData(ctx, map[string]interface{}{
		"firstName":              "Aino",
		"lastName":               "Virtanen",
		"email":                  "aino@example.fi",
		"dateOfBirth":            "1990-04-01",
		"nationality":            "FI",
		"countryOfResidence":     "FI",
		"accountPurpose":         "savings",
		"expectedMonthlyVolume":  "lt_1k",
		"preferredJurisdictions": []interface{}{"finland"},
		"termsAccepted":          true,
		"privacyAccepted":        true,
	}))
	for i := 0; i < 4; i++ {
		require.True(t, machine.Next(ctx))
	}
}

func TestCreate_UnknownFlow(t *testing.T) {
	m := newTestManager(t, draft.NewMemoryStore(0), nil, nil)
	_, _, err := m.Create(context.Background(), "mortgage")
	assert.Equal(t, errors.ErrCodeUnsupportedFlow, errors.CodeOf(err))
}

func TestCreate_PersistsInitialDraft(t *testing.T) {
	store := draft.NewMemoryStore(0)
	m := newTestManager(t, store, nil, nil)

	id, machine, err := m.Create(context.Background(), flows.Personal)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEmpty(t, machine.Snapshot().UserRef)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1, m.Len())
}

func TestGet_ResumesFromDraft(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)

	first := newTestManager(t, store, nil, nil)
	id, machine, err := first.Create(ctx, flows.Personal)
	require.NoError(t, err)
	require.True(t, machine.Next(ctx))
	userRef := machine.Snapshot().UserRef

	restarted := newTestManager(t, store, nil, nil)
	resumed, err := restarted.Get(ctx, flows.Personal, id)
	require.NoError(t, err)
	assert.Equal(t, "identity", resumed.Current().ID)
	assert.Equal(t, userRef, resumed.Snapshot().UserRef)

	again, err := restarted.Get(ctx, flows.Personal, id)
	require.NoError(t, err)
	assert.Same(t, resumed, again)
}

func TestGet_Missing(t *testing.T) {
	m := newTestManager(t, draft.NewMemoryStore(0), nil, nil)
	_, err := m.Get(context.Background(), flows.Personal, "nope")
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.CodeOf(err))

	_, err = m.Get(context.Background(), "mortgage", "nope")
	assert.Equal(t, errors.ErrCodeUnsupportedFlow, errors.CodeOf(err))
}

func TestSubmit_PartnerFlow(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	router := &fakeRouter{}
	m := newTestManager(t, store, router, nil)

	id, machine, err := m.Create(ctx, flows.Personal)
	require.NoError(t, err)
	completePersonal(t, m, id)

	res, err := m.Submit(ctx, flows.Personal, id)
	require.NoError(t, err)
	require.NotNil(t, res.Routing)
	assert.Nil(t, res.Submission)
	assert.Equal(t, models.PartnerNarvi, res.Routing.Partner)

	require.Len(t, router.apps, 1)
	assert.Equal(t, machine.Snapshot().UserRef, router.apps[0].UserRef)
	assert.Equal(t, []string{"finland"}, router.apps[0].RelevantJurisdictions())
	assert.Equal(t, 0, store.Len(), "draft removed after submit")

	_, err = m.Submit(ctx, flows.Personal, id)
	assert.Equal(t, errors.ErrCodeFunnelSubmitted, errors.CodeOf(err))
}

type stickyStore struct {
	*draft.MemoryStore
}

func (stickyStore) Remove(context.Context, string) error {
	return fmt.Errorf("remove failed")
}

func TestSubmit_NotRepeatableAfterSweep(t *testing.T) {
	ctx := context.Background()
	store := stickyStore{draft.NewMemoryStore(0)}
	router := &fakeRouter{}
	m := newTestManager(t, store, router, nil)

	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	id, _, err := m.Create(ctx, flows.Personal)
	require.NoError(t, err)
	completePersonal(t, m, id)

	_, err = m.Submit(ctx, flows.Personal, id)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, m.Sweep(time.Minute))
	_, err = m.Submit(ctx, flows.Personal, id)
	assert.Equal(t, errors.ErrCodeSessionNotFound, errors.CodeOf(err))
	assert.Len(t, router.apps, 1, "routed once")
}

func TestSubmit_RoutingFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	router := &fakeRouter{err: errors.NewReferralSigningFailedError("narvi", fmt.Errorf("no secret"))}
	store := draft.NewMemoryStore(0)
	m := newTestManager(t, store, router, nil)

	id, machine, err := m.Create(ctx, flows.Personal)
	require.NoError(t, err)
	completePersonal(t, m, id)

	_, err = m.Submit(ctx, flows.Personal, id)
	assert.Equal(t, errors.ErrCodeReferralSigningFailed, errors.CodeOf(err))
	assert.False(t, machine.Snapshot().Submitted)
	assert.Equal(t, 1, store.Len())
}

func TestSubmit_Incomplete(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, draft.NewMemoryStore(0), &fakeRouter{}, nil)
	id, _, err := m.Create(ctx, flows.Personal)
	require.NoError(t, err)

	_, err = m.Submit(ctx, flows.Personal, id)
	assert.Equal(t, errors.ErrCodeFunnelIncomplete, errors.CodeOf(err))
}

func TestSubmit_BackendFlow(t *testing.T) {
	ctx := context.Background()
	backend := &fakeBackend{}
	m := newTestManager(t, draft.NewMemoryStore(0), nil, backend)

	id, machine, err := m.Create(ctx, flows.Insurance)
	require.NoError(t, err)
	require.NoError(t, machine.UpdateData(ctx, map[string]interface{}{
		"coverageType":       "property",
		"startDate":          "2026-11-01",
		"insuredFullName":    "Aino Virtanen",
		"insuredEmail":       "aino@example.fi",
		"insuredDateOfBirth": "1990-04-01",
		"assetDescription":   "Flat",
		"assetValue":         250000.0,
		"termsAccepted":      true,
	}))
	for _, want := range []string{"insured", "asset", "review"} {
		require.True(t, machine.Next(ctx))
		require.Equal(t, want, machine.Current().ID)
	}

	res, err := m.Submit(ctx, flows.Insurance, id)
	require.NoError(t, err)
	require.NotNil(t, res.Submission)
	assert.Equal(t, "ref-1", res.Submission.Reference)

	require.Len(t, backend.payloads, 1)
	sub, ok := backend.payloads[0].(flows.InsuranceSubmission)
	require.True(t, ok)
	require.NotNil(t, sub.Asset)
	assert.InDelta(t, 250000.0, sub.Asset.Value, 0.01)
}

func TestSubmit_BackendNotConfigured(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, nil, nil, nil)
	id, machine, err := m.Create(ctx, flows.CompanyFormation)
	require.NoError(t, err)
	require.NoError(t, machine.UpdateData(ctx, map[string]interface{}{
		"proposedNames":    []interface{}{"Nova Oy"},
		"legalForm":        "oy",
		"shareCapital":     0.0,
		"founders":         []interface{}{map[string]interface{}{"fullName": "A", "email": "a@nova.fi", "sharePercent": 100.0}},
		"officeStreet":     "Aleksanterinkatu 5",
		"officeCity":       "Helsinki",
		"officePostalCode": "00100",
		"officeCountry":    "FI",
		"termsAccepted":    true,
	}))
	for i := 0; i < 4; i++ {
		require.True(t, machine.Next(ctx))
	}

	_, err = m.Submit(ctx, flows.CompanyFormation, id)
	assert.Equal(t, errors.ErrCodeBackendSubmissionFailed, errors.CodeOf(err))
	assert.False(t, machine.Snapshot().Submitted)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestManager(t, store, nil, nil)

	id, machine, err := m.Create(ctx, flows.Personal)
	require.NoError(t, err)
	require.True(t, machine.Next(ctx))

	reset, err := m.Reset(ctx, flows.Personal, id)
	require.NoError(t, err)
	assert.Equal(t, 1, reset.Current().Index)
	assert.Equal(t, 1, store.Len(), "reset state is saved again")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := draft.NewMemoryStore(0)
	m := newTestManager(t, store, nil, nil)

	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	id, _, err := m.Create(ctx, flows.KYC)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	_, _, err = m.Create(ctx, flows.KYC)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Sweep(5*time.Minute))
	assert.Equal(t, 1, m.Len())

	resumed, err := m.Get(ctx, flows.KYC, id)
	require.NoError(t, err, "swept sessions resume from their draft")
	assert.Equal(t, 1, resumed.Current().Index)
}
