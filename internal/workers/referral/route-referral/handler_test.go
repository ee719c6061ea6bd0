package routereferral

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/common/config"
	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/models"
)

type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) RequestRouting(ctx context.Context, app models.Application) (models.ReferralRouting, error) {
	args := m.Called(ctx, app)
	return args.Get(0).(models.ReferralRouting), args.Error(1)
}

const applicationVars = `{
	"processStage": "routing",
	"application": {
		"userRef": "U123",
		"mode": "personal",
		"identity": {"firstName": "Aino", "lastName": "Virtanen", "email": "aino@example.fi"},
		"intent": {"accountPurpose": "savings", "preferredJurisdictions": ["finland"]},
		"consents": {"terms": true, "privacy": true, "marketing": false}
	}
}`

func TestNewHandler(t *testing.T) {
	tests := []struct {
		name    string
		opts    HandlerOptions
		wantErr string
	}{
		{name: "defaults", opts: HandlerOptions{Router: &MockRouter{}}},
		{name: "missing router", opts: HandlerOptions{}, wantErr: "router is required"},
		{
			name:    "invalid timeout",
			opts:    HandlerOptions{Router: &MockRouter{}, Config: &Config{Enabled: true, MaxJobsActive: 1}},
			wantErr: "timeout must be positive",
		},
		{
			name:    "invalid max jobs",
			opts:    HandlerOptions{Router: &MockRouter{}, Config: &Config{Enabled: true, Timeout: time.Second}},
			wantErr: "max_jobs_active must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := NewHandler(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, h)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TaskType, h.TaskType())
		})
	}
}

func TestParseInput(t *testing.T) {
	input, err := ParseInput(applicationVars)
	require.NoError(t, err)
	require.NotNil(t, input.Application)
	assert.Equal(t, "U123", input.Application.UserRef)
	assert.Equal(t, []string{"finland"}, input.Application.RelevantJurisdictions())

	_, err = ParseInput(`{"processStage": "routing"}`)
	assert.Equal(t, errors.ErrCodeInvalidApplication, errors.CodeOf(err))

	_, err = ParseInput(`not json`)
	assert.Equal(t, errors.ErrCodeInvalidApplication, errors.CodeOf(err))
}

func TestExecute(t *testing.T) {
	router := &MockRouter{}
	routing := models.ReferralRouting{
		Partner:     models.PartnerNarvi,
		RedirectURL: "https://onboarding.narvi.example/opz?sig=abc",
		SignedPayload: models.SignedPayload{
			Claims: models.Claims{Ref: models.ClaimRef, Partner: models.PartnerNarvi, UserRef: "U123", Ts: 1700000000000, Scope: models.ClaimScope},
			Sig:    "abc",
		},
	}
	router.On("RequestRouting", mock.Anything, mock.MatchedBy(func(app models.Application) bool {
		return app.UserRef == "U123"
	})).Return(routing, nil)

	h, err := NewHandler(HandlerOptions{Router: router, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)

	input, err := ParseInput(applicationVars)
	require.NoError(t, err)

	out, err := h.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, models.PartnerNarvi, out.Partner)

	vars := out.Variables()
	assert.Equal(t, "narvi", vars["partner"])
	assert.Equal(t, routing.RedirectURL, vars["redirectUrl"])
	assert.Equal(t, routing.SignedPayload, vars["signedPayload"])
	router.AssertExpectations(t)
}

func TestExecute_SigningFailure(t *testing.T) {
	router := &MockRouter{}
	router.On("RequestRouting", mock.Anything, mock.Anything).
		Return(models.ReferralRouting{}, errors.NewReferralSigningFailedError("narvi", assert.AnError))

	h, err := NewHandler(HandlerOptions{Router: router})
	require.NoError(t, err)

	input, err := ParseInput(applicationVars)
	require.NoError(t, err)

	_, err = h.Execute(context.Background(), input)
	require.Error(t, err)
	bpmn := errors.ConvertToBPMNError(errors.Normalize(err))
	assert.Equal(t, string(errors.ErrCodeReferralSigningFailed), bpmn.Code)
	assert.Zero(t, bpmn.Retries)
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(nil)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = ConfigFrom(&config.Config{Workers: map[string]config.WorkerConfig{
		WorkerName: {Enabled: false, MaxJobsActive: 12, Timeout: 2500},
	}})
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 12, cfg.MaxJobsActive)
	assert.Equal(t, 2500*time.Millisecond, cfg.Timeout)
}
