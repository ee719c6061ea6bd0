package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/models"
)

type mockSNS struct {
	PublishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	return m.PublishFunc(ctx, params, optFns...)
}

type mockSES struct {
	SendEmailFunc func(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

func (m *mockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	return m.SendEmailFunc(ctx, params, optFns...)
}

var testConfig = Config{
	TopicARN:  "arn:aws:sns:eu-north-1:123456789012:opz-referrals",
	FromEmail: "no-reply@opz.example",
	OpsEmail:  "ops@opz.example",
}

func manualEntry() models.ReferralEntry {
	return models.ReferralEntry{
		UserRef:   "B42",
		Partner:   models.PartnerManualReview,
		Mode:      models.ModeBusiness,
		Status:    models.ReferralClicked,
		Timestamp: "2026-10-14T09:00:00Z",
		Application: models.Application{
			UserRef: "B42",
			Mode:    models.ModeBusiness,
			Business: &models.BusinessApplication{
				Company:       models.Company{Name: "Tallinn OÜ"},
				Jurisdictions: []string{"estonia"},
				Contact:       models.Contact{FirstName: "Mari", LastName: "Tamm", Email: "mari@example.ee"},
			},
		},
	}
}

func TestReferralRecorded_PublishesEvent(t *testing.T) {
	var published *sns.PublishInput
	n := NewAWSNotifier(testConfig, &mockSNS{
		PublishFunc: func(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
			published = params
			return &sns.PublishOutput{}, nil
		},
	}, nil, logger.NewTestLogger(t))

	entry := manualEntry()
	entry.Partner = models.PartnerNarvi
	require.NoError(t, n.ReferralRecorded(context.Background(), entry))

	require.NotNil(t, published)
	assert.Equal(t, testConfig.TopicARN, *published.TopicArn)
	assert.Equal(t, "narvi", *published.MessageAttributes["partner"].StringValue)

	var event Event
	require.NoError(t, json.Unmarshal([]byte(*published.Message), &event))
	assert.Equal(t, EventReferralRecorded, event.Type)
	assert.Equal(t, "B42", event.UserRef)
	assert.NotEmpty(t, event.EventID)
}

func TestReferralRecorded_ManualReviewMail(t *testing.T) {
	var sent *ses.SendEmailInput
	n := NewAWSNotifier(testConfig, nil, &mockSES{
		SendEmailFunc: func(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			sent = params
			return &ses.SendEmailOutput{}, nil
		},
	}, logger.NewTestLogger(t))

	require.NoError(t, n.ReferralRecorded(context.Background(), manualEntry()))
	require.NotNil(t, sent)
	assert.Equal(t, []string{"ops@opz.example"}, sent.Destination.ToAddresses)
	assert.Contains(t, *sent.Message.Subject.Data, "B42")
	assert.Contains(t, *sent.Message.Body.Text.Data, "Tallinn OÜ")
	assert.Contains(t, *sent.Message.Body.Text.Data, "estonia")
}

func TestReferralRecorded_NoMailForPartnerOrOutcome(t *testing.T) {
	calls := 0
	n := NewAWSNotifier(testConfig, nil, &mockSES{
		SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			calls++
			return &ses.SendEmailOutput{}, nil
		},
	}, nil)

	partner := manualEntry()
	partner.Partner = models.PartnerOlky
	require.NoError(t, n.ReferralRecorded(context.Background(), partner))

	failed := manualEntry()
	failed.Status = models.ReferralFailed
	require.NoError(t, n.ReferralRecorded(context.Background(), failed))

	assert.Equal(t, 0, calls)
}

func TestReferralRecorded_Failures(t *testing.T) {
	mailed := false
	n := NewAWSNotifier(testConfig, &mockSNS{
		PublishFunc: func(context.Context, *sns.PublishInput, ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, fmt.Errorf("throttled")
		},
	}, &mockSES{
		SendEmailFunc: func(context.Context, *ses.SendEmailInput, ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
			mailed = true
			return nil, fmt.Errorf("sandbox")
		},
	}, logger.NewTestLogger(t))

	err := n.ReferralRecorded(context.Background(), manualEntry())
	require.Error(t, err)
	assert.True(t, mailed, "mail is attempted after a publish failure")
	assert.Equal(t, errors.ErrCodeNotificationSendFailed, errors.CodeOf(err))
	stdErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Contains(t, stdErr.Details, "channel: sns")
	assert.True(t, stdErr.Retryable)
}

func TestManualReviewMail_Personal(t *testing.T) {
	entry := models.ReferralEntry{
		UserRef: "U9",
		Mode:    models.ModePersonal,
		Application: models.Application{
			UserRef: "U9",
			Mode:    models.ModePersonal,
			Personal: &models.PersonalApplication{
				Identity: models.Identity{FirstName: "Aino", LastName: "Virtanen", Email: "aino@example.fi", Phone: "+358401234567"},
			},
		},
	}
	subject, body := ManualReviewMail(entry)
	assert.Equal(t, "Manual review: personal application U9", subject)
	assert.Contains(t, body, "Phone: +358401234567")
	assert.Contains(t, body, "Jurisdictions: none selected")
	assert.NotContains(t, body, "Company:")
}
