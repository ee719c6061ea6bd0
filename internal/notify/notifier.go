// Package notify publishes referral events to SNS and mails the operations
// team about applications that need manual review.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/google/uuid"

	awsclient "opz-funnels/internal/common/aws"
	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/models"
)

const EventReferralRecorded = "referral.recorded"

// Notifier is told about every audit entry the referral service writes.
type Notifier interface {
	ReferralRecorded(ctx context.Context, entry models.ReferralEntry) error
}

// Nop drops every notification.
type Nop struct{}

func (Nop) ReferralRecorded(context.Context, models.ReferralEntry) error { return nil }

// Event is the SNS message body.
type Event struct {
	EventID   string                `json:"eventId"`
	Type      string                `json:"type"`
	UserRef   string                `json:"userRef"`
	Partner   models.Partner        `json:"partner"`
	Mode      models.Mode           `json:"mode"`
	Status    models.ReferralStatus `json:"status"`
	Timestamp string                `json:"timestamp"`
	Error     string                `json:"error,omitempty"`
}

type Config struct {
	TopicARN  string
	FromEmail string
	OpsEmail  string
}

// AWSNotifier sends through SNS and SES. Either client may be nil to switch
// that channel off.
type AWSNotifier struct {
	cfg    Config
	sns    awsclient.SNSAPI
	ses    awsclient.SESAPI
	logger logger.Logger
}

func NewAWSNotifier(cfg Config, snsClient awsclient.SNSAPI, sesClient awsclient.SESAPI, log logger.Logger) *AWSNotifier {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &AWSNotifier{cfg: cfg, sns: snsClient, ses: sesClient, logger: log}
}

// ReferralRecorded publishes the event and, for new manual-review entries,
// sends the ops mail. The first failure is returned after both channels ran.
func (n *AWSNotifier) ReferralRecorded(ctx context.Context, entry models.ReferralEntry) error {
	var firstErr error

	if n.sns != nil && n.cfg.TopicARN != "" {
		if err := n.publish(ctx, entry); err != nil {
			n.logger.Error("referral event publish failed", map[string]interface{}{
				"userRef": entry.UserRef,
				"error":   err,
			})
			firstErr = errors.NewNotificationSendFailedError("sns", err)
		}
	}

	if n.ses != nil && entry.Partner == models.PartnerManualReview && entry.Status == models.ReferralClicked {
		if err := n.mailManualReview(ctx, entry); err != nil {
			n.logger.Error("manual review mail failed", map[string]interface{}{
				"userRef": entry.UserRef,
				"error":   err,
			})
			if firstErr == nil {
				firstErr = errors.NewNotificationSendFailedError("ses", err)
			}
		}
	}

	return firstErr
}

func (n *AWSNotifier) publish(ctx context.Context, entry models.ReferralEntry) error {
	body, err := json.Marshal(Event{
		EventID:   uuid.New().String(),
		Type:      EventReferralRecorded,
		UserRef:   entry.UserRef,
		Partner:   entry.Partner,
		Mode:      entry.Mode,
		Status:    entry.Status,
		Timestamp: entry.Timestamp,
		Error:     entry.Error,
	})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	_, err = n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.cfg.TopicARN),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"partner": {DataType: aws.String("String"), StringValue: aws.String(string(entry.Partner))},
			"status":  {DataType: aws.String("String"), StringValue: aws.String(string(entry.Status))},
		},
	})
	return err
}

func (n *AWSNotifier) mailManualReview(ctx context.Context, entry models.ReferralEntry) error {
	if n.cfg.OpsEmail == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("ops or sender address not configured")
	}

	subject, body := ManualReviewMail(entry)
	_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{n.cfg.OpsEmail},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.cfg.FromEmail),
	})
	return err
}

// ManualReviewMail renders the ops mail for an application no partner takes.
func ManualReviewMail(entry models.ReferralEntry) (string, string) {
	app := entry.Application
	first, last, email, phone := app.ContactDetails()

	subject := fmt.Sprintf("Manual review: %s application %s", entry.Mode, entry.UserRef)

	var b strings.Builder
	fmt.Fprintf(&b, "A new %s application needs manual review.\n\n", entry.Mode)
	fmt.Fprintf(&b, "Reference: %s\n", entry.UserRef)
	fmt.Fprintf(&b, "Received: %s\n", entry.Timestamp)
	fmt.Fprintf(&b, "Contact: %s %s\n", first, last)
	fmt.Fprintf(&b, "Email: %s\n", email)
	if phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", phone)
	}
	if company := app.CompanyName(); company != "" {
		fmt.Fprintf(&b, "Company: %s\n", company)
	}
	jurisdictions := app.RelevantJurisdictions()
	if len(jurisdictions) == 0 {
		b.WriteString("Jurisdictions: none selected\n")
	} else {
		fmt.Fprintf(&b, "Jurisdictions: %s\n", strings.Join(jurisdictions, ", "))
	}
	return subject, b.String()
}
