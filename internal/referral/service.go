package referral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"opz-funnels/internal/audit"
	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/common/observability"
	"opz-funnels/internal/models"
	"opz-funnels/internal/notify"
	"opz-funnels/internal/routing"
)

// Callback is the body partners post when an onboarding ends.
type Callback struct {
	UserRef string                `json:"userRef"`
	Status  models.ReferralStatus `json:"status"`
	Error   string                `json:"error,omitempty"`
}

type Options struct {
	Signer        *Signer
	Audit         audit.Log
	AuditBackend  string
	Notifier      notify.Notifier
	Observability *observability.Observability
	Logger        logger.Logger
	Now           func() time.Time
}

// Service is the trusted boundary that determines, signs and records referrals.
type Service struct {
	signer       *Signer
	audit        audit.Log
	auditBackend string
	notifier     notify.Notifier
	obs          *observability.Observability
	logger       logger.Logger
	now          func() time.Time
}

func NewService(opts Options) *Service {
	s := &Service{
		signer:       opts.Signer,
		audit:        opts.Audit,
		auditBackend: opts.AuditBackend,
		notifier:     opts.Notifier,
		obs:          opts.Observability,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.obs == nil {
		s.obs = observability.NewNoop()
	}
	if s.logger == nil {
		s.logger = logger.NewNoOpLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.auditBackend == "" {
		s.auditBackend = "memory"
	}
	return s
}

// RequestRouting determines the partner for app, signs the referral and
// records a CLICKED entry. Signing failures record a FAILED entry and return
// REFERRAL_SIGNING_FAILED. Audit and notification failures after a successful
// signature are logged only.
func (s *Service) RequestRouting(ctx context.Context, app models.Application) (models.ReferralRouting, error) {
	if err := app.Validate(); err != nil {
		return models.ReferralRouting{}, errors.NewInvalidApplicationError(err.Error())
	}
	if err := ctx.Err(); err != nil {
		return models.ReferralRouting{}, err
	}

	start := s.now()
	partner := routing.DeterminePartner(app)

	ctx, span := s.obs.StartSpan(ctx, "referral.route",
		attribute.String("mode", string(app.Mode)),
		attribute.String("partner", string(partner)),
	)
	defer span.End()

	log := s.logger.WithFields(map[string]interface{}{
		"userRef": app.UserRef,
		"mode":    app.Mode,
		"partner": partner,
	})

	result, err := s.signer.Route(partner, app.UserRef, start)
	if err != nil {
		metrics.ReferralSigningFailures.WithLabelValues(string(partner)).Inc()
		metrics.ReferralsRouted.WithLabelValues(string(partner), string(models.ReferralFailed)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "signing failed")
		log.Error("referral signing failed", map[string]interface{}{"error": err})

		s.record(ctx, s.entry(app, partner, models.ReferralFailed, err.Error()))
		s.obs.RecordRouting(ctx, string(partner), string(models.ReferralFailed), s.now().Sub(start))
		return models.ReferralRouting{}, errors.NewReferralSigningFailedError(string(partner), err)
	}

	s.record(ctx, s.entry(app, partner, models.ReferralClicked, ""))
	metrics.ReferralsRouted.WithLabelValues(string(partner), string(models.ReferralClicked)).Inc()
	s.obs.RecordRouting(ctx, string(partner), string(models.ReferralClicked), s.now().Sub(start))

	log.Info("referral routed", map[string]interface{}{
		"redirect": result.RedirectURL != "",
	})
	return result, nil
}

// RecordOutcome appends the COMPLETED or FAILED entry of a partner callback.
// The application snapshot is copied from the user's latest entry with that
// partner.
func (s *Service) RecordOutcome(ctx context.Context, partner models.Partner, cb Callback) error {
	if !partner.Valid() || partner == models.PartnerManualReview {
		return errors.NewBusinessRuleError("Unknown referral partner", fmt.Sprintf("partner: %s", partner))
	}
	if cb.Status != models.ReferralCompleted && cb.Status != models.ReferralFailed {
		return errors.NewBusinessRuleError("Invalid referral outcome", fmt.Sprintf("status: %s", cb.Status))
	}

	history, err := s.audit.ForUser(ctx, cb.UserRef)
	if err != nil {
		return errors.NewAuditReadFailedError(err)
	}
	var latest *models.ReferralEntry
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Partner == partner {
			latest = &history[i]
			break
		}
	}
	if latest == nil {
		return errors.NewResourceNotFoundError("referral audit log",
			fmt.Sprintf("no referral for userRef %s with partner %s", cb.UserRef, partner))
	}

	entry := s.entry(latest.Application, partner, cb.Status, cb.Error)
	if err := s.audit.Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.WithLabelValues(s.auditBackend).Inc()
		return errors.NewAuditWriteFailedError(err)
	}
	metrics.ReferralsRouted.WithLabelValues(string(partner), string(cb.Status)).Inc()
	s.notify(ctx, entry)

	s.logger.Info("referral outcome recorded", map[string]interface{}{
		"userRef": cb.UserRef,
		"partner": partner,
		"status":  cb.Status,
	})
	return nil
}

// VerifyCallback checks the X-Signature of a raw callback body and decodes it.
func (s *Service) VerifyCallback(partner models.Partner, body []byte, sig string) (Callback, error) {
	secret, ok := s.signer.CallbackSecret(partner)
	if !ok || !VerifyBody(body, sig, secret) {
		return Callback{}, errors.NewCallbackSignatureInvalidError(string(partner))
	}

	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil || cb.UserRef == "" {
		return Callback{}, errors.NewBusinessRuleError("Invalid callback body", "userRef and status are required")
	}
	return cb, nil
}

// History returns the audit log, or one user's part of it.
func (s *Service) History(ctx context.Context, userRef string) ([]models.ReferralEntry, error) {
	var (
		entries []models.ReferralEntry
		err     error
	)
	if userRef == "" {
		entries, err = s.audit.History(ctx)
	} else {
		entries, err = s.audit.ForUser(ctx, userRef)
	}
	if err != nil {
		return nil, errors.NewAuditReadFailedError(err)
	}
	return entries, nil
}

func (s *Service) entry(app models.Application, partner models.Partner, status models.ReferralStatus, reason string) models.ReferralEntry {
	return models.ReferralEntry{
		UserRef:     app.UserRef,
		Partner:     partner,
		Mode:        app.Mode,
		Status:      status,
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		Application: app,
		Error:       reason,
	}
}

// record appends best effort and notifies on success.
func (s *Service) record(ctx context.Context, entry models.ReferralEntry) {
	if err := s.audit.Append(ctx, entry); err != nil {
		metrics.AuditWriteFailures.WithLabelValues(s.auditBackend).Inc()
		s.logger.Error("referral audit write failed", map[string]interface{}{
			"userRef": entry.UserRef,
			"status":  entry.Status,
			"backend": s.auditBackend,
			"error":   err,
		})
		return
	}
	s.notify(ctx, entry)
}

func (s *Service) notify(ctx context.Context, entry models.ReferralEntry) {
	if err := s.notifier.ReferralRecorded(ctx, entry); err != nil {
		s.logger.Warn("referral notification failed", map[string]interface{}{
			"userRef": entry.UserRef,
			"error":   err,
		})
	}
}
