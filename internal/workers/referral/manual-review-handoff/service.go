package manualreviewhandoff

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/zoho"
)

// CRM is the part of the Zoho client the handoff uses.
type CRM interface {
	SearchContacts(ctx context.Context, email string) ([]zoho.Contact, error)
	CreateContact(ctx context.Context, contact *zoho.Contact) (string, error)
}

type Service struct {
	crm        CRM
	leadSource string
	logger     logger.Logger
}

func NewService(crm CRM, leadSource string, log logger.Logger) *Service {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Service{crm: crm, leadSource: leadSource, logger: log}
}

// Execute hands an applicant to the review team. An existing contact with the
// same email is reused.
func (s *Service) Execute(ctx context.Context, input *Input) (*Output, error) {
	existing, err := s.crm.SearchContacts(ctx, input.Email)
	if err != nil {
		return nil, crmError(err)
	}
	for _, c := range existing {
		if strings.EqualFold(c.Email, input.Email) && c.ID != "" {
			s.logger.Info("manual review contact already exists", map[string]interface{}{
				"userRef":   input.UserRef,
				"contactId": c.ID,
			})
			return &Output{ContactID: c.ID, Created: false}, nil
		}
	}

	id, err := s.crm.CreateContact(ctx, &zoho.Contact{
		Email:       input.Email,
		FirstName:   input.FirstName,
		LastName:    input.LastName,
		Phone:       input.Phone,
		AccountName: input.CompanyName,
		Source:      s.leadSource,
		Description: fmt.Sprintf("Manual review of %s application %s", input.Mode, input.UserRef),
	})
	if err != nil {
		return nil, crmError(err)
	}

	s.logger.Info("manual review contact created", map[string]interface{}{
		"userRef":   input.UserRef,
		"contactId": id,
	})
	return &Output{ContactID: id, Created: true}, nil
}

// crmError keeps 4xx answers from being retried.
func crmError(err error) error {
	var statusErr *zoho.StatusError
	if stderrors.As(err, &statusErr) && !statusErr.Temporary() {
		stdErr := errors.NewCRMAPIError(err)
		stdErr.Retryable = false
		return stdErr
	}
	return errors.NewCRMAPIError(err)
}
