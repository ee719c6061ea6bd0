// Package manualreviewhandoff creates a Zoho CRM contact for applicants no
// partner takes, so the operations team can follow up.
package manualreviewhandoff

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/common/observability"
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/common/zoho"
)

const TaskType = "referral.manual-review.handoff"

type Handler struct {
	config       *Config
	service      *Service
	validator    *validation.FieldValidator
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	Config *Config
	// CRM overrides the Zoho client built from Config.
	CRM           CRM
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", WorkerName, err)
	}

	validator, err := validation.NewFieldValidator(inputFields)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", WorkerName, err)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	log = log.WithFields(map[string]interface{}{"worker": TaskType})

	obs := opts.Observability
	if obs == nil {
		obs = observability.NewNoop()
	}

	crm := opts.CRM
	if crm == nil {
		crm = zoho.NewCRMClient(cfg.ZohoBaseURL, cfg.ZohoOAuthToken)
	}

	return &Handler{
		config:       cfg,
		service:      NewService(crm, cfg.LeadSource, log),
		validator:    validator,
		logger:       log,
		errorHandler: errors.NewErrorHandler(log),
		obs:          obs,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing manual review handoff", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	output, err := h.process(ctx, job)
	if err != nil {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
		h.obs.RecordJobProcessed(ctx, "failed")
		h.obs.RecordJobDuration(ctx, time.Since(start), "failed")
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(map[string]interface{}{
		"contactId": output.ContactID,
		"created":   output.Created,
	})
	if err == nil {
		_, err = cmd.Send(ctx)
	}
	if err != nil {
		h.logger.Error("failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err,
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	h.obs.RecordJobProcessed(ctx, "completed")
	h.obs.RecordJobDuration(ctx, time.Since(start), "completed")
}

func (h *Handler) process(ctx context.Context, job entities.Job) (*Output, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewBusinessRuleError("Failed to parse job variables", err.Error())
	}
	input, err := h.ParseInput(variables)
	if err != nil {
		return nil, err
	}
	return h.service.Execute(ctx, input)
}

// ParseInput validates the handoff variables. Other process variables are
// ignored.
func (h *Handler) ParseInput(variables map[string]interface{}) (*Input, error) {
	known := make(map[string]interface{}, len(inputFields))
	for name := range inputFields {
		if v, ok := variables[name]; ok && v != nil {
			known[name] = v
		}
	}

	var missing []string
	for _, name := range requiredFields {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.NewBusinessRuleError("Input validation failed", "missing: "+strings.Join(missing, ", "))
	}

	if result := h.validator.ValidatePartial(known); !result.Valid {
		return nil, errors.NewBusinessRuleError("Input validation failed", strings.Join(result.GetErrorMessages(), "; "))
	}

	str := func(name string) string {
		s, _ := known[name].(string)
		return s
	}
	return &Input{
		UserRef:     str("userRef"),
		Mode:        str("mode"),
		Email:       str("email"),
		FirstName:   str("firstName"),
		LastName:    str("lastName"),
		Phone:       str("phone"),
		CompanyName: str("companyName"),
	}, nil
}

func (h *Handler) TaskType() string { return TaskType }

func (h *Handler) Config() *Config { return h.config }
