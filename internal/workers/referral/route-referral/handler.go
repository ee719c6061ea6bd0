// Package routereferral is the Zeebe worker that routes a finalized
// application to its banking partner from a BPMN process.
package routereferral

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/common/observability"
	"opz-funnels/internal/models"
)

const TaskType = "referral.route"

// Router is the referral boundary the worker delegates to.
type Router interface {
	RequestRouting(ctx context.Context, app models.Application) (models.ReferralRouting, error)
}

type Handler struct {
	config       *Config
	router       Router
	logger       logger.Logger
	errorHandler *errors.ErrorHandler
	obs          *observability.Observability
}

type HandlerOptions struct {
	Config        *Config
	Router        Router
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
	if opts.Router == nil {
		return nil, fmt.Errorf("%s: router is required", WorkerName)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	obs := opts.Observability
	if obs == nil {
		obs = observability.NewNoop()
	}

	return &Handler{
		config:       cfg,
		router:       opts.Router,
		logger:       log.WithFields(map[string]interface{}{"worker": TaskType}),
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

	h.logger.Info("processing referral routing job", map[string]interface{}{
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

	if err := h.complete(ctx, client, job, output); err != nil {
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
	input, err := ParseInput(job.GetVariables())
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, input)
}

// Execute routes the application of input.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	routing, err := h.router.RequestRouting(ctx, *input.Application)
	if err != nil {
		return nil, err
	}
	return &Output{
		Partner:       routing.Partner,
		RedirectURL:   routing.RedirectURL,
		SignedPayload: routing.SignedPayload,
	}, nil
}

// ParseInput decodes the job variables. Process variables other than
// application are ignored.
func ParseInput(variables string) (*Input, error) {
	var input Input
	if err := json.Unmarshal([]byte(variables), &input); err != nil {
		return nil, errors.NewInvalidApplicationError(fmt.Sprintf("job variables: %v", err))
	}
	if input.Application == nil {
		return nil, errors.NewInvalidApplicationError("application variable is required")
	}
	return &input, nil
}

func (h *Handler) complete(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) error {
	cmd, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(output.Variables())
	if err != nil {
		return fmt.Errorf("build complete command: %w", err)
	}
	if _, err := cmd.Send(ctx); err != nil {
		return fmt.Errorf("send complete command: %w", err)
	}

	h.logger.Info("referral routing job completed", map[string]interface{}{
		"jobKey":  job.GetKey(),
		"partner": output.Partner,
	})
	return nil
}

func (h *Handler) TaskType() string { return TaskType }

func (h *Handler) Config() *Config { return h.config }
