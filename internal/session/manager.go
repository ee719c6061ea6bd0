// Package session keeps the live funnel machines of the HTTP API and
// dispatches finished funnels to partner routing or the backend.
package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"opz-funnels/internal/common/errors"
	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/draft"
	"opz-funnels/internal/funnel"
	"opz-funnels/internal/funnel/flows"
	"opz-funnels/internal/models"
	"opz-funnels/internal/submission"
)

// Router is the referral boundary partner flows submit through.
type Router interface {
	RequestRouting(ctx context.Context, app models.Application) (models.ReferralRouting, error)
}

// Result is the outcome of a submit. Exactly one of Routing and Submission is set.
type Result struct {
	Flow       string                  `json:"flow"`
	UserRef    string                  `json:"userRef"`
	Routing    *models.ReferralRouting `json:"routing,omitempty"`
	Submission *submission.Result      `json:"submission,omitempty"`
}

type Options struct {
	Registry  *flows.Registry
	Store     draft.Store
	KeyPrefix string
	Router    Router
	Backend   submission.Submitter
	Logger    logger.Logger
}

type entry struct {
	machine  *funnel.Machine
	lastSeen time.Time
}

type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	registry  *flows.Registry
	store     draft.Store
	keyPrefix string
	router    Router
	backend   submission.Submitter
	logger    logger.Logger
	now       func() time.Time
}

func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Manager{
		sessions:  make(map[string]*entry),
		registry:  opts.Registry,
		store:     opts.Store,
		keyPrefix: opts.KeyPrefix,
		router:    opts.Router,
		backend:   opts.Backend,
		logger:    log,
		now:       time.Now,
	}
}

// Flows lists the registered flow names.
func (m *Manager) Flows() []string {
	return m.registry.Types()
}

func sessionKey(flow, id string) string {
	return flow + "/" + id
}

func (m *Manager) definition(flow string) (*funnel.Definition, error) {
	def, ok := m.registry.Get(flow)
	if !ok {
		return nil, errors.NewUnsupportedFlowError(flow)
	}
	return def, nil
}

func (m *Manager) options(id, userRef string) funnel.Options {
	return funnel.Options{
		SessionID: id,
		UserRef:   userRef,
		Store:     m.store,
		KeyPrefix: m.keyPrefix,
		Logger:    m.logger,
	}
}

// Create starts a new instance of flow with a fresh session id and userRef
// and saves its initial draft.
func (m *Manager) Create(ctx context.Context, flow string) (string, *funnel.Machine, error) {
	def, err := m.definition(flow)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	machine := funnel.New(def, m.options(id, uuid.New().String()))
	machine.Save(ctx)

	m.mu.Lock()
	m.sessions[sessionKey(flow, id)] = &entry{machine: machine, lastSeen: m.now()}
	metrics.FunnelSessionsActive.Set(float64(len(m.sessions)))
	m.mu.Unlock()

	m.logger.Info("funnel session created", map[string]interface{}{
		"flow":      flow,
		"sessionId": id,
	})
	return id, machine, nil
}

// Get returns a live session, resuming it from its draft when it is not held
// in memory.
func (m *Manager) Get(ctx context.Context, flow, id string) (*funnel.Machine, error) {
	def, err := m.definition(flow)
	if err != nil {
		return nil, err
	}
	key := sessionKey(flow, id)

	m.mu.RLock()
	e, ok := m.sessions[key]
	m.mu.RUnlock()
	if ok {
		m.touch(key)
		return e.machine, nil
	}

	machine, err := funnel.Resume(ctx, def, m.options(id, ""))
	if stderrors.Is(err, funnel.ErrNoDraft) {
		return nil, errors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, errors.NewExternalServiceError("draft store", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[key]; ok {
		existing.lastSeen = m.now()
		return existing.machine, nil
	}
	m.sessions[key] = &entry{machine: machine, lastSeen: m.now()}
	metrics.FunnelSessionsActive.Set(float64(len(m.sessions)))
	m.logger.Info("funnel session resumed", map[string]interface{}{
		"flow":      flow,
		"sessionId": id,
		"step":      machine.Current().ID,
	})
	return machine, nil
}

func (m *Manager) touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.sessions[key]; ok {
		e.lastSeen = m.now()
	}
}

// Submit finalizes the session. Partner flows are routed through the
// referral boundary, the rest are posted to the backend. A failed delivery
// leaves the session open so the user can retry.
func (m *Manager) Submit(ctx context.Context, flow, id string) (*Result, error) {
	machine, err := m.Get(ctx, flow, id)
	if err != nil {
		return nil, err
	}
	def := machine.Definition()

	var result *Result
	err = machine.Submit(ctx, func(ctx context.Context, inst funnel.Instance) error {
		payload, err := def.Extract(inst.UserRef, inst.Data)
		if err != nil {
			return errors.NewBusinessRuleError("Could not build application", err.Error())
		}
		result, err = m.deliver(ctx, def, inst, payload)
		return err
	})

	switch {
	case err == nil:
		metrics.FunnelSubmissions.WithLabelValues(flow, "submitted").Inc()
		return result, nil
	case stderrors.Is(err, funnel.ErrSubmitted):
		return nil, errors.NewFunnelSubmittedError(id)
	case stderrors.Is(err, funnel.ErrIncomplete):
		metrics.FunnelSubmissions.WithLabelValues(flow, "incomplete").Inc()
		return nil, errors.NewFunnelIncompleteError(machine.Current().ID)
	default:
		metrics.FunnelSubmissions.WithLabelValues(flow, "failed").Inc()
		m.logger.Error("funnel submission failed", map[string]interface{}{
			"flow":      flow,
			"sessionId": id,
			"error":     err,
		})
		return nil, err
	}
}

func (m *Manager) deliver(ctx context.Context, def *funnel.Definition, inst funnel.Instance, payload interface{}) (*Result, error) {
	result := &Result{Flow: def.Type, UserRef: inst.UserRef}

	switch def.Target {
	case funnel.TargetPartner:
		app, ok := payload.(models.Application)
		if !ok {
			return nil, fmt.Errorf("flow %s produced %T, want models.Application", def.Type, payload)
		}
		if m.router == nil {
			return nil, errors.NewReferralSigningFailedError("", fmt.Errorf("referral routing is not configured"))
		}
		routing, err := m.router.RequestRouting(ctx, app)
		if err != nil {
			return nil, err
		}
		result.Routing = &routing

	case funnel.TargetBackend:
		if m.backend == nil {
			return nil, errors.NewBackendSubmissionFailedError(def.Type, false, fmt.Errorf("backend submission is not configured"))
		}
		res, err := m.backend.Submit(ctx, def.Type, inst.UserRef, payload)
		if err != nil {
			return nil, err
		}
		result.Submission = res

	default:
		return nil, fmt.Errorf("flow %s has unknown target %q", def.Type, def.Target)
	}
	return result, nil
}

// Reset clears the session's draft and restarts it at step 1.
func (m *Manager) Reset(ctx context.Context, flow, id string) (*funnel.Machine, error) {
	machine, err := m.Get(ctx, flow, id)
	if err != nil {
		return nil, err
	}
	machine.Reset(ctx)
	machine.Save(ctx)
	return machine, nil
}

// Sweep drops sessions idle for longer than maxIdle from memory. Their drafts
// stay in the store and are resumed on the next Get.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.sessions {
		if e.lastSeen.Before(cutoff) {
			delete(m.sessions, key)
			removed++
		}
	}
	metrics.FunnelSessionsActive.Set(float64(len(m.sessions)))
	return removed
}

// Len returns the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
