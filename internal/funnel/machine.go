package funnel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"opz-funnels/internal/common/logger"
	"opz-funnels/internal/common/metrics"
	"opz-funnels/internal/common/validation"
	"opz-funnels/internal/draft"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidField = errors.New("invalid field value")
	ErrSubmitted    = errors.New("funnel already submitted")
	ErrIncomplete   = errors.New("funnel is not complete")
	ErrNoDraft      = errors.New("no saved draft")
)

// StorageWarning is shown once when persistence is switched off for a session.
const StorageWarning = "Your progress cannot be saved on this device. You can continue, but it will be lost if you leave."

// Instance is a snapshot of one funnel.
type Instance struct {
	SessionID        string `json:"sessionId"`
	Type             string `json:"flow"`
	UserRef          string `json:"userRef"`
	CurrentStepIndex int    `json:"currentStepIndex"`
	Data             Data   `json:"data"`
	Submitted        bool   `json:"submitted"`
}

// Options wires a machine to its persistence.
type Options struct {
	SessionID string
	UserRef   string
	Store     draft.Store
	KeyPrefix string
	Logger    logger.Logger
}

// Machine owns one funnel instance. All methods are safe for concurrent use.
type Machine struct {
	mu     sync.Mutex
	def    *Definition
	inst   Instance
	store  draft.Store
	key    string
	logger logger.Logger

	memoryOnly     bool
	warningPending bool
}

// New starts a funnel at step 1 with the flow's default data. Nothing is
// persisted until the first mutation or Save.
func New(def *Definition, opts Options) *Machine {
	m := newMachine(def, opts)
	m.inst.Data = def.Defaults()
	return m
}

// Resume restores a machine from its draft. Missing, malformed and submitted
// drafts return ErrNoDraft.
func Resume(ctx context.Context, def *Definition, opts Options) (*Machine, error) {
	m := newMachine(def, opts)
	if m.store == nil {
		return nil, ErrNoDraft
	}

	d, err := draft.Load(ctx, m.store, m.key)
	switch {
	case errors.Is(err, draft.ErrNotFound):
		return nil, ErrNoDraft
	case errors.Is(err, draft.ErrMalformed):
		m.logger.Warn("discarding malformed draft", map[string]interface{}{
			"key":   m.key,
			"error": err,
		})
		return nil, ErrNoDraft
	case err != nil:
		return nil, fmt.Errorf("load draft: %w", err)
	}
	if d.Submitted {
		m.logger.Info("draft already submitted", map[string]interface{}{"key": m.key})
		return nil, ErrNoDraft
	}

	data := def.Defaults()
	for k, v := range d.Data {
		if def.validator.Known(k) {
			data[k] = v
		}
	}
	m.inst.Data = data
	m.inst.CurrentStepIndex = clamp(d.CurrentStepIndex, 1, def.Len())
	if d.UserRef != "" {
		m.inst.UserRef = d.UserRef
	}
	return m, nil
}

func newMachine(def *Definition, opts Options) *Machine {
	log := opts.Logger
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Machine{
		def: def,
		inst: Instance{
			SessionID:        opts.SessionID,
			Type:             def.Type,
			UserRef:          opts.UserRef,
			CurrentStepIndex: 1,
		},
		store: opts.Store,
		key:   draft.Key(opts.KeyPrefix, def.Type, opts.SessionID),
		logger: log.WithFields(map[string]interface{}{
			"flow":      def.Type,
			"sessionId": opts.SessionID,
		}),
		memoryOnly: opts.Store == nil,
	}
}

// Definition returns the flow the machine runs.
func (m *Machine) Definition() *Definition {
	return m.def
}

// Next advances when the current step is valid, honoring its skip rule.
func (m *Machine) Next(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.inst.CurrentStepIndex
	if m.inst.Submitted || cur >= m.def.Len() || !m.def.Step(cur).Valid(m.inst.Data) {
		m.countTransition("next", "rejected")
		return false
	}
	m.moveTo(ctx, m.def.forwardTarget(cur, m.inst.Data), "next")
	return true
}

// Back returns to the previous applicable step.
func (m *Machine) Back(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.inst.CurrentStepIndex
	if m.inst.Submitted || cur <= 1 {
		m.countTransition("back", "rejected")
		return false
	}
	m.moveTo(ctx, m.def.backwardTarget(cur, m.inst.Data), "back")
	return true
}

// GoTo jumps to an earlier step. Forward and unknown targets are rejected.
func (m *Machine) GoTo(ctx context.Context, stepID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	target, ok := m.def.IndexOf(stepID)
	if m.inst.Submitted || !ok || target >= m.inst.CurrentStepIndex {
		m.countTransition("goto", "rejected")
		return false
	}
	m.moveTo(ctx, target, "goto")
	return true
}

func (m *Machine) moveTo(ctx context.Context, target int, direction string) {
	from := m.inst.CurrentStepIndex
	m.inst.CurrentStepIndex = target
	m.countTransition(direction, "moved")
	m.logger.Debug("step changed", map[string]interface{}{
		"from":      from,
		"to":        target,
		"direction": direction,
	})
	m.persist(ctx)
}

// UpdateData shallow-merges partial into the data. Unknown names and values
// that violate the field schema reject the whole update.
func (m *Machine) UpdateData(ctx context.Context, partial map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst.Submitted {
		return ErrSubmitted
	}
	if len(partial) == 0 {
		return nil
	}

	if result := m.def.validator.ValidatePartial(partial); !result.Valid {
		msg := strings.Join(result.GetErrorMessages(), "; ")
		if result.HasCode(validation.CodeExtraField) {
			return fmt.Errorf("%w: %s", ErrUnknownField, msg)
		}
		return fmt.Errorf("%w: %s", ErrInvalidField, msg)
	}

	for k, v := range partial {
		m.inst.Data[k] = v
	}
	m.persist(ctx)
	return nil
}

// CanProceed evaluates the current step's predicate.
func (m *Machine) CanProceed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.def.Step(m.inst.CurrentStepIndex).Valid(m.inst.Data)
}

// Current returns the current step.
func (m *Machine) Current() Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.def.Step(m.inst.CurrentStepIndex)
}

// Snapshot returns a copy of the instance.
func (m *Machine) Snapshot() Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() Instance {
	inst := m.inst
	inst.Data = m.inst.Data.Clone()
	return inst
}

// MemoryOnly reports whether persistence is off for this session.
func (m *Machine) MemoryOnly() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.memoryOnly
}

// TakeStorageWarning returns the storage notice once after persistence failed.
func (m *Machine) TakeStorageWarning() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.warningPending {
		return "", false
	}
	m.warningPending = false
	return StorageWarning, true
}

// Submit delivers the finished instance and marks it submitted when deliver
// succeeds. The funnel must be on its last step with a valid predicate. The
// machine stays locked while deliver runs. A nil deliver only marks.
func (m *Machine) Submit(ctx context.Context, deliver func(context.Context, Instance) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inst.Submitted {
		return ErrSubmitted
	}
	cur := m.inst.CurrentStepIndex
	if cur != m.def.Len() || !m.def.Step(cur).Valid(m.inst.Data) {
		return fmt.Errorf("%w: step %s", ErrIncomplete, m.def.Step(cur).ID)
	}

	if deliver != nil {
		if err := deliver(ctx, m.snapshot()); err != nil {
			return err
		}
	}

	m.inst.Submitted = true
	m.retireDraft(ctx)
	m.logger.Info("funnel submitted", map[string]interface{}{"userRef": m.inst.UserRef})
	return nil
}

// MarkSubmitted is Submit without a delivery step.
func (m *Machine) MarkSubmitted(ctx context.Context) error {
	return m.Submit(ctx, nil)
}

// Reset clears the draft and restarts at step 1 with default data. The
// userRef is kept.
func (m *Machine) Reset(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeDraft(ctx)
	m.inst.Data = m.def.Defaults()
	m.inst.CurrentStepIndex = 1
	m.inst.Submitted = false
	m.countTransition("reset", "moved")
}

// Save persists the current state. Failures switch the session to memory-only.
func (m *Machine) Save(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persist(ctx)
}

func (m *Machine) persist(ctx context.Context) {
	if m.inst.Submitted || m.memoryOnly {
		return
	}

	raw, err := draft.Encode(draft.Draft{
		Data:             m.inst.Data,
		CurrentStepIndex: m.inst.CurrentStepIndex,
		UserRef:          m.inst.UserRef,
	})
	if err == nil {
		err = m.store.Set(ctx, m.key, raw)
	}
	if err != nil {
		m.memoryOnly = true
		m.warningPending = true
		metrics.FunnelStorageWarnings.WithLabelValues(m.def.Type).Inc()
		m.logger.Warn("draft persistence disabled for session", map[string]interface{}{
			"key":        m.key,
			"quotaError": errors.Is(err, draft.ErrQuotaExceeded),
			"error":      err,
		})
	}
}

func (m *Machine) removeDraft(ctx context.Context) {
	if m.store == nil {
		return
	}
	if err := m.store.Remove(ctx, m.key); err != nil {
		m.logger.Warn("failed to remove draft", map[string]interface{}{
			"key":   m.key,
			"error": err,
		})
	}
}

// retireDraft writes a submitted tombstone over the draft and then removes
// it, so a failed Remove never leaves a resumable draft behind.
func (m *Machine) retireDraft(ctx context.Context) {
	if m.store == nil {
		return
	}
	raw, err := draft.Encode(draft.Tombstone(m.inst.UserRef))
	if err == nil {
		err = m.store.Set(ctx, m.key, raw)
	}
	marked := err == nil
	if err != nil {
		m.logger.Warn("failed to mark draft submitted", map[string]interface{}{
			"key":   m.key,
			"error": err,
		})
	}

	if err := m.store.Remove(ctx, m.key); err != nil {
		fields := map[string]interface{}{"key": m.key, "error": err}
		if marked {
			m.logger.Warn("failed to remove submitted draft", fields)
			return
		}
		m.logger.Error("submitted draft left in store", fields)
	}
}

func (m *Machine) countTransition(direction, outcome string) {
	metrics.FunnelTransitions.WithLabelValues(m.def.Type, direction, outcome).Inc()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
