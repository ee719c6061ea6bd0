package api

import "opz-funnels/internal/funnel"

type stepView struct {
	ID          string `json:"id"`
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// State is the session payload every funnel endpoint answers with.
type State struct {
	SessionID        string      `json:"sessionId"`
	Flow             string      `json:"flow"`
	UserRef          string      `json:"userRef"`
	CurrentStepIndex int         `json:"currentStepIndex"`
	TotalSteps       int         `json:"totalSteps"`
	CurrentStep      stepView    `json:"currentStep"`
	Steps            []stepView  `json:"steps"`
	Data             funnel.Data `json:"data"`
	CanProceed       bool        `json:"canProceed"`
	Submitted        bool        `json:"submitted"`
	Moved            *bool       `json:"moved,omitempty"`
	StorageWarning   string      `json:"storageWarning,omitempty"`
}

func viewOf(s funnel.Step) stepView {
	return stepView{ID: s.ID, Index: s.Index, Title: s.Title, Description: s.Description}
}

// stateOf renders the machine. The storage notice is consumed here so it is
// shown exactly once.
func stateOf(m *funnel.Machine) State {
	def := m.Definition()
	inst := m.Snapshot()

	steps := make([]stepView, 0, def.Len())
	for _, s := range def.Steps {
		steps = append(steps, viewOf(s))
	}

	st := State{
		SessionID:        inst.SessionID,
		Flow:             inst.Type,
		UserRef:          inst.UserRef,
		CurrentStepIndex: inst.CurrentStepIndex,
		TotalSteps:       def.Len(),
		CurrentStep:      viewOf(def.Step(inst.CurrentStepIndex)),
		Steps:            steps,
		Data:             inst.Data,
		CanProceed:       !inst.Submitted && m.CanProceed(),
		Submitted:        inst.Submitted,
	}
	if msg, ok := m.TakeStorageWarning(); ok {
		st.StorageWarning = msg
	}
	return st
}

func movedState(m *funnel.Machine, moved bool) State {
	st := stateOf(m)
	st.Moved = &moved
	return st
}
