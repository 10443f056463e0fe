package session

import (
	"encoding/json"
	"fmt"
)

// ProgressRecord is the phase/progress document merged into storage at
// checkpoint cadence. Keys mirror the persisted graph_state layout.
type ProgressRecord struct {
	CurrentPhase           Phase            `json:"current_phase"`
	RegistrationCompleted  bool             `json:"registration_completed"`
	LoginCompleted         bool             `json:"login_completed"`
	EmailAlreadyRegistered bool             `json:"email_already_registered_detected"`
	FormFilling            FormFillProgress `json:"form_filling_progress"`
}

// FormFillProgress tracks field-filling headway inside the progress record.
type FormFillProgress struct {
	AlreadyFilledFields []string `json:"already_filled_fields"`
	LastFieldFilled     string   `json:"last_field_filled,omitempty"`
	ProgressCount       int      `json:"progress_count"`
}

// ProgressRecord snapshots the fields persisted by partial updates.
func (s *State) ProgressRecord() ProgressRecord {
	names := s.FilledFields.Names()
	if names == nil {
		names = []string{}
	}
	return ProgressRecord{
		CurrentPhase:           s.Phase,
		RegistrationCompleted:  s.RegistrationCompleted,
		LoginCompleted:         s.LoginCompleted,
		EmailAlreadyRegistered: s.EmailAlreadyRegistered,
		FormFilling: FormFillProgress{
			AlreadyFilledFields: names,
			LastFieldFilled:     s.FilledFields.Last(),
			ProgressCount:       len(names),
		},
	}
}

// Fields flattens the record into top-level keys for a partial merge.
func (p ProgressRecord) Fields() map[string]any {
	return map[string]any{
		"current_phase":                     string(p.CurrentPhase),
		"registration_completed":            p.RegistrationCompleted,
		"login_completed":                   p.LoginCompleted,
		"email_already_registered_detected": p.EmailAlreadyRegistered,
		"form_filling_progress":             p.FormFilling,
	}
}

// ApplyProgress re-derives phase and milestone flags from a persisted record.
// Flags only ever move from false to true here, and the phase only moves forward.
func (s *State) ApplyProgress(p ProgressRecord) {
	if p.CurrentPhase.Valid() && s.Phase.Before(p.CurrentPhase) {
		s.Phase = p.CurrentPhase
	}
	s.RegistrationCompleted = s.RegistrationCompleted || p.RegistrationCompleted
	s.LoginCompleted = s.LoginCompleted || p.LoginCompleted
	s.EmailAlreadyRegistered = s.EmailAlreadyRegistered || p.EmailAlreadyRegistered
	if s.LoginCompleted {
		s.AccountCreationComplete = true
	}
	for _, f := range p.FormFilling.AlreadyFilledFields {
		s.FilledFields.Add(f)
	}
}

// ProgressFromFields decodes a merged progress document. Unknown keys are ignored.
func ProgressFromFields(fields map[string]any) (ProgressRecord, error) {
	var p ProgressRecord
	raw, err := json.Marshal(fields)
	if err != nil {
		return p, fmt.Errorf("encode progress fields: %w", err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode progress fields: %w", err)
	}
	return p, nil
}
