// Package session provides the resumable state record of one form-automation run.
package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase is the coarse stage of the multi-step registration process.
type Phase string

const (
	PhaseRegistration Phase = "registration"
	PhaseLogin        Phase = "login"
	PhaseFormFilling  Phase = "form_filling"
	PhaseCompleted    Phase = "completed"
)

var phaseOrder = map[Phase]int{
	PhaseRegistration: 0,
	PhaseLogin:        1,
	PhaseFormFilling:  2,
	PhaseCompleted:    3,
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// Next returns the phase that follows p, or p itself for the final phase.
func (p Phase) Next() Phase {
	switch p {
	case PhaseRegistration:
		return PhaseLogin
	case PhaseLogin:
		return PhaseFormFilling
	default:
		return PhaseCompleted
	}
}

// Before reports whether p comes strictly before other.
func (p Phase) Before(other Phase) bool {
	return phaseOrder[p] < phaseOrder[other]
}

// Status drives runner routing.
type Status string

const (
	StatusRunning      Status = "running"
	StatusWaitingInput Status = "waiting_input"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// IsTerminal reports whether the run accepts no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InputKind identifies what the human-input gate is waiting for.
type InputKind string

const (
	InputOTP     InputKind = "otp"
	InputCaptcha InputKind = "captcha"
	InputCustom  InputKind = "custom"
)

// ParseInputKind maps free-form kinds from the decision service onto the known set.
func ParseInputKind(s string) InputKind {
	switch InputKind(s) {
	case InputOTP, InputCaptcha:
		return InputKind(s)
	default:
		return InputCustom
	}
}

// PendingInput records an outstanding human-input request.
type PendingInput struct {
	Kind        InputKind `json:"kind"`
	FieldID     string    `json:"field_id,omitempty"`
	Label       string    `json:"label,omitempty"`
	InputType   string    `json:"input_type,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// HumanInput is a reply spliced in on resume and consumed within one cycle.
type HumanInput struct {
	Value   string    `json:"value"`
	Kind    InputKind `json:"kind"`
	FieldID string    `json:"field_id,omitempty"`
}

// ActionRecord is one entry of the audit trail.
type ActionRecord struct {
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Success   bool      `json:"success"`
}

// State is the serializable record of one automation run.
// A State is owned by a single writer; callers replace the whole record
// rather than mutating a shared instance.
type State struct {
	SessionID string            `json:"session_id"`
	ExamName  string            `json:"exam_name,omitempty"`
	TargetURL string            `json:"target_url"`
	UserData  map[string]string `json:"user_data,omitempty"`

	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	FilledFields FieldSet      `json:"already_filled_fields"`
	PendingInput *PendingInput `json:"pending_input,omitempty"`

	RetryCount          int    `json:"retry_count"`
	MaxRetries          int    `json:"max_retries"`
	RepeatedActionCount int    `json:"repeated_action_count"`
	LastClickTarget     string `json:"last_click_target,omitempty"`
	CaptchaFailCount    int    `json:"captcha_fail_count"`

	EmailAlreadyRegistered  bool `json:"email_already_registered_detected"`
	AccountCreationComplete bool `json:"account_creation_complete"`
	LoginCompleted          bool `json:"login_completed"`
	RegistrationCompleted   bool `json:"registration_completed"`
	LoginNavigationPending  bool `json:"login_navigation_pending,omitempty"`

	PageURL             string `json:"page_url,omitempty"`
	PageTextFingerprint string `json:"page_text_fingerprint,omitempty"`

	ActionHistory  []ActionRecord    `json:"action_history"`
	HumanInput     *HumanInput       `json:"human_input_value,omitempty"`
	ReceivedInputs map[string]string `json:"received_custom_inputs,omitempty"`

	Cycles          int `json:"cycles"`
	OTPRequests     int `json:"otp_requests"`
	CaptchaRequests int `json:"captcha_requests"`
	CustomRequests  int `json:"custom_requests"`

	LastError     string    `json:"last_error,omitempty"`
	ResultMessage string    `json:"result_message,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// New creates the state for a fresh run.
func New(sessionID, targetURL string, userData map[string]string, maxRetries int) *State {
	now := time.Now()
	data := make(map[string]string, len(userData))
	for k, v := range userData {
		data[k] = v
	}
	return &State{
		SessionID:  sessionID,
		TargetURL:  targetURL,
		UserData:   data,
		Phase:      PhaseRegistration,
		Status:     StatusRunning,
		MaxRetries: maxRetries,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	c.UserData = cloneMap(s.UserData)
	c.ReceivedInputs = cloneMap(s.ReceivedInputs)
	c.FilledFields = s.FilledFields.Clone()
	if s.PendingInput != nil {
		p := *s.PendingInput
		p.Suggestions = append([]string(nil), s.PendingInput.Suggestions...)
		c.PendingInput = &p
	}
	if s.HumanInput != nil {
		h := *s.HumanInput
		c.HumanInput = &h
	}
	c.ActionHistory = append([]ActionRecord(nil), s.ActionHistory...)
	return &c
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Validate checks the record's structural invariants.
func (s *State) Validate() error {
	if s.SessionID == "" {
		return fmt.Errorf("session id is required")
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if (s.Status == StatusWaitingInput) != (s.PendingInput != nil) {
		return fmt.Errorf("status %s inconsistent with pending input (present=%t)", s.Status, s.PendingInput != nil)
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("progress %d out of range", s.Progress)
	}
	return nil
}

// Suspend sets the pending input and the waiting status together.
func (s *State) Suspend(p PendingInput) {
	if p.RequestedAt.IsZero() {
		p.RequestedAt = time.Now()
	}
	s.PendingInput = &p
	s.Status = StatusWaitingInput
	switch p.Kind {
	case InputOTP:
		s.OTPRequests++
	case InputCaptcha:
		s.CaptchaRequests++
	default:
		s.CustomRequests++
	}
	s.touch()
}

// Resume clears the pending request and stores the reply for the next capture.
// An empty value resumes a paused run without injecting anything.
func (s *State) Resume(value, fieldID string) {
	kind := InputCustom
	if s.PendingInput != nil {
		kind = s.PendingInput.Kind
		if fieldID == "" {
			fieldID = s.PendingInput.FieldID
		}
	}
	s.PendingInput = nil
	s.Status = StatusRunning
	if value != "" {
		s.HumanInput = &HumanInput{Value: value, Kind: kind, FieldID: fieldID}
	}
	s.touch()
}

// Fail marks the run as terminally failed.
func (s *State) Fail(reason string) {
	s.PendingInput = nil
	s.Status = StatusFailed
	s.LastError = reason
	s.ResultMessage = reason
	s.touch()
}

// Complete marks the run as successfully finished.
func (s *State) Complete(message string) {
	s.PendingInput = nil
	s.Status = StatusCompleted
	s.Phase = PhaseCompleted
	s.Progress = 100
	s.ResultMessage = message
	s.touch()
}

// Advance moves to the next phase. Skipping or moving backwards is rejected.
func (s *State) Advance(to Phase) error {
	if s.Phase == to {
		return nil
	}
	if s.Phase.Next() != to || s.Phase == PhaseCompleted {
		return fmt.Errorf("illegal phase transition %s -> %s", s.Phase, to)
	}
	s.Phase = to
	s.touch()
	return nil
}

// ResetToLogin is the duplicate-account shortcut: back to login with no filled fields.
func (s *State) ResetToLogin() {
	s.Phase = PhaseLogin
	s.FilledFields = FieldSet{}
	s.touch()
}

// RecordAction appends to the audit trail.
func (s *State) RecordAction(action, target string, success bool) {
	s.ActionHistory = append(s.ActionHistory, ActionRecord{
		Action:    action,
		Target:    target,
		Timestamp: time.Now(),
		Success:   success,
	})
	s.touch()
}

// BumpProgress adds step to progress, capped at limit.
func (s *State) BumpProgress(step, limit int) {
	p := s.Progress + step
	if p > limit {
		p = limit
	}
	if p < s.Progress {
		return
	}
	s.Progress = clamp(p)
}

func clamp(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}

// RemainingFields returns user data whose keys have not been filled yet.
func (s *State) RemainingFields() map[string]string {
	out := make(map[string]string)
	for k, v := range s.UserData {
		if v == "" || s.FilledFields.Contains(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// RecordInput stores a custom reply by field id.
func (s *State) RecordInput(fieldID, value string) {
	if fieldID == "" {
		return
	}
	if s.ReceivedInputs == nil {
		s.ReceivedInputs = make(map[string]string)
	}
	s.ReceivedInputs[fieldID] = value
}

func (s *State) touch() {
	s.UpdatedAt = time.Now()
}

// Marshal encodes the checkpoint form of s.
func (s *State) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a checkpoint and validates it.
func Unmarshal(data []byte) (*State, error) {
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return &s, nil
}
