// Package events provides client-notification event types and the
// per-session fan-out used to push them to connected clients.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	EventLog                EventType = "log"
	EventScreenshot         EventType = "screenshot"
	EventStatus             EventType = "status"
	EventRequestOTP         EventType = "request_otp"
	EventRequestCaptcha     EventType = "request_captcha"
	EventRequestCustomInput EventType = "request_custom_input"
	EventResult             EventType = "result"
	EventBatchProgress      EventType = "batch_progress"
)

// Event represents a published event.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Data      any       `json:"data"`
	Time      time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, sessionID string, data any) Event {
	return Event{
		Type:      eventType,
		SessionID: sessionID,
		Data:      data,
		Time:      time.Now(),
	}
}

// LogData is a human-readable log line.
type LogData struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	Node    string `json:"node,omitempty"`
}

// ScreenshotData carries a base64 screenshot.
type ScreenshotData struct {
	Image string `json:"image"`
	Step  string `json:"step,omitempty"`
}

// StatusData reports the current step and advisory progress.
type StatusData struct {
	Step     string `json:"step"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
	Status   string `json:"status,omitempty"`
	Phase    string `json:"phase,omitempty"`
}

// OTPRequest asks the user for a one-time password.
type OTPRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CaptchaRequest asks the user to solve a captcha.
type CaptchaRequest struct {
	Image  string `json:"image,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// CustomInputRequest asks the user for an arbitrary field value.
type CustomInputRequest struct {
	FieldID     string   `json:"field_id"`
	Label       string   `json:"label"`
	Type        string   `json:"type"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// ResultData is the final outcome of a run.
type ResultData struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

// BatchProgressData reports progress of a batch dispatch.
type BatchProgressData struct {
	BatchID    string `json:"batch_id"`
	Current    int    `json:"current"`
	Total      int    `json:"total"`
	Completed  int    `json:"completed"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Label      string `json:"label,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Status     string `json:"status"`
}
