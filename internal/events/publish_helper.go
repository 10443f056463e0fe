package events

// PublishHelper wraps event publishing with nil-safety and typed constructors.
// All methods are safe to call when the helper or its publisher is nil.
type PublishHelper struct {
	publisher Publisher
}

// NewPublishHelper creates a helper around p. A nil p makes every call a no-op.
func NewPublishHelper(p Publisher) *PublishHelper {
	return &PublishHelper{publisher: p}
}

// Publish sends an event to the underlying publisher.
func (ep *PublishHelper) Publish(ev Event) {
	if ep == nil || ep.publisher == nil {
		return
	}
	ep.publisher.Publish(ev)
}

// Log publishes a log line.
func (ep *PublishHelper) Log(sessionID, level, message, node string) {
	ep.Publish(NewEvent(EventLog, sessionID, LogData{Level: level, Message: message, Node: node}))
}

// Screenshot publishes a base64 screenshot. Empty images are skipped.
func (ep *PublishHelper) Screenshot(sessionID, image, step string) {
	if image == "" {
		return
	}
	ep.Publish(NewEvent(EventScreenshot, sessionID, ScreenshotData{Image: image, Step: step}))
}

// Status publishes the current step and progress.
func (ep *PublishHelper) Status(sessionID string, data StatusData) {
	ep.Publish(NewEvent(EventStatus, sessionID, data))
}

// RequestOTP asks the client for a one-time password.
func (ep *PublishHelper) RequestOTP(sessionID, reason string) {
	ep.Publish(NewEvent(EventRequestOTP, sessionID, OTPRequest{Reason: reason}))
}

// RequestCaptcha asks the client to solve a captcha.
func (ep *PublishHelper) RequestCaptcha(sessionID, image, reason string) {
	ep.Publish(NewEvent(EventRequestCaptcha, sessionID, CaptchaRequest{Image: image, Reason: reason}))
}

// RequestCustomInput asks the client for an arbitrary value.
func (ep *PublishHelper) RequestCustomInput(sessionID string, req CustomInputRequest) {
	ep.Publish(NewEvent(EventRequestCustomInput, sessionID, req))
}

// Result publishes the final outcome of a run.
func (ep *PublishHelper) Result(sessionID string, success bool, message, status string) {
	ep.Publish(NewEvent(EventResult, sessionID, ResultData{Success: success, Message: message, Status: status}))
}

// BatchProgress publishes batch progress on the batch's own channel and globally.
func (ep *PublishHelper) BatchProgress(data BatchProgressData) {
	ep.Publish(NewEvent(EventBatchProgress, data.BatchID, data))
}
