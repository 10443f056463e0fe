package decision

import (
	"fmt"
	"sort"
	"strings"
)

// SystemPrompt instructs the vision model on the action schema.
const SystemPrompt = `You drive a web browser to complete an online application form.
You receive a screenshot of the current page and the remaining user data.
Choose exactly ONE next action and reply with a single JSON object:

{
  "action": "fill_field" | "click_checkbox" | "click_button" | "wait_for_human" | "success" | "error" | "retry",
  "instruction": "one natural-language browser instruction",
  "field_name": "key from remaining data (fill_field)",
  "field_value": "value to type (fill_field)",
  "checkbox_label": "visible checkbox label (click_checkbox)",
  "button_text": "visible button text (click_button)",
  "input_type": "otp" | "captcha" | "custom" (wait_for_human),
  "wait_reason": "why a human is needed (wait_for_human)",
  "error_message": "why the run cannot continue (error)",
  "reasoning": "short rationale"
}

Rules:
- Never fill a field listed as already filled.
- Request human input for OTPs sent by email or SMS, and for captchas after repeated failures.
- Declare success only when the page explicitly confirms the application was submitted.
- After an account exists, never return to the sign-up screens; look for Login instead.`

// UserPrompt renders the per-cycle context.
func UserPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Current page: %s\n", req.PageURL)
	if req.Phase != "" {
		fmt.Fprintf(&b, "Phase: %s\n", req.Phase)
	}
	fmt.Fprintf(&b, "Account created: %t\n", req.AccountCreationComplete)
	fmt.Fprintf(&b, "Retry count: %d\n", req.RetryCount)
	if req.CaptchaFailCount > 0 {
		fmt.Fprintf(&b, "Captcha failures: %d\n", req.CaptchaFailCount)
	}

	b.WriteString("\nAlready filled (do not fill again):\n")
	if len(req.AlreadyFilled) == 0 {
		b.WriteString("- none\n")
	}
	for _, f := range req.AlreadyFilled {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\nRemaining data:\n")
	keys := make([]string, 0, len(req.RemainingFields))
	for k := range req.RemainingFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		b.WriteString("- none\n")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "- %s: %s\n", k, req.RemainingFields[k])
	}
	return b.String()
}

// FillInstruction builds a browser instruction for typing value into field.
func FillInstruction(field, value string) string {
	lower := strings.ToLower(field)
	label := strings.ReplaceAll(field, "_", " ")
	switch {
	case strings.Contains(lower, "confirm"):
		return fmt.Sprintf("Find the '%s' field (the confirmation field, usually below the original) and type '%s'", label, value)
	case strings.Contains(lower, "email"):
		return fmt.Sprintf("Find the email input field labeled '%s' and type '%s'", label, value)
	case strings.Contains(lower, "phone") || strings.Contains(lower, "mobile"):
		return fmt.Sprintf("Find the phone number field labeled '%s' and type '%s'", label, value)
	case strings.Contains(lower, "date") || strings.Contains(lower, "dob") || strings.Contains(lower, "birth"):
		return fmt.Sprintf("Find the date field labeled '%s' and enter the date '%s' in the format the field expects", label, value)
	default:
		return fmt.Sprintf("Find the input field labeled '%s' and type '%s'", label, value)
	}
}

// CheckboxInstruction builds a browser instruction for ticking a checkbox.
func CheckboxInstruction(label string) string {
	return fmt.Sprintf("Click the checkbox labeled '%s'", truncate(label, 100))
}

// ButtonInstruction builds a browser instruction for pressing a button.
func ButtonInstruction(text string) string {
	return fmt.Sprintf("Click the button or link with text '%s'", text)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// withInstruction fills in a missing instruction from the action fields.
func withInstruction(d Decision) Decision {
	if strings.TrimSpace(d.Instruction) != "" {
		return d
	}
	switch a := d.Action.(type) {
	case FillField:
		d.Instruction = FillInstruction(a.Field, a.Value)
	case ClickCheckbox:
		d.Instruction = CheckboxInstruction(a.Label)
	case ClickButton:
		d.Instruction = ButtonInstruction(a.Text)
	}
	return d
}
