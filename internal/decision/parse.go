package decision

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/autoform/internal/session"
)

// Parse converts a raw model payload into a Decision.
// It tolerates code fences, prose around the JSON object and alternate key
// names. An unknown action or a payload missing the fields its action needs
// is an error; callers map that to Retry.
func Parse(raw string) (Decision, error) {
	body, err := extractObject(raw)
	if err != nil {
		return Decision{}, err
	}
	doc := gjson.Parse(body)

	kind := Kind(strings.ToLower(strings.TrimSpace(first(doc, "action", "action_type", "type"))))
	instruction := first(doc, "instruction", "stagehand_prompt", "prompt")
	rationale := first(doc, "rationale", "reasoning", "reason")

	var action Action
	switch normalizeKind(kind) {
	case KindFillField:
		field := first(doc, "field_name", "field")
		if field == "" {
			return Decision{}, fmt.Errorf("fill_field without field_name")
		}
		action = FillField{Field: field, Value: first(doc, "field_value", "value")}
	case KindClickCheckbox:
		label := first(doc, "checkbox_label", "label")
		if label == "" && instruction == "" {
			return Decision{}, fmt.Errorf("click_checkbox without label or instruction")
		}
		action = ClickCheckbox{Label: label}
	case KindClickButton:
		text := first(doc, "button_text", "button", "label")
		if text == "" && instruction == "" {
			return Decision{}, fmt.Errorf("click_button without button_text or instruction")
		}
		action = ClickButton{Text: text}
	case KindWaitForHuman:
		action = WaitForHuman{
			Input:  session.ParseInputKind(strings.ToLower(first(doc, "input_type", "input_kind"))),
			Reason: first(doc, "wait_reason", "reason"),
		}
	case KindSuccess:
		action = Success{Message: first(doc, "message", "success_message")}
	case KindError:
		action = Error{Message: first(doc, "error_message", "message")}
	case KindRetry:
		action = Retry{Reason: rationale}
	default:
		return Decision{}, fmt.Errorf("unknown action %q", kind)
	}

	return Decision{Action: action, Instruction: instruction, Rationale: rationale}, nil
}

func normalizeKind(k Kind) Kind {
	switch k {
	case "fill", "type", "fill_input":
		return KindFillField
	case "click", "button":
		return KindClickButton
	case "checkbox", "check":
		return KindClickCheckbox
	case "wait", "human", "request_input":
		return KindWaitForHuman
	case "done", "complete", "completed":
		return KindSuccess
	case "fail", "failure":
		return KindError
	}
	return k
}

// first returns the first non-empty string among the given paths.
func first(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// extractObject finds the JSON object inside a model reply.
func extractObject(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty decision payload")
	}
	if gjson.Valid(s) && strings.HasPrefix(s, "{") {
		return s, nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in decision payload")
	}
	body := s[start : end+1]
	if !gjson.Valid(body) {
		return "", fmt.Errorf("malformed JSON in decision payload")
	}
	return body, nil
}
