package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/autoform/internal/session"
)

func TestParseActions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want Action
	}{
		{
			name: "fill field",
			raw:  `{"action":"fill_field","field_name":"full_name","field_value":"Jane Doe","stagehand_prompt":"type name","reasoning":"name empty"}`,
			want: FillField{Field: "full_name", Value: "Jane Doe"},
		},
		{
			name: "checkbox",
			raw:  `{"action":"click_checkbox","checkbox_label":"I declare","instruction":"tick it"}`,
			want: ClickCheckbox{Label: "I declare"},
		},
		{
			name: "button",
			raw:  `{"action":"click_button","button_text":"Submit"}`,
			want: ClickButton{Text: "Submit"},
		},
		{
			name: "wait for otp",
			raw:  `{"action":"wait_for_human","input_type":"OTP","wait_reason":"otp sent to email"}`,
			want: WaitForHuman{Input: session.InputOTP, Reason: "otp sent to email"},
		},
		{
			name: "wait for unknown kind maps to custom",
			raw:  `{"action":"wait_for_human","input_type":"signature"}`,
			want: WaitForHuman{Input: session.InputCustom},
		},
		{
			name: "success",
			raw:  `{"action":"success","message":"done"}`,
			want: Success{Message: "done"},
		},
		{
			name: "error",
			raw:  `{"action":"error","error_message":"site down"}`,
			want: Error{Message: "site down"},
		},
		{
			name: "retry",
			raw:  `{"action":"retry","reasoning":"page loading"}`,
			want: Retry{Reason: "page loading"},
		},
		{
			name: "alias kind",
			raw:  `{"action":"click","button_text":"Next"}`,
			want: ClickButton{Text: "Next"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Action)
		})
	}
}

func TestParseTolerantWrapping(t *testing.T) {
	t.Parallel()

	raw := "Here is my decision:\n```json\n{\"action\": \"fill_field\", \"field_name\": \"email\", \"field_value\": \"jane@x.com\", \"reasoning\": \"email empty\"}\n```\nGood luck!"
	d, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, FillField{Field: "email", Value: "jane@x.com"}, d.Action)
	assert.Equal(t, "email empty", d.Rationale)
}

func TestParseRejectsMalformed(t *testing.T) {
	t.Parallel()

	bad := []string{
		"",
		"I cannot see the page",
		`{"action": "fill_field", "field_name": }`,
		`{"action":"dance"}`,
		`{"action":"fill_field","field_value":"x"}`,
		`{"action":"click_button"}`,
		`{"field_name":"email"}`,
	}
	for _, raw := range bad {
		_, err := Parse(raw)
		assert.Error(t, err, "payload %q", raw)
	}
}

func TestDecisionKindDefaultsToRetry(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindRetry, Decision{}.Kind())
	assert.Equal(t, KindFillField, Decision{Action: FillField{}}.Kind())
}
