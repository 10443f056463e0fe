package decision

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFillInstructionVariants(t *testing.T) {
	t.Parallel()

	assert.Contains(t, FillInstruction("confirm_email", "a@b.c"), "confirmation field")
	assert.Contains(t, FillInstruction("email", "a@b.c"), "email input field")
	assert.Contains(t, FillInstruction("mobile_number", "999"), "phone number field")
	assert.Contains(t, FillInstruction("date_of_birth", "01/01/2000"), "date field")
	assert.Equal(t, "Find the input field labeled 'full name' and type 'Jane'", FillInstruction("full_name", "Jane"))
}

func TestCheckboxInstructionTruncatesLongLabels(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 250)
	got := CheckboxInstruction(long)
	assert.Equal(t, "Click the checkbox labeled '"+strings.Repeat("a", 100)+"'", got)
}

func TestUserPromptListsContext(t *testing.T) {
	t.Parallel()

	p := UserPrompt(Request{
		PageURL:          "https://exam.example/form",
		RemainingFields:  map[string]string{"dob": "01/01/2000", "city": "Pune"},
		AlreadyFilled:    []string{"Email"},
		RetryCount:       1,
		CaptchaFailCount: 2,
	})
	assert.Contains(t, p, "https://exam.example/form")
	assert.Contains(t, p, "- Email")
	assert.Contains(t, p, "Captcha failures: 2")
	assert.Less(t, strings.Index(p, "- city"), strings.Index(p, "- dob"), "remaining fields are sorted")
}
