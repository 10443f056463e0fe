// Package lexicon holds the keyword tables used to classify page text,
// button labels and field names. Every table matches case-insensitively
// on substrings so its behavior can be tested in isolation.
package lexicon

import "strings"

// Table is a named list of lowercase phrases.
type Table struct {
	Name    string
	Phrases []string
}

// Match returns the first phrase contained in text.
func (t Table) Match(text string) (string, bool) {
	if text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, p := range t.Phrases {
		if strings.Contains(lower, p) {
			return p, true
		}
	}
	return "", false
}

// Matches reports whether any phrase is contained in text.
func (t Table) Matches(text string) bool {
	_, ok := t.Match(text)
	return ok
}

// RegistrationButtons are labels that lead back into account creation.
var RegistrationButtons = Table{
	Name: "registration_buttons",
	Phrases: []string{
		"create account",
		"register",
		"sign up",
		"new registration",
		"click here to create",
		"create your account",
	},
}

// RegistrationFields are field names that only belong to the sign-up funnel.
var RegistrationFields = Table{
	Name: "registration_fields",
	Phrases: []string{
		"confirm email",
		"verify email",
		"email",
		"otp",
	},
}

// AlreadyRegistered are banners shown when the email already has an account.
var AlreadyRegistered = Table{
	Name: "already_registered",
	Phrases: []string{
		"already registered",
		"email already",
		"email id already registered",
		"email id already exists",
		"email already exists",
		"already registered with",
		"use another email",
		"email id exists",
	},
}

// Completion are explicit final-submission phrases.
var Completion = Table{
	Name: "completion",
	Phrases: []string{
		"application submitted",
		"registration completed",
		"form submitted successfully",
		"application successful",
		"successfully submitted",
		"thank you for submitting",
		"application has been submitted",
		"your application has been submitted",
		"registration form submitted",
		"form successfully submitted",
	},
}

// AccountCreated signals that the registration step produced an account.
var AccountCreated = Table{
	Name: "account_created",
	Phrases: []string{
		"account created",
		"account has been created",
		"registration successful",
		"registered successfully",
		"successfully registered",
		"account successfully created",
	},
}

// LoginButtons are labels that submit a login form.
var LoginButtons = Table{
	Name: "login_buttons",
	Phrases: []string{
		"sign in",
		"login",
		"log in",
		"submit",
	},
}

// LoginSuccess are markers of an authenticated landing page.
var LoginSuccess = Table{
	Name: "login_success",
	Phrases: []string{
		"dashboard",
		"welcome",
		"profile",
		"home",
		"application",
		"successfully logged in",
		"login successful",
		"logged in",
	},
}

// LoginForm are markers that a login form is still on screen.
var LoginForm = Table{
	Name: "login_form",
	Phrases: []string{
		"password",
		"email",
		"login",
	},
}

// CaptchaRejected are messages shown after a wrong captcha.
var CaptchaRejected = Table{
	Name: "captcha_rejected",
	Phrases: []string{
		"invalid captcha",
		"incorrect captcha",
		"wrong captcha",
		"captcha mismatch",
		"captcha does not match",
	},
}

// CaptchaFields are field names that hold a captcha answer.
var CaptchaFields = Table{
	Name:    "captcha_fields",
	Phrases: []string{"captcha", "security code", "verification code"},
}

// IsLoggedIn reports whether page text after a login click looks authenticated:
// either a success marker is present or no login-form marker remains.
func IsLoggedIn(pageText string) bool {
	if LoginSuccess.Matches(pageText) {
		return true
	}
	return pageText != "" && !LoginForm.Matches(pageText)
}
