package workflow

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/randalmurphal/autoform/internal/browser"
	"github.com/randalmurphal/autoform/internal/session"
)

// AlternativeNavigationInstruction is tried once when clicks stop changing the page.
const AlternativeNavigationInstruction = "Look for any link or button that says 'Identity Profile', " +
	"'Personal Details', 'Registration Form', or 'Fill Form'. Click on it. " +
	"If not found, try clicking on any menu item in the sidebar."

// NavigationHelpField is the field id of the stuck-navigation input request.
const NavigationHelpField = "navigation_help"

var navigationHelpSuggestions = []string{
	"Navigate manually to form page",
	"Click specific link",
	"Cancel automation",
}

// Fingerprint returns a short content hash of page text, or "" for no text.
func Fingerprint(pageText string) string {
	if pageText == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(pageText))
	return hex.EncodeToString(sum[:])[:16]
}

// observePage compares a response against the recorded baseline, then moves
// the baseline forward. A missing URL or page text never counts as a change.
func observePage(s *session.State, resp *browser.Response) bool {
	if resp == nil {
		return false
	}
	changed := false
	if resp.PageURL != "" {
		if s.PageURL != "" && resp.PageURL != s.PageURL {
			changed = true
		}
		s.PageURL = resp.PageURL
	}
	if fp := Fingerprint(resp.PageText); fp != "" {
		if s.PageTextFingerprint != "" && fp != s.PageTextFingerprint {
			changed = true
		}
		s.PageTextFingerprint = fp
	}
	return changed
}

// trackClick updates the repeated-click counter for a click that did not
// change the page and reports whether the stuck threshold is reached.
// A different target restarts the count at 1.
func trackClick(s *session.State, target string, threshold int) bool {
	key := session.NormalizeField(target)
	if key != "" && key == s.LastClickTarget {
		s.RepeatedActionCount++
	} else {
		s.RepeatedActionCount = 1
		s.LastClickTarget = key
	}
	return s.RepeatedActionCount >= threshold
}

func resetStuck(s *session.State) {
	s.RepeatedActionCount = 0
	s.LastClickTarget = ""
}
