package cli

import (
	"fmt"
	"os"

	autoerrors "github.com/randalmurphal/autoform/internal/errors"
)

// PrintError prints an error to stderr. AutoformErrors get the
// user-friendly what/why/fix layout.
func PrintError(err error) {
	ae := autoerrors.AsAutoformError(err)
	if ae == nil {
		return
	}
	if ae.Code == autoerrors.CodeInternal {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(os.Stderr, ae.UserMessage())
	if verbose {
		fmt.Fprintf(os.Stderr, "\nCode: %s\n", ae.Code)
		if ae.Cause != nil {
			fmt.Fprintf(os.Stderr, "Cause: %v\n", ae.Cause)
		}
	}
}
