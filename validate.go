package docchat

import (
	"fmt"
	"strings"

	"github.com/rivo/uniseg"
)

// DefaultMaxMessageLength is the default limit on a message's length in
// user-perceived characters.
const DefaultMaxMessageLength = 4000

// ValidateMessage checks that text is non-blank and at most maxLen
// user-perceived characters (grapheme clusters). A non-positive maxLen
// disables the length check.
func ValidateMessage(text string, maxLen int) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("message must not be empty: %w", ErrValidation)
	}
	if maxLen > 0 {
		if n := uniseg.GraphemeClusterCount(text); n > maxLen {
			return fmt.Errorf("message is %d characters, limit is %d: %w", n, maxLen, ErrValidation)
		}
	}
	return nil
}

// ValidateSendRequest checks the fields of a submission.
func ValidateSendRequest(req SendRequest) error {
	if req.FileID == "" {
		return fmt.Errorf("file id must not be empty: %w", ErrValidation)
	}
	return ValidateMessage(req.Message, 0)
}
