package model

// DefaultMaskVisible is the number of characters shown at each end of a
// masked secret.
const DefaultMaskVisible = 4

// RedactedToken replaces secrets too short to mask partially.
const RedactedToken = "********"

// MaskSeparator joins the visible head and tail of a masked secret.
const MaskSeparator = "..."

// MaskSecret returns secret with all but the first and last visible
// characters replaced by MaskSeparator. Secrets of length <= 2*visible are
// fully redacted so their length and content do not leak.
func MaskSecret(secret string, visible int) string {
	if visible <= 0 {
		visible = DefaultMaskVisible
	}

	runes := []rune(secret)
	if len(runes) <= 2*visible {
		return RedactedToken
	}

	return string(runes[:visible]) + MaskSeparator + string(runes[len(runes)-visible:])
}
