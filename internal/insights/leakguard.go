package insights

import "strings"

// FindLeak scans generated text for any contiguous substring of at least
// minLen runes that also appears verbatim in a single source message.
// Returns the first leaking fragment found. This is the enforcement half of
// the anonymization contract: prompt instructions alone are not trusted.
func FindLeak(generated string, sources []string, minLen int) (string, bool) {
	runes := []rune(generated)
	if len(runes) < minLen {
		return "", false
	}

	for _, source := range sources {
		if len([]rune(source)) < minLen {
			continue
		}
		for i := 0; i+minLen <= len(runes); i++ {
			window := string(runes[i : i+minLen])
			if strings.Contains(source, window) {
				return window, true
			}
		}
	}

	return "", false
}
