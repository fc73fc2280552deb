package transcription

import "strings"

// JoinSegments joins recognized segments into one transcript. Segments that
// are bracketed annotations such as "[BLANK_AUDIO]" or "(music)" and exact
// repeats of an earlier segment are skipped.
func JoinSegments(segments []string) string {
	seen := make(map[string]bool, len(segments))
	parts := make([]string, 0, len(segments))

	for _, seg := range segments {
		text := strings.TrimSpace(seg)
		if text == "" || isAnnotation(text) || seen[text] {
			continue
		}
		seen[text] = true
		parts = append(parts, text)
	}

	return strings.Join(parts, " ")
}

func isAnnotation(text string) bool {
	first, last := text[0], text[len(text)-1]
	return first == '(' || first == '[' || last == ')' || last == ']'
}
