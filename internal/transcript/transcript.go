package transcript

import "strings"

// Terminator is appended after every committed (final) fragment.
const Terminator = "."

// Fragment is one unit of recognized text delivered by a recognition engine.
type Fragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Final      bool    `json:"final"`
}

// Reduce folds an ordered sequence of fragments into a display string. Interim
// fragments replace the provisional tail; a final fragment commits its text
// followed by Terminator and clears the tail.
func Reduce(fragments []Fragment) string {
	var committed strings.Builder
	tail := ""
	for _, f := range fragments {
		if f.Final {
			committed.WriteString(f.Text)
			committed.WriteString(Terminator)
			tail = ""
			continue
		}
		tail = f.Text
	}
	committed.WriteString(tail)
	return committed.String()
}

// HasPending reports whether the last fragment is still provisional.
func HasPending(fragments []Fragment) bool {
	return len(fragments) > 0 && !fragments[len(fragments)-1].Final
}
