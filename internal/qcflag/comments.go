package qcflag

import "strings"

// CommentCount is one distinct QC message and how many selected rows carry it.
type CommentCount struct {
	Message string
	Count   int
}

// DefaultComments collapses identical messages, keeping first-seen order.
// Blank messages are skipped.
func DefaultComments(messages []string) []CommentCount {
	var out []CommentCount
	pos := make(map[string]int)
	for _, m := range messages {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if i, ok := pos[m]; ok {
			out[i].Count++
			continue
		}
		pos[m] = len(out)
		out = append(out, CommentCount{Message: m, Count: 1})
	}
	return out
}

// JoinComments renders a comment list as the text used to pre-fill the
// decision dialog.
func JoinComments(cc []CommentCount) string {
	parts := make([]string, 0, len(cc))
	for _, c := range cc {
		parts = append(parts, c.Message)
	}
	return strings.Join(parts, "; ")
}
