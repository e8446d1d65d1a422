package service

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"

	"github.com/jask/fluxqc/internal/database/repository"
)

const (
	historyLimit  = 200
	minSimilarity = 0.5
)

// MessageHistory returns the reviewer messages used so far, most frequent first.
func (s *ReviewService) MessageHistory(ctx context.Context) ([]repository.MessageUse, error) {
	return s.Measurements.Messages(ctx, historyLimit)
}

type scoredMessage struct {
	repository.MessageUse
	prefix     bool
	similarity float64
}

// RankComments orders previously used messages by how well they match what
// the reviewer has typed. With nothing typed the most frequent come first.
// Messages equal to typed are left out.
func RankComments(typed string, history []repository.MessageUse, limit int) []string {
	needle := strings.ToLower(strings.TrimSpace(typed))
	var scored []scoredMessage
	for _, h := range history {
		hay := strings.ToLower(h.Message)
		if hay == needle {
			continue
		}
		sm := scoredMessage{MessageUse: h, similarity: 1}
		if needle != "" {
			sm.prefix = strings.HasPrefix(hay, needle)
			sm.similarity = similarity(needle, truncateRunes(hay, utf8.RuneCountInString(needle)))
			if !sm.prefix && sm.similarity < minSimilarity {
				continue
			}
		}
		scored = append(scored, sm)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.prefix != b.prefix {
			return a.prefix
		}
		if a.similarity != b.similarity {
			return a.similarity > b.similarity
		}
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Message < b.Message
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	out := make([]string, len(scored))
	for i, sm := range scored {
		out[i] = sm.Message
	}
	return out
}

func similarity(a, b string) float64 {
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
