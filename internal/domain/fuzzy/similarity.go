// Package fuzzy extracts person names and house-address tokens from free-text
// bank statement descriptions and scores them against the resident directory.
// Everything here is a pure function over its inputs; no I/O.
package fuzzy

import (
	"strings"

	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// SimilarityFloor is the minimum name similarity accepted as a match.
const SimilarityFloor = 0.7

// Similarity computes a normalized edit-distance similarity between two
// strings: levenshtein distance divided by the longer string's length,
// inverted to [0, 1]. Comparison is case-insensitive.
func Similarity(a, b string) float64 {
	a = strings.ToUpper(strings.TrimSpace(a))
	b = strings.ToUpper(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	ra, rb := []rune(a), []rune(b)
	longer := len(ra)
	if len(rb) > longer {
		longer = len(rb)
	}

	distance := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptions)
	return 1 - float64(distance)/float64(longer)
}

// NameScore scores a candidate name against a resident's display name.
// Display names often list multiple occupants ("ANNA CARLINA / AGUSTINUS
// ERWIN"), so the candidate is scored against each segment and the best
// segment wins.
func NameScore(candidate, residentName string) float64 {
	best := 0.0
	for _, segment := range splitNameSegments(residentName) {
		if score := Similarity(candidate, segment); score > best {
			best = score
		}
	}
	return best
}

func splitNameSegments(name string) []string {
	segments := strings.FieldsFunc(name, func(r rune) bool {
		return r == '/' || r == ',' || r == '&'
	})
	out := make([]string, 0, len(segments)+1)
	for _, s := range segments {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) > 1 {
		// The full name is still a valid comparison target.
		out = append(out, strings.TrimSpace(name))
	}
	return out
}
