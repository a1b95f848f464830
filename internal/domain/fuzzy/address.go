package fuzzy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HouseRef is a canonical block + house-number address token.
type HouseRef struct {
	Block string // block letter(s) + block number, e.g. "C11"
	House int    // house number within the block
}

// Canonical renders the token in the normalized `<BLOCK><NUM> / <HOUSE>` form.
func (h HouseRef) Canonical() string {
	return fmt.Sprintf("%s / %d", h.Block, h.House)
}

// House patterns in the separator styles that appear on statements:
// "C11/10", "C11-10", "C11 NO 10", "BLOK C11 NO.10", "C 11 10".
var housePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(?:BLOK\s+)?([A-Z]{1,2})\s?(\d{1,2})\s*(?:/|-)\s*(\d{1,3})\b`),
	regexp.MustCompile(`\b(?:BLOK\s+)?([A-Z]{1,2})\s?(\d{1,2})\s+NO\.?\s*(\d{1,3})\b`),
	regexp.MustCompile(`\b(?:BLOK\s+)?([A-Z]{1,2})\s?(\d{1,2})\s+(\d{1,3})\b`),
}

// ExtractHouseRefs pulls house-address tokens from a description in order of
// pattern specificity. Matching is case-insensitive.
func ExtractHouseRefs(description string) []HouseRef {
	upper := strings.ToUpper(description)
	seen := make(map[string]bool)
	var refs []HouseRef

	for _, pattern := range housePatterns {
		for _, m := range pattern.FindAllStringSubmatch(upper, -1) {
			blockLetter := m[1]
			if stopwords[blockLetter] {
				continue
			}
			house, err := strconv.Atoi(m[3])
			if err != nil {
				continue
			}
			ref := HouseRef{Block: blockLetter + m[2], House: house}
			if key := ref.Canonical(); !seen[key] {
				seen[key] = true
				refs = append(refs, ref)
			}
		}
	}

	return refs
}

// stripHouseTokens blanks house tokens out of a description while
// preserving the original casing of everything else.
func stripHouseTokens(description string) string {
	out := []byte(description)
	upper := strings.ToUpper(description)
	for _, pattern := range housePatterns {
		for _, span := range pattern.FindAllStringIndex(upper, -1) {
			for i := span[0]; i < span[1] && i < len(out); i++ {
				out[i] = ' '
			}
		}
	}
	return string(out)
}

// ParseHouseRef builds a HouseRef from resident snapshot fields. Returns
// false when the house number is not numeric.
func ParseHouseRef(block, houseNumber string) (HouseRef, bool) {
	block = strings.ToUpper(strings.TrimSpace(block))
	house, err := strconv.Atoi(strings.TrimSpace(houseNumber))
	if block == "" || err != nil {
		return HouseRef{}, false
	}
	return HouseRef{Block: block, House: house}, true
}

// AddressScore compares two house tokens. An exact match scores 1.0; block
// and house each contribute up to 0.5. A house number off by one earns a
// reduced 0.25 since statements frequently carry off-by-one transcriptions.
func AddressScore(a, b HouseRef) float64 {
	score := 0.0
	if a.Block != "" && strings.EqualFold(a.Block, b.Block) {
		score += 0.5
	}
	switch diff := a.House - b.House; {
	case diff == 0:
		score += 0.5
	case diff == 1 || diff == -1:
		score += 0.25
	}
	return score
}
