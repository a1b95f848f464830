package fuzzy

import (
	"regexp"
	"strings"
)

// stopwords are domain tokens that never form part of a person's name:
// transaction vocabulary, month names, and address markers.
var stopwords = map[string]bool{
	"IPL": true, "IURAN": true, "THR": true, "KAS": true, "BAYAR": true,
	"BYR": true, "TRANSFER": true, "TRF": true, "TRSF": true, "SETORAN": true,
	"TUNAI": true, "BANKING": true, "EBANKING": true, "CR": true, "DB": true,
	"ADM": true, "ADMIN": true, "BIAYA": true, "KE": true,
	"BLOK": true, "BLK": true, "NO": true, "RT": true, "RW": true,
	"BULAN": true, "BULANAN": true, "BLN": true, "TAGIHAN": true,
	"ANGSURAN": true, "SUMBANGAN": true, "DONASI": true, "LEBARAN": true,
	"DARI": true, "UNTUK": true, "UTK": true,
	"DAN": true, "VIA": true, "DENGAN": true, "RUMAH": true, "WARGA": true,
	"JAN": true, "JANUARI": true, "FEB": true, "FEBRUARI": true,
	"MAR": true, "MARET": true, "APR": true, "APRIL": true, "MEI": true,
	"JUN": true, "JUNI": true, "JUL": true, "JULI": true,
	"AGU": true, "AGT": true, "AGUSTUS": true, "SEP": true, "SEPTEMBER": true,
	"OKT": true, "OKTOBER": true, "NOV": true, "NOVEMBER": true,
	"DES": true, "DESEMBER": true,
}

var (
	// Multi-word all-caps runs: AGUSTINUS ERWIN
	allCapsPattern = regexp.MustCompile(`[A-Z]{2,}(?:\s+[A-Z]{2,})+`)

	// Multi-word title-case runs: Agustinus Erwin
	titleCasePattern = regexp.MustCompile(`[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+`)

	// Initials plus surname: A. Budi / A B Santoso
	initialsPattern = regexp.MustCompile(`\b(?:[A-Z]\.?\s+){1,2}[A-Z][A-Za-z]{2,}\b`)

	wordPattern = regexp.MustCompile(`[A-Za-z]{3,}`)
)

// ExtractNames pulls candidate person names out of a free-text transaction
// description using layered patterns, most specific first. Known domain
// keywords and address tokens never appear in the output.
func ExtractNames(description string) []string {
	seen := make(map[string]bool)
	var candidates []string

	add := func(name string) {
		name = strings.ToUpper(strings.TrimSpace(name))
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		candidates = append(candidates, name)
	}

	// House tokens ("C11 NO 10") would otherwise bleed into name runs.
	cleaned := stripHouseTokens(description)

	for _, run := range allCapsPattern.FindAllString(cleaned, -1) {
		for _, segment := range splitRunOnStopwords(run) {
			add(segment)
		}
	}
	for _, run := range titleCasePattern.FindAllString(cleaned, -1) {
		for _, segment := range splitRunOnStopwords(run) {
			add(segment)
		}
	}
	for _, m := range initialsPattern.FindAllString(cleaned, -1) {
		if !containsStopword(m) {
			add(m)
		}
	}

	// Fallback: individual non-keyword words, only when nothing better
	// was found.
	if len(candidates) == 0 {
		for _, word := range wordPattern.FindAllString(cleaned, -1) {
			upper := strings.ToUpper(word)
			if !stopwords[upper] {
				add(upper)
			}
		}
	}

	return candidates
}

// splitRunOnStopwords breaks a matched run at stopword tokens and keeps the
// multi-word fragments: "IPL FEB AGUSTINUS ERWIN" yields "AGUSTINUS ERWIN".
func splitRunOnStopwords(run string) []string {
	tokens := strings.Fields(run)
	var segments []string
	var current []string

	flush := func() {
		if len(current) >= 2 {
			segments = append(segments, strings.Join(current, " "))
		}
		current = current[:0]
	}

	for _, tok := range tokens {
		if stopwords[strings.ToUpper(tok)] {
			flush()
			continue
		}
		current = append(current, tok)
	}
	flush()

	return segments
}

func containsStopword(s string) bool {
	for _, tok := range strings.Fields(s) {
		if stopwords[strings.ToUpper(strings.TrimRight(tok, "."))] {
			return true
		}
	}
	return false
}
