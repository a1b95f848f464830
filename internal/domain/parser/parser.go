// Package parser turns raw bank statement text into structured transaction
// candidates.
//
// Parsing is tolerant: a malformed row is skipped and recorded in
// the result's error list, never aborting the batch. Every transaction the
// parser emits has passed validation (non-empty description, positive finite
// amount, valid date); malformed rows never reach downstream stages.
package parser

import (
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Column layout of a statement row.
const (
	colDate = iota
	colDescription
	colReference
	colAmount
	colTxType
	colBalance

	minColumns = 6

	// Rows carrying the historical-verification block have nine extra
	// columns appended.
	historicalColumns = 15
)

// Transaction type codes.
const (
	TypeCredit = "CR"
	TypeDebit  = "DB"
)

// Transaction is one parsed statement row.
type Transaction struct {
	Line        int
	Date        time.Time
	Description string
	Reference   string
	Amount      decimal.Decimal
	Balance     decimal.Decimal
	TxType      string
	Raw         string
}

// Historical is a manually-verified house-match record carried on legacy
// statement exports, used to backfill matches and aliases.
type Historical struct {
	Line        int
	SplitAmount decimal.Decimal
	Reference   string
	HouseIndex  string
	Type        string
	HouseNumber string
	Month       int
	Year        int
	RT          string
	Confirmed   bool
}

// RowError records why a row was skipped.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Hints steer parsing of ambiguous rows.
type Hints struct {
	// Year resolves day/month-only dates. Zero means the current year.
	Year int
	// Month, when non-zero, overrides the parsed month on every row.
	Month int
}

// Result accumulates everything one parse produced. Callers decide how to
// handle partial failure; the parser never does.
type Result struct {
	Transactions []Transaction
	Historical   []Historical
	Errors       []RowError
}

var headerTokens = []string{"TANGGAL", "DATE", "KETERANGAN", "DESCRIPTION", "MUTASI", "SALDO", "BALANCE"}

// Parse splits raw statement text into rows and parses each one
// independently.
func Parse(raw string, hints Hints) Result {
	if hints.Year == 0 {
		hints.Year = time.Now().Year()
	}

	result := Result{
		Transactions: make([]Transaction, 0),
		Historical:   make([]Historical, 0),
		Errors:       make([]RowError, 0),
	}

	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	sawDataRow := false

	for i, line := range lines {
		lineNo := i + 1
		if strings.TrimSpace(line) == "" {
			continue
		}

		cols, err := splitColumns(line)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: lineNo, Reason: "unparseable row: " + err.Error(), Raw: line})
			continue
		}

		// The first content row is usually a header; drop it silently. A
		// row whose date cell parses is data even when its description
		// happens to contain a header word.
		if !sawDataRow && isHeaderRow(cols) && !hasParseableDate(cols, hints) {
			continue
		}

		if len(cols) < minColumns {
			result.Errors = append(result.Errors, RowError{
				Line:   lineNo,
				Reason: fmt.Sprintf("expected at least %d columns, got %d", minColumns, len(cols)),
				Raw:    line,
			})
			continue
		}

		tx, err := parseRow(cols, lineNo, hints)
		if err != nil {
			result.Errors = append(result.Errors, RowError{Line: lineNo, Reason: err.Error(), Raw: line})
			continue
		}
		tx.Raw = line
		sawDataRow = true
		result.Transactions = append(result.Transactions, tx)

		// Historical columns are best-effort: a bad block never drops
		// the transaction itself.
		if len(cols) >= historicalColumns {
			if hist, ok, err := parseHistorical(cols, lineNo); err != nil {
				result.Errors = append(result.Errors, RowError{Line: lineNo, Reason: "historical block: " + err.Error()})
			} else if ok {
				result.Historical = append(result.Historical, hist)
			}
		}
	}

	return result
}

func splitColumns(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	return r.Read()
}

func hasParseableDate(cols []string, hints Hints) bool {
	if len(cols) == 0 {
		return false
	}
	_, err := parseDate(cols[colDate], hints)
	return err == nil
}

func isHeaderRow(cols []string) bool {
	if len(cols) == 0 {
		return false
	}
	joined := strings.ToUpper(strings.Join(cols, " "))
	for _, tok := range headerTokens {
		if strings.Contains(joined, tok) {
			return true
		}
	}
	return false
}

func parseRow(cols []string, lineNo int, hints Hints) (Transaction, error) {
	date, err := parseDate(cols[colDate], hints)
	if err != nil {
		return Transaction{}, fmt.Errorf("date %q: %w", cols[colDate], err)
	}

	description := strings.TrimSpace(cols[colDescription])
	if description == "" {
		return Transaction{}, fmt.Errorf("empty description")
	}

	amount, err := ParseAmount(cols[colAmount])
	if err != nil {
		return Transaction{}, fmt.Errorf("amount %q: %w", cols[colAmount], err)
	}

	balance := decimal.Zero
	if strings.TrimSpace(cols[colBalance]) != "" {
		if balance, err = ParseAmount(cols[colBalance]); err != nil {
			return Transaction{}, fmt.Errorf("balance %q: %w", cols[colBalance], err)
		}
	}

	txType := parseTxType(cols[colTxType], amount)
	if amount.Sign() < 0 {
		amount = amount.Neg()
	}
	if amount.Sign() == 0 {
		return Transaction{}, fmt.Errorf("zero amount")
	}

	return Transaction{
		Line:        lineNo,
		Date:        date,
		Description: description,
		Reference:   strings.TrimSpace(cols[colReference]),
		Amount:      amount,
		Balance:     balance,
		TxType:      txType,
	}, nil
}

func parseTxType(cell string, amount decimal.Decimal) string {
	switch strings.ToUpper(strings.TrimSpace(cell)) {
	case "CR", "C", "K", "KREDIT", "CREDIT":
		return TypeCredit
	case "DB", "D", "DEBIT", "DEBET":
		return TypeDebit
	}
	// No explicit flag: sign decides.
	if amount.Sign() < 0 {
		return TypeDebit
	}
	return TypeCredit
}

// Spreadsheet serial dates count days from 1899-12-30; the shifted epoch
// absorbs the spreadsheet 1900 leap-year bug.
var serialEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

const (
	serialMin = 20000 // 1954-10-03
	serialMax = 80000 // 2119-01-29
)

func parseDate(cell string, hints Hints) (time.Time, error) {
	// Statement exports prefix dates with a literal apostrophe to force
	// text formatting in spreadsheets.
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(cell), "'"))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	if serial, err := strconv.Atoi(s); err == nil {
		if serial < serialMin || serial > serialMax {
			return time.Time{}, fmt.Errorf("serial date out of range")
		}
		return applyMonthHint(serialEpoch.AddDate(0, 0, serial), hints), nil
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '-' || r == '.' })
	switch len(parts) {
	case 2:
		// Locale day/month token, year from the hint.
		day, err1 := strconv.Atoi(parts[0])
		month, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return time.Time{}, fmt.Errorf("not a day/month token")
		}
		return makeDate(hints.Year, month, day, hints)
	case 3:
		if len(parts[0]) == 4 {
			// ISO yyyy-mm-dd.
			year, err1 := strconv.Atoi(parts[0])
			month, err2 := strconv.Atoi(parts[1])
			day, err3 := strconv.Atoi(parts[2])
			if err1 != nil || err2 != nil || err3 != nil {
				return time.Time{}, fmt.Errorf("not an ISO date")
			}
			return makeDate(year, month, day, hints)
		}
		// Locale dd/mm/yyyy.
		day, err1 := strconv.Atoi(parts[0])
		month, err2 := strconv.Atoi(parts[1])
		year, err3 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || err3 != nil {
			return time.Time{}, fmt.Errorf("not a dd/mm/yyyy date")
		}
		if year < 100 {
			year += 2000
		}
		return makeDate(year, month, day, hints)
	}

	return time.Time{}, fmt.Errorf("unrecognized date format")
}

func makeDate(year, month, day int, hints Hints) (time.Time, error) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("no calendar date")
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || int(date.Month()) != month {
		// time.Date normalized an impossible date like Feb 30.
		return time.Time{}, fmt.Errorf("no calendar date")
	}
	return applyMonthHint(date, hints), nil
}

func applyMonthHint(date time.Time, hints Hints) time.Time {
	if hints.Month < 1 || hints.Month > 12 || int(date.Month()) == hints.Month {
		return date
	}
	day := date.Day()
	if max := daysIn(hints.Year, time.Month(hints.Month)); day > max {
		day = max
	}
	return time.Date(hints.Year, time.Month(hints.Month), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseAmount parses a statement amount cell, stripping currency symbols and
// locale separators. Indonesian exports write 250.087,50; spreadsheet
// exports write 250087.50.
func ParseAmount(cell string) (decimal.Decimal, error) {
	s := strings.TrimSpace(cell)
	s = strings.TrimPrefix(s, "'")

	// Keep digits, separators, and sign only.
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" || s == "-" {
		return decimal.Decimal{}, fmt.Errorf("no digits")
	}

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			// 250.087,50: dot thousands, comma decimal.
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			// 250,087.50: comma thousands, dot decimal.
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2 {
			// Single trailing comma group reads as a decimal mark.
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastDot >= 0:
		if thousandsPattern.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}

	return decimal.NewFromString(s)
}

// Dot-grouped thousands (1.234 or 1.234.567), as opposed to a decimal
// fraction (1.5).
var thousandsPattern = regexp.MustCompile(`^-?\d{1,3}(\.\d{3})+$`)

func parseHistorical(cols []string, lineNo int) (Historical, bool, error) {
	block := cols[minColumns:historicalColumns]

	empty := true
	for _, c := range block {
		if strings.TrimSpace(c) != "" {
			empty = false
			break
		}
	}
	if empty {
		return Historical{}, false, nil
	}

	hist := Historical{
		Line:        lineNo,
		Reference:   strings.TrimSpace(block[1]),
		HouseIndex:  strings.ToUpper(strings.TrimSpace(block[2])),
		Type:        strings.TrimSpace(block[3]),
		HouseNumber: strings.TrimSpace(block[4]),
		RT:          strings.TrimSpace(block[7]),
		Confirmed:   parseBool(block[8]),
	}

	if strings.TrimSpace(block[0]) != "" {
		amount, err := ParseAmount(block[0])
		if err != nil {
			return Historical{}, false, fmt.Errorf("split amount %q: %w", block[0], err)
		}
		hist.SplitAmount = amount
	}

	hist.Month = parseMonth(block[5])
	if y, err := strconv.Atoi(strings.TrimSpace(block[6])); err == nil {
		hist.Year = y
	}

	return hist, true, nil
}

var indonesianMonths = map[string]int{
	"JAN": 1, "JANUARI": 1, "FEB": 2, "FEBRUARI": 2, "MAR": 3, "MARET": 3,
	"APR": 4, "APRIL": 4, "MEI": 5, "JUN": 6, "JUNI": 6, "JUL": 7, "JULI": 7,
	"AGU": 8, "AGT": 8, "AGUSTUS": 8, "SEP": 9, "SEPTEMBER": 9,
	"OKT": 10, "OKTOBER": 10, "NOV": 11, "NOVEMBER": 11, "DES": 12, "DESEMBER": 12,
}

func parseMonth(cell string) int {
	s := strings.ToUpper(strings.TrimSpace(cell))
	if s == "" {
		return 0
	}
	if m, err := strconv.Atoi(s); err == nil && m >= 1 && m <= 12 {
		return m
	}
	return indonesianMonths[s]
}

func parseBool(cell string) bool {
	switch strings.ToUpper(strings.TrimSpace(cell)) {
	case "TRUE", "1", "YES", "Y", "OK", "YA":
		return true
	}
	return false
}
