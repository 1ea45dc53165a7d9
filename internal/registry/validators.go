package registry

import (
	"strings"
)

// ValidatorFunc is a secondary check applied to a raw pattern match.
// Returning false discards the match.
type ValidatorFunc func(match string) bool

// upiHandles is the set of known UPI payment handles. A user@handle
// match whose handle is not listed is not treated as a UPI ID (it may
// still match the EMAIL detector).
var upiHandles = map[string]struct{}{
	"upi": {}, "ybl": {}, "oksbi": {}, "okaxis": {}, "okhdfcbank": {},
	"okicici": {}, "okbizaxis": {}, "paytm": {}, "apl": {}, "axl": {},
	"ibl": {}, "sbi": {}, "axisbank": {}, "hdfcbank": {}, "icici": {},
	"kotak": {}, "yesbank": {}, "idbi": {}, "pnb": {}, "barodampay": {},
	"cnrb": {}, "boi": {}, "unionbank": {}, "indianbank": {}, "iob": {},
	"psb": {}, "uco": {}, "federal": {}, "rbl": {}, "idfcbank": {},
	"indus": {}, "dbs": {}, "sc": {}, "citi": {}, "hsbc": {},
	"freecharge": {}, "mobikwik": {}, "airtel": {}, "jio": {}, "slice": {},
	"fam": {}, "yapl": {}, "rapl": {}, "abfspay": {}, "timecosmos": {},
	"tapicici": {}, "waicici": {}, "wahdfcbank": {}, "waaxis": {}, "wasbi": {},
}

// validators maps validator identifiers usable in detector definitions
// to their implementations. An unknown identifier is a load-time
// InvalidPatternError.
var validators = map[string]ValidatorFunc{
	"luhn":          luhnValid,
	"upi_handle":    upiHandleValid,
	"indian_mobile": indianMobileValid,
	"aadhaar":       aadhaarValid,
	"pin_code":      pinCodeValid,
}

// lookupValidator resolves a validator identifier. Empty and "none"
// mean no secondary check.
func lookupValidator(id string) (ValidatorFunc, bool) {
	if id == "" || id == "none" {
		return nil, true
	}
	v, ok := validators[id]
	return v, ok
}

// luhnValid runs the Luhn checksum over the digits of a card match,
// ignoring space and dash separators.
func luhnValid(match string) bool {
	digits := make([]int, 0, len(match))
	for i := 0; i < len(match); i++ {
		c := match[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, int(c-'0'))
		case c == ' ' || c == '-':
			// separator
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if alternate {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		alternate = !alternate
	}
	return sum%10 == 0
}

// upiHandleValid checks the handle part of a user@handle match against
// the known-handle set.
func upiHandleValid(match string) bool {
	at := strings.LastIndexByte(match, '@')
	if at <= 0 || at == len(match)-1 {
		return false
	}
	_, ok := upiHandles[strings.ToLower(match[at+1:])]
	return ok
}

// indianMobileValid accepts a 10-digit number with a 6-9 lead digit,
// optionally prefixed with 0, 91 or +91. Space and dash separators are
// stripped before checking.
func indianMobileValid(match string) bool {
	digits := make([]byte, 0, len(match))
	for i := 0; i < len(match); i++ {
		c := match[i]
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, c)
		case c == ' ' || c == '-' || c == '+':
			// separator or dialing prefix sign
		default:
			return false
		}
	}
	switch len(digits) {
	case 10:
		return digits[0] >= '6' && digits[0] <= '9'
	case 11:
		return digits[0] == '0' && digits[1] >= '6' && digits[1] <= '9'
	case 12:
		return digits[0] == '9' && digits[1] == '1' && digits[2] >= '6' && digits[2] <= '9'
	}
	return false
}

// aadhaarValid accepts 12-digit numbers (separators stripped) with a
// 2-9 lead digit, per the issuing authority's numbering rule.
func aadhaarValid(match string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(match)
	if len(cleaned) != 12 {
		return false
	}
	if cleaned[0] < '2' || cleaned[0] > '9' {
		return false
	}
	for i := 1; i < len(cleaned); i++ {
		if cleaned[i] < '0' || cleaned[i] > '9' {
			return false
		}
	}
	return true
}

// pinCodeValid accepts 6-digit postal codes that do not start with 0.
func pinCodeValid(match string) bool {
	if len(match) != 6 {
		return false
	}
	if match[0] < '1' || match[0] > '9' {
		return false
	}
	for i := 1; i < len(match); i++ {
		if match[i] < '0' || match[i] > '9' {
			return false
		}
	}
	return true
}
