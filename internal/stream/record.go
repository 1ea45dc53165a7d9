package stream

import (
	"strings"
	"unicode"

	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Field buckets the record rule cares about. Lookups are done on the
// lowercased field name the walker recorded.
var (
	nameFields = map[string]struct{}{
		"name": {}, "full_name": {}, "first_name": {}, "last_name": {},
	}
	addressFields = map[string]struct{}{
		"address": {}, "street": {}, "city": {},
	}
	pinFields = map[string]struct{}{
		"pin_code": {}, "pincode": {},
	}
)

// RecordSpans applies the combinatorial record rule. Identity fields
// like a bare name or city are not sensitive alone, but two or more of
// {name, email, address} in one record identify a person, and then the
// name and address values must be redacted even though no standalone
// detector matched them.
//
// units and spans are parallel slices (scanner output per unit). The
// result maps unit index to the replacement span list for that unit;
// units absent from the map keep their scanner spans.
func RecordSpans(units []Unit, spans [][]pii.MatchSpan) map[int][]pii.MatchSpan {
	var (
		hasName    bool
		hasEmail   bool
		firstName  bool
		lastName   bool
		addrBucket = map[string]bool{}
	)

	for i, u := range units {
		switch {
		case u.Field == "name" || u.Field == "full_name":
			if fullName(u.Text) {
				hasName = true
			}
		case u.Field == "first_name":
			firstName = true
		case u.Field == "last_name":
			lastName = true
		}
		switch u.Field {
		case "address", "street":
			addrBucket["addr"] = true
		case "city":
			addrBucket["city"] = true
		}
		if _, ok := pinFields[u.Field]; ok {
			addrBucket["pin"] = true
		}
		if i < len(spans) {
			for _, s := range spans[i] {
				if s.Category == pii.CategoryEmail {
					hasEmail = true
					break
				}
			}
		}
	}
	if firstName && lastName {
		hasName = true
	}
	hasAddress := len(addrBucket) >= 2

	groups := 0
	for _, present := range []bool{hasName, hasEmail, hasAddress} {
		if present {
			groups++
		}
	}
	if groups < 2 {
		return nil
	}

	out := make(map[int][]pii.MatchSpan)
	for i, u := range units {
		var cat pii.Category
		if _, ok := nameFields[u.Field]; ok {
			cat = pii.CategoryName
		} else if _, ok := addressFields[u.Field]; ok {
			cat = pii.CategoryAddress
		} else {
			continue
		}
		out[i] = []pii.MatchSpan{{
			Start:      0,
			End:        len(u.Text),
			Category:   cat,
			Confidence: 1.0,
			Text:       u.Text,
		}}
	}
	return out
}

// fullName reports whether a value looks like a person's full name:
// two or more purely alphabetic words.
func fullName(s string) bool {
	words := 0
	for _, tok := range strings.Fields(s) {
		alpha := true
		for _, r := range strings.TrimRight(tok, ".") {
			if !unicode.IsLetter(r) {
				alpha = false
				break
			}
		}
		if alpha && tok != "" {
			words++
		}
	}
	return words >= 2
}
