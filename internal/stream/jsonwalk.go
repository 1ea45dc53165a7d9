package stream

import (
	"encoding/json"
	"strings"
)

// jsonUnits walks raw JSON bytes and emits one unit per string value,
// addressed by the exact byte range of its quoted token. Keys are
// tracked (for the skip list and the record rule) but never emitted as
// units. Returns false when the walk cannot make sense of the bytes;
// the caller then falls back to plaintext scanning.
func (a *Adapter) jsonUnits(raw []byte) ([]Unit, bool) {
	if !json.Valid(raw) {
		return nil, false
	}
	w := &jsonWalker{raw: raw, skip: a.skipFields}
	w.ws()
	if !w.value("") {
		return nil, false
	}
	w.ws()
	if w.pos != len(raw) {
		return nil, false
	}
	return w.units, true
}

type jsonWalker struct {
	raw   []byte
	pos   int
	units []Unit
	skip  map[string]struct{}
}

func (w *jsonWalker) ws() {
	for w.pos < len(w.raw) {
		switch w.raw[w.pos] {
		case ' ', '\t', '\n', '\r':
			w.pos++
		default:
			return
		}
	}
}

// value parses any JSON value. field is the lowercased object key the
// value sits under; array elements inherit the array's key.
func (w *jsonWalker) value(field string) bool {
	w.ws()
	if w.pos >= len(w.raw) {
		return false
	}
	switch w.raw[w.pos] {
	case '{':
		return w.object()
	case '[':
		return w.array(field)
	case '"':
		start := w.pos
		if !w.stringToken() {
			return false
		}
		w.emit(field, start, w.pos)
		return true
	default:
		return w.literal()
	}
}

func (w *jsonWalker) object() bool {
	w.pos++ // {
	w.ws()
	if w.pos < len(w.raw) && w.raw[w.pos] == '}' {
		w.pos++
		return true
	}
	for {
		w.ws()
		if w.pos >= len(w.raw) || w.raw[w.pos] != '"' {
			return false
		}
		keyStart := w.pos
		if !w.stringToken() {
			return false
		}
		key, ok := decodeString(w.raw[keyStart:w.pos])
		if !ok {
			return false
		}

		w.ws()
		if w.pos >= len(w.raw) || w.raw[w.pos] != ':' {
			return false
		}
		w.pos++

		if !w.value(strings.ToLower(key)) {
			return false
		}

		w.ws()
		if w.pos >= len(w.raw) {
			return false
		}
		switch w.raw[w.pos] {
		case ',':
			w.pos++
		case '}':
			w.pos++
			return true
		default:
			return false
		}
	}
}

func (w *jsonWalker) array(field string) bool {
	w.pos++ // [
	w.ws()
	if w.pos < len(w.raw) && w.raw[w.pos] == ']' {
		w.pos++
		return true
	}
	for {
		if !w.value(field) {
			return false
		}
		w.ws()
		if w.pos >= len(w.raw) {
			return false
		}
		switch w.raw[w.pos] {
		case ',':
			w.pos++
		case ']':
			w.pos++
			return true
		default:
			return false
		}
	}
}

// stringToken advances past a quoted string, escape-aware. pos must be
// on the opening quote; afterwards it is one past the closing quote.
func (w *jsonWalker) stringToken() bool {
	w.pos++ // opening quote
	for w.pos < len(w.raw) {
		switch w.raw[w.pos] {
		case '\\':
			w.pos += 2
		case '"':
			w.pos++
			return true
		default:
			w.pos++
		}
	}
	return false
}

// literal advances past numbers, true, false and null.
func (w *jsonWalker) literal() bool {
	start := w.pos
	for w.pos < len(w.raw) {
		switch w.raw[w.pos] {
		case ',', '}', ']', ' ', '\t', '\n', '\r':
			return w.pos > start
		default:
			w.pos++
		}
	}
	return w.pos > start
}

// emit records a string value unit unless its field is skip-listed or
// the value is empty.
func (w *jsonWalker) emit(field string, start, end int) {
	if _, skip := w.skip[field]; skip {
		return
	}
	text, ok := decodeString(w.raw[start:end])
	if !ok || text == "" {
		return
	}
	w.units = append(w.units, Unit{
		Text:   text,
		Field:  field,
		start:  start,
		end:    end,
		quoted: true,
	})
}

// decodeString unmarshals one quoted JSON token.
func decodeString(token []byte) (string, bool) {
	var s string
	if err := json.Unmarshal(token, &s); err != nil {
		return "", false
	}
	return s, true
}
