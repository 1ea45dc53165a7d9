// Package stream splits raw payloads into bounded scan units along
// structural boundaries (JSON string values, log lines, form fields)
// and reassembles redacted output byte-identically outside redacted
// values. Malformed structured input degrades to plaintext scanning of
// the raw bytes; it is never skipped.
package stream

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/madhavanrx18/soc-challenge/internal/config"
	"github.com/madhavanrx18/soc-challenge/internal/pii"
)

// Unit is one scannable chunk of a payload, carrying the byte range it
// was cut from so redacted text can be spliced back.
type Unit struct {
	Text  string // decoded text handed to the scanner
	Field string // lowercased field name for JSON/form values, "" otherwise

	start  int  // raw byte range, start inclusive
	end    int  // end exclusive
	quoted bool // JSON string token: re-encode on change
	form   bool // form value: percent-re-encode on change
}

// Payload is a split input ready for scanning and reassembly.
type Payload struct {
	ContentType pii.ContentType
	Malformed   bool  // declared structure unparsable, fell back to plaintext
	Err         error // the pii.MalformedInputError behind a fallback

	raw   []byte
	units []Unit
}

// Units returns the scan units in payload order.
func (p *Payload) Units() []Unit { return p.units }

// Adapter splits and reassembles payloads.
type Adapter struct {
	skipFields map[string]struct{}
	logger     *zap.Logger
}

// New creates an adapter. skipFields lists JSON/form field names whose
// values are known schema metadata and skipped for performance;
// everything else is always scanned.
func New(cfg config.StreamConfig, logger *zap.Logger) *Adapter {
	skip := make(map[string]struct{}, len(cfg.SkipFields))
	for _, f := range cfg.SkipFields {
		skip[strings.ToLower(f)] = struct{}{}
	}
	return &Adapter{skipFields: skip, logger: logger}
}

// Split cuts a payload into scan units for its declared content type.
// It never fails: malformed JSON/FORM input comes back as a plaintext
// payload with Malformed set and Err carrying the parse failure.
func (a *Adapter) Split(raw []byte, contentType pii.ContentType) *Payload {
	switch contentType {
	case pii.ContentTypeJSON:
		if units, ok := a.jsonUnits(raw); ok {
			return &Payload{ContentType: contentType, raw: raw, units: units}
		}
		fallback := a.plaintextPayload(raw, contentType)
		fallback.Err = &pii.MalformedInputError{ContentType: contentType}
		return fallback
	case pii.ContentTypeForm:
		if units, ok := a.formUnits(raw); ok {
			return &Payload{ContentType: contentType, raw: raw, units: units}
		}
		fallback := a.plaintextPayload(raw, contentType)
		fallback.Err = &pii.MalformedInputError{ContentType: contentType}
		return fallback
	default:
		return &Payload{ContentType: pii.ContentTypePlaintext, raw: raw, units: plaintextUnits(raw)}
	}
}

func (a *Adapter) plaintextPayload(raw []byte, declared pii.ContentType) *Payload {
	a.logger.Debug("Falling back to plaintext scan",
		zap.String("declared", string(declared)),
		zap.Int("bytes", len(raw)),
	)
	return &Payload{
		ContentType: declared,
		Malformed:   true,
		raw:         raw,
		units:       plaintextUnits(raw),
	}
}

// plaintextUnits cuts line-oriented units. Newlines stay outside the
// units, so reassembly preserves them untouched; a trailing \r is kept
// out of the unit as well.
func plaintextUnits(raw []byte) []Unit {
	var units []Unit
	start := 0
	for start < len(raw) {
		end := bytes.IndexByte(raw[start:], '\n')
		var lineEnd int
		if end < 0 {
			lineEnd = len(raw)
		} else {
			lineEnd = start + end
		}
		contentEnd := lineEnd
		if contentEnd > start && raw[contentEnd-1] == '\r' {
			contentEnd--
		}
		if contentEnd > start {
			units = append(units, Unit{
				Text:  string(raw[start:contentEnd]),
				start: start,
				end:   contentEnd,
			})
		}
		if end < 0 {
			break
		}
		start = lineEnd + 1
	}
	return units
}

// formUnits cuts units from a k=v&k2=v2 body. Keys are preserved;
// values are percent-decoded for scanning and re-encoded on change.
func (a *Adapter) formUnits(raw []byte) ([]Unit, bool) {
	if len(raw) == 0 {
		return nil, true
	}
	var units []Unit
	pos := 0
	for pos <= len(raw) {
		segEnd := bytes.IndexByte(raw[pos:], '&')
		var end int
		if segEnd < 0 {
			end = len(raw)
		} else {
			end = pos + segEnd
		}
		segment := raw[pos:end]
		if len(segment) > 0 {
			eq := bytes.IndexByte(segment, '=')
			if eq < 0 {
				return nil, false
			}
			key, err := url.QueryUnescape(string(segment[:eq]))
			if err != nil {
				return nil, false
			}
			value, err := url.QueryUnescape(string(segment[eq+1:]))
			if err != nil {
				return nil, false
			}
			field := strings.ToLower(key)
			if _, skip := a.skipFields[field]; !skip && value != "" {
				units = append(units, Unit{
					Text:  value,
					Field: field,
					start: pos + eq + 1,
					end:   end,
					form:  true,
				})
			}
		}
		if segEnd < 0 {
			break
		}
		pos = end + 1
	}
	return units, true
}

// Reassemble splices redacted unit texts back into the raw payload.
// redacted must be parallel to Units(). Unchanged units copy their
// original bytes so escapes and encodings outside redacted values stay
// byte-identical.
func (p *Payload) Reassemble(redacted []string) []byte {
	if len(redacted) != len(p.units) {
		// Parallel-slice contract broken; fail safe with the original
		// masked wholesale rather than risk emitting raw content.
		return []byte(pii.MaskTag(pii.CategoryUnknown))
	}

	changed := false
	for i := range p.units {
		if redacted[i] != p.units[i].Text {
			changed = true
			break
		}
	}
	if !changed {
		return p.raw
	}

	var out bytes.Buffer
	out.Grow(len(p.raw) + 64)
	last := 0
	for i, u := range p.units {
		out.Write(p.raw[last:u.start])
		if redacted[i] == u.Text {
			out.Write(p.raw[u.start:u.end])
		} else {
			out.Write(encodeUnit(u, redacted[i]))
		}
		last = u.end
	}
	out.Write(p.raw[last:])
	return out.Bytes()
}

func encodeUnit(u Unit, text string) []byte {
	switch {
	case u.quoted:
		b, err := json.Marshal(text)
		if err != nil {
			return []byte(`"` + pii.MaskTag(pii.CategoryUnknown) + `"`)
		}
		return b
	case u.form:
		return []byte(url.QueryEscape(text))
	default:
		return []byte(text)
	}
}
