// Package decode implements incremental extraction of string field values
// from a streaming, partially received JSON object.
//
// A FieldDecoder tracks one named field. It consumes text chunks split at
// arbitrary byte boundaries and reveals the decoded value as it arrives,
// emitting only suffixes that survived a full JSON string decode. Listeners
// therefore never observe a half-formed escape sequence, at the cost of a
// delay of at most one escape sequence at chunk boundaries.
package decode

import (
	"encoding/json"
	"strconv"
)

// Stage identifies the decoder state.
type Stage int

const (
	// StageSearchingKey scans for the quoted key token.
	StageSearchingKey Stage = iota
	// StageAfterKey skips whitespace between the key and its colon.
	StageAfterKey
	// StageWaitingForString skips whitespace between the colon and the
	// opening quote of the value.
	StageWaitingForString
	// StageCollecting accumulates and incrementally decodes the value.
	StageCollecting
	// StageComplete absorbs all further input permanently.
	StageComplete
)

// EmissionKind discriminates decoder emissions.
type EmissionKind int

const (
	// EmissionDelta is a newly revealed suffix of the decoded value.
	EmissionDelta EmissionKind = iota
	// EmissionComplete fires exactly once when the closing quote is found.
	EmissionComplete
)

// Emission is one decoder output, returned in order from ProcessChunk.
// The caller forwards emissions to the client channel and batch queue;
// the decoder holds no reference to either.
type Emission struct {
	// Field is the tracked field name.
	Field string
	// Kind is the emission kind.
	Kind EmissionKind
	// Delta is the newly revealed suffix. Set for EmissionDelta only.
	Delta string
	// Value is the full decoded value so far.
	Value string
}

// FieldDecoder extracts the string value of one named field from a
// streaming JSON object. Not safe for concurrent use; drive each decoder
// from a single goroutine. Independent decoders for different fields may
// consume the same chunk sequence without interference.
type FieldDecoder struct {
	field   string
	pattern string // quoted key token: "field"

	stage    Stage
	matchIdx int // matched prefix length of pattern

	raw        []byte // escaped value bytes collected so far
	escPending bool   // a backslash awaits its escape character
	hexPending int    // remaining \uXXXX hex digits to consume
	surrogate  bool   // last resolved escape was an unpaired high surrogate
	value      string // decoded value so far
	emittedLen int    // bytes of value already delivered
}

// NewFieldDecoder creates a decoder for the given field name.
func NewFieldDecoder(field string) *FieldDecoder {
	return &FieldDecoder{
		field:   field,
		pattern: `"` + field + `"`,
	}
}

// Field returns the tracked field name.
func (d *FieldDecoder) Field() string { return d.field }

// Stage returns the current decoder stage.
func (d *FieldDecoder) Stage() Stage { return d.stage }

// Value returns the full decoded value revealed so far.
func (d *FieldDecoder) Value() string { return d.value }

// Completed returns true once the closing quote has been consumed.
func (d *FieldDecoder) Completed() bool { return d.stage == StageComplete }

// ProcessChunk consumes an arbitrary-length slice of the stream and returns
// the emissions it produced, in order. Once the decoder is complete all
// input is ignored. A decoder left mid-value by a producer that ends early
// simply stays in its current stage; that is not an error.
//
// Reprocessing a character after a failed partial match is done by not
// advancing the loop index, never by recursion.
func (d *FieldDecoder) ProcessChunk(chunk string) []Emission {
	if d.stage == StageComplete {
		return nil
	}

	var out []Emission
	for i := 0; i < len(chunk); {
		c := chunk[i]

		switch d.stage {
		case StageSearchingKey:
			if c == d.pattern[d.matchIdx] {
				d.matchIdx++
				if d.matchIdx == len(d.pattern) {
					d.stage = StageAfterKey
					d.matchIdx = 0
				}
				i++
				continue
			}
			if d.matchIdx > 0 {
				// The character that broke a partial match may itself
				// begin a new match attempt: retry it at offset zero.
				d.matchIdx = 0
				continue
			}
			i++

		case StageAfterKey:
			switch {
			case isSpace(c):
				i++
			case c == ':':
				d.stage = StageWaitingForString
				i++
			default:
				// Key match was a false positive. Resume the search and
				// reprocess this character there.
				d.stage = StageSearchingKey
			}

		case StageWaitingForString:
			switch {
			case isSpace(c):
				i++
			case c == '"':
				d.stage = StageCollecting
				d.raw = d.raw[:0]
				d.escPending = false
				d.hexPending = 0
				d.surrogate = false
				d.value = ""
				d.emittedLen = 0
				i++
			default:
				d.stage = StageSearchingKey
			}

		case StageCollecting:
			out = d.collect(c, out)
			i++

		case StageComplete:
			return out
		}
	}

	return out
}

// collect consumes one value byte, maintaining escape state and attempting
// a decode whenever the buffer ends at a decodable boundary.
func (d *FieldDecoder) collect(c byte, out []Emission) []Emission {
	switch {
	case d.hexPending > 0:
		// Hex digits of \uXXXX arrive one at a time; chunk boundaries may
		// fall anywhere inside the four digits.
		d.raw = append(d.raw, c)
		d.hexPending--
		if d.hexPending == 0 {
			d.escPending = false
			d.trackSurrogate()
			out = d.tryEmit(out)
		}

	case d.escPending:
		d.raw = append(d.raw, c)
		if c == 'u' {
			d.hexPending = 4
		} else {
			d.escPending = false
			out = d.tryEmit(out)
		}

	case c == '\\':
		d.escPending = true
		d.raw = append(d.raw, c)

	case c == '"':
		out = d.finalize(out)

	default:
		d.raw = append(d.raw, c)
		out = d.tryEmit(out)
	}

	return out
}

// trackSurrogate records whether the \uXXXX escape that just resolved left
// the buffer ending in an unpaired high surrogate. Decoding is postponed
// while one is pending so a later low surrogate cannot contradict an
// already-emitted replacement character.
func (d *FieldDecoder) trackSurrogate() {
	if len(d.raw) < 6 {
		return
	}
	hex := string(d.raw[len(d.raw)-4:])
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		// Malformed hex digits: the buffer will never decode again and the
		// decoder goes permanently inert, which is the documented behavior
		// for corrupted input.
		d.surrogate = false
		return
	}
	d.surrogate = v >= 0xD800 && v <= 0xDBFF
}

// tryEmit attempts to decode the buffered escaped text and emits the newly
// revealed suffix when the decode succeeds and grew the value. A failed
// decode (buffer ends mid-escape) is expected and produces no emission.
func (d *FieldDecoder) tryEmit(out []Emission) []Emission {
	if d.escPending || d.hexPending > 0 || d.surrogate {
		return out
	}

	candidate := trimPartialRune(d.raw)
	decoded, ok := unquote(candidate)
	if !ok {
		return out
	}

	if len(decoded) > d.emittedLen {
		delta := decoded[d.emittedLen:]
		d.value = decoded
		d.emittedLen = len(decoded)
		out = append(out, Emission{
			Field: d.field,
			Kind:  EmissionDelta,
			Delta: delta,
			Value: d.value,
		})
	}

	return out
}

// finalize handles the unescaped closing quote: a final decode, the residual
// delta if any, and the single completion emission.
func (d *FieldDecoder) finalize(out []Emission) []Emission {
	if decoded, ok := unquote(d.raw); ok {
		if len(decoded) > d.emittedLen {
			out = append(out, Emission{
				Field: d.field,
				Kind:  EmissionDelta,
				Delta: decoded[d.emittedLen:],
				Value: decoded,
			})
		}
		d.value = decoded
		d.emittedLen = len(decoded)
	}

	out = append(out, Emission{
		Field: d.field,
		Kind:  EmissionComplete,
		Value: d.value,
	})

	d.stage = StageComplete
	d.raw = nil
	d.escPending = false
	d.hexPending = 0
	d.surrogate = false

	return out
}

// unquote decodes escaped JSON string content by wrapping it in quotes and
// parsing it as a string literal.
func unquote(raw []byte) (string, bool) {
	quoted := make([]byte, 0, len(raw)+2)
	quoted = append(quoted, '"')
	quoted = append(quoted, raw...)
	quoted = append(quoted, '"')

	var s string
	if err := json.Unmarshal(quoted, &s); err != nil {
		return "", false
	}
	return s, true
}

// trimPartialRune drops a trailing incomplete UTF-8 sequence so a decode
// attempt never turns a split multi-byte rune into a replacement character.
// The held-back bytes stay in the buffer and decode once completed.
func trimPartialRune(b []byte) []byte {
	n := len(b)
	i := n - 1
	for i >= 0 && n-i <= 3 && b[i]&0xC0 == 0x80 {
		i--
	}
	if i < 0 || b[i] < 0x80 {
		return b
	}

	var need int
	switch {
	case b[i]&0xE0 == 0xC0:
		need = 2
	case b[i]&0xF0 == 0xE0:
		need = 3
	case b[i]&0xF8 == 0xF0:
		need = 4
	default:
		return b
	}

	if n-i < need {
		return b[:i]
	}
	return b
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
