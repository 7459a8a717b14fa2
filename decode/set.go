package decode

// Set fans one chunk sequence out to independent field decoders.
// Decoders share no mutable state; the set is purely a routing convenience.
type Set struct {
	decoders []*FieldDecoder
}

// NewSet creates a set with one decoder per field name, in order.
// An empty set is valid and feeds chunks to nothing.
func NewSet(fields ...string) *Set {
	s := &Set{decoders: make([]*FieldDecoder, 0, len(fields))}
	for _, f := range fields {
		s.decoders = append(s.decoders, NewFieldDecoder(f))
	}
	return s
}

// Feed routes the chunk through every decoder and returns their emissions
// concatenated in decoder registration order.
func (s *Set) Feed(chunk string) []Emission {
	var out []Emission
	for _, d := range s.decoders {
		out = append(out, d.ProcessChunk(chunk)...)
	}
	return out
}

// Decoders returns the decoders in registration order.
func (s *Set) Decoders() []*FieldDecoder {
	return s.decoders
}

// Empty returns true when the set tracks no fields.
func (s *Set) Empty() bool {
	return len(s.decoders) == 0
}

// CompletedValues returns the values of decoders that reached completion.
// Partially decoded fields are excluded; callers fall back to the
// producer's structured result for those.
func (s *Set) CompletedValues() map[string]string {
	values := make(map[string]string, len(s.decoders))
	for _, d := range s.decoders {
		if d.Completed() {
			values[d.Field()] = d.Value()
		}
	}
	return values
}
