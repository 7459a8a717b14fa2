package decode_test

import (
	"strings"
	"testing"

	"github.com/mirage-sh/mirage/decode"
)

// collectField filters one field's emissions out of a mixed stream.
func collectField(emissions []decode.Emission, field string) (deltas string, completions int, finalValue string) {
	var sb strings.Builder
	for _, em := range emissions {
		if em.Field != field {
			continue
		}
		switch em.Kind {
		case decode.EmissionDelta:
			sb.WriteString(em.Delta)
		case decode.EmissionComplete:
			completions++
			finalValue = em.Value
		}
	}
	return sb.String(), completions, finalValue
}

func TestSet_IndependentFields(t *testing.T) {
	text := `{"command":"grep -r \"err\" .","explanation":"searches\nrecursively"}`

	// The same interleaved chunk sequence drives both decoders; neither may
	// disturb the other's result, under every binary split.
	for i := 0; i <= len(text); i++ {
		s := decode.NewSet("command", "explanation")
		var emissions []decode.Emission
		emissions = append(emissions, s.Feed(text[:i])...)
		emissions = append(emissions, s.Feed(text[i:])...)

		cmd, cmdDone, cmdFinal := collectField(emissions, "command")
		if cmd != `grep -r "err" .` || cmdDone != 1 || cmdFinal != cmd {
			t.Fatalf("split %d: command deltas=%q completions=%d final=%q", i, cmd, cmdDone, cmdFinal)
		}
		expl, explDone, explFinal := collectField(emissions, "explanation")
		if expl != "searches\nrecursively" || explDone != 1 || explFinal != expl {
			t.Fatalf("split %d: explanation deltas=%q completions=%d final=%q", i, expl, explDone, explFinal)
		}
	}
}

func TestSet_CompletedValues(t *testing.T) {
	s := decode.NewSet("output", "explanation")
	s.Feed(`{"output":"done","explanation":"still stream`)

	values := s.CompletedValues()
	if len(values) != 1 {
		t.Fatalf("completed values = %v, want only output", values)
	}
	if values["output"] != "done" {
		t.Errorf("output = %q, want done", values["output"])
	}
}

func TestSet_Empty(t *testing.T) {
	s := decode.NewSet()
	if !s.Empty() {
		t.Error("set with no fields should be empty")
	}
	if out := s.Feed(`{"x":"y"}`); out != nil {
		t.Errorf("empty set emitted %v", out)
	}
	if values := s.CompletedValues(); len(values) != 0 {
		t.Errorf("empty set completed values = %v", values)
	}
}

func TestSet_EmissionOrderFollowsRegistration(t *testing.T) {
	s := decode.NewSet("a", "b")
	emissions := s.Feed(`{"a":"1","b":"2"}`)

	var fields []string
	for _, em := range emissions {
		if em.Kind == decode.EmissionComplete {
			fields = append(fields, em.Field)
		}
	}
	if len(fields) != 2 || fields[0] != "a" || fields[1] != "b" {
		t.Errorf("completion order = %v, want [a b]", fields)
	}
}
