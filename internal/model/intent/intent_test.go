package intent

import "testing"

func TestParse(t *testing.T) {
	cases := map[string]Label{
		"compliance":   Compliance,
		" History ":    History,
		`"strategy".`:  Strategy,
		"UNCLASSIFIED": Unclassified,
	}
	for raw, want := range cases {
		got, ok := Parse(raw)
		if !ok || got != want {
			t.Fatalf("Parse(%q) = %q, %v; want %q", raw, got, ok, want)
		}
	}
	if _, ok := Parse("weather"); ok {
		t.Fatal("expected unknown label to be rejected")
	}
}

func TestClampConfidence(t *testing.T) {
	if ClampConfidence(-0.3) != 0 || ClampConfidence(1.7) != 1 || ClampConfidence(0.42) != 0.42 {
		t.Fatal("confidence not clamped to [0,1]")
	}
}
