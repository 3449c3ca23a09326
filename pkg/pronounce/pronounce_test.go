package pronounce

import "testing"

func TestParseCompactFixture(t *testing.T) {
	text := `
    # This is a comment - disabled rule
    TTS \bTali\b Tar-lee # Dog name
    TTS \b3M\b "three M" # Company name
    STT "me tool" metool # Whisper correction
    # TTS \btest\b TEST # Disabled rule
    `

	rs, err := ParseCompact(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rs.TTS) != 2 {
		t.Fatalf("expected 2 TTS rules, got %d", len(rs.TTS))
	}
	if len(rs.STT) != 1 {
		t.Fatalf("expected 1 STT rule, got %d", len(rs.STT))
	}
	if rs.TTS[0].Pattern != `\bTali\b` || rs.TTS[0].Replacement != "Tar-lee" || rs.TTS[0].Description != "Dog name" {
		t.Errorf("unexpected first TTS rule: %+v", rs.TTS[0])
	}
	if rs.TTS[1].Replacement != "three M" {
		t.Errorf("expected quoted replacement 'three M', got %q", rs.TTS[1].Replacement)
	}
	if rs.STT[0].Pattern != "me tool" || rs.STT[0].Replacement != "metool" {
		t.Errorf("unexpected STT rule: %+v", rs.STT[0])
	}
}

func TestRoundTrip(t *testing.T) {
	rs := RuleSet{
		TTS: []Rule{
			{Direction: TTS, Pattern: `\bPoE\b`, Replacement: "P O E", Description: "Power over Ethernet"},
			{Direction: TTS, Pattern: `\bGbE\b`, Replacement: "gigabit ethernet", Description: ""},
		},
		STT: []Rule{
			{Direction: STT, Pattern: "me tool", Replacement: "metool", Description: "Whisper correction"},
		},
	}

	serialized := Serialize(rs)
	parsed, err := ParseCompact(serialized)
	if err != nil {
		t.Fatalf("unexpected error re-parsing: %v", err)
	}

	if len(parsed.TTS) != len(rs.TTS) || len(parsed.STT) != len(rs.STT) {
		t.Fatalf("rule counts changed across round trip: got tts=%d stt=%d", len(parsed.TTS), len(parsed.STT))
	}
	for i, want := range rs.TTS {
		got := parsed.TTS[i]
		if got != want {
			t.Errorf("TTS[%d]: expected %+v, got %+v", i, want, got)
		}
	}
	for i, want := range rs.STT {
		got := parsed.STT[i]
		if got != want {
			t.Errorf("STT[%d]: expected %+v, got %+v", i, want, got)
		}
	}
}

func TestApply(t *testing.T) {
	rules := []Rule{{Pattern: "PoE", Replacement: "P O E"}}
	if got := Apply(rules, "needs PoE for it"); got != "needs P O E for it" {
		t.Errorf("unexpected Apply result: %q", got)
	}
}

func TestMissingDirectionIsError(t *testing.T) {
	if _, err := ParseCompact("bag carrier # joke"); err == nil {
		t.Fatal("expected error for rule missing TTS/STT direction")
	}
}
