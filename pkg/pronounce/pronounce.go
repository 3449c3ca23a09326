// Package pronounce implements the compact pronunciation-rule format:
// one rule per line, `DIRECTION PATTERN REPLACEMENT # description`, with
// `#`-prefixed lines and blank lines ignored. Ported from
// original_source's voice_mode/pronounce.py compact parser (only the test
// harness for it survived distillation; the grammar below is reconstructed
// from test_pronounce_compact.py's fixtures).
package pronounce

import (
	"fmt"
	"strings"
)

// Direction selects which leg of the conversation a rule rewrites.
type Direction string

const (
	TTS Direction = "tts"
	STT Direction = "stt"
)

// Rule is one pronunciation substitution.
type Rule struct {
	Direction   Direction
	Pattern     string
	Replacement string
	Description string
}

// RuleSet groups rules by direction, as PronounceManager.rules does.
type RuleSet struct {
	TTS []Rule
	STT []Rule
}

// ParseCompact parses the compact rule text. Disabled (comment-out) lines
// start with '#' and are skipped entirely; inline '# description' trailing
// text is kept as Rule.Description, not treated as disabling the rule.
func ParseCompact(text string) (RuleSet, error) {
	var rs RuleSet
	for lineNo, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields, description, err := splitRuleLine(line)
		if err != nil {
			return rs, fmt.Errorf("pronounce: line %d: %w", lineNo+1, err)
		}
		if len(fields) != 3 {
			return rs, fmt.Errorf("pronounce: line %d: expected \"DIRECTION PATTERN REPLACEMENT\", got %d field(s)", lineNo+1, len(fields))
		}

		dir := Direction(strings.ToLower(fields[0]))
		if dir != TTS && dir != STT {
			return rs, fmt.Errorf("pronounce: line %d: rule must start with TTS or STT, got %q", lineNo+1, fields[0])
		}

		rule := Rule{Direction: dir, Pattern: fields[1], Replacement: fields[2], Description: description}
		switch dir {
		case TTS:
			rs.TTS = append(rs.TTS, rule)
		case STT:
			rs.STT = append(rs.STT, rule)
		}
	}
	return rs, nil
}

// splitRuleLine tokenizes a rule line into (direction, pattern, replacement)
// fields, honoring double-quoted fields that may contain spaces, and
// separates a trailing unquoted '# ...' comment as the description.
func splitRuleLine(line string) (fields []string, description string, err error) {
	body := line
	if idx := findCommentStart(line); idx >= 0 {
		body = strings.TrimSpace(line[:idx])
		description = strings.TrimSpace(line[idx+1:])
	}

	i := 0
	for i < len(body) {
		for i < len(body) && body[i] == ' ' {
			i++
		}
		if i >= len(body) {
			break
		}
		if body[i] == '"' {
			end := strings.IndexByte(body[i+1:], '"')
			if end < 0 {
				return nil, "", fmt.Errorf("unterminated quoted field")
			}
			fields = append(fields, body[i+1:i+1+end])
			i = i + 1 + end + 1
			continue
		}
		start := i
		for i < len(body) && body[i] != ' ' {
			i++
		}
		fields = append(fields, body[start:i])
	}
	return fields, description, nil
}

// findCommentStart finds a '#' that starts a trailing comment, i.e. one not
// inside a quoted field.
func findCommentStart(line string) int {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return i
			}
		}
	}
	return -1
}

// Serialize renders a RuleSet back into compact-format text, one rule per
// line, TTS rules first. ParseCompact(Serialize(rs)) reproduces rs for rules
// whose fields contain no double quote (the format has no escape for one)
// and whose descriptions have no leading or trailing whitespace.
func Serialize(rs RuleSet) string {
	var b strings.Builder
	for _, r := range rs.TTS {
		writeRuleLine(&b, r)
	}
	for _, r := range rs.STT {
		writeRuleLine(&b, r)
	}
	return b.String()
}

func writeRuleLine(b *strings.Builder, r Rule) {
	b.WriteString(strings.ToUpper(string(r.Direction)))
	b.WriteByte(' ')
	b.WriteString(quoteField(r.Pattern))
	b.WriteByte(' ')
	b.WriteString(quoteField(r.Replacement))
	if r.Description != "" {
		b.WriteString(" # ")
		b.WriteString(r.Description)
	}
	b.WriteByte('\n')
}

func quoteField(s string) string {
	if strings.ContainsAny(s, " \t\"#") {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return s
}

// Apply runs every rule in order against text, replacing each literal
// Pattern occurrence with Replacement. Patterns are treated as plain
// substrings, not regular expressions, matching the conservative rewrite
// spec.md's non-goal carve-out expects from the default implementation.
func Apply(rules []Rule, text string) string {
	out := text
	for _, r := range rules {
		out = strings.ReplaceAll(out, r.Pattern, r.Replacement)
	}
	return out
}
