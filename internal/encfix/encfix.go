// Package encfix repairs text damaged by the legacy charset transcoding step
// that turned uppercase 'S' into 'è' (and, inside ALL-CAPS runs, into 'à').
//
// Every occurrence of a suspect glyph is classified independently against the
// unmodified input: either it stands in for a corrupted 'S' or it is ordinary
// French text and must be kept. Positions are collected first and replaced in
// a single pass, the same way sanitize spans are applied.
//
// Usage:
//
//	fixed := encfix.RepairString("TRANèMIèèION DE DOCUMENTè")
//	// "TRANSMISSION DE DOCUMENTS"
package encfix

import "strings"

const (
	// Primary is the glyph the transcoding bug produced for 'S'.
	Primary = 'è'
	// Secondary is only suspected inside clear ALL-CAPS runs.
	Secondary = 'à'
	// Target is the letter corrupted occurrences are restored to.
	Target = 'S'
)

const suspects = string(Primary) + string(Secondary)

// Verdict is the outcome of classifying one occurrence.
type Verdict int

const (
	Legitimate Verdict = iota
	Corrupted
)

func (v Verdict) String() string {
	if v == Corrupted {
		return "corrupted"
	}
	return "legitimate"
}

// Rule names the heuristic that decided an occurrence.
type Rule string

const (
	RuleAdjacentPair   Rule = "adjacent-pair"
	RuleWordInitial    Rule = "word-initial"
	RuleOrdinal        Rule = "ordinal"
	RuleUpperAfter     Rule = "upper-after"
	RuleUpperContext   Rule = "upper-context"
	RuleMixedCase      Rule = "mixed-case"
	RuleCapsNeighbours Rule = "caps-neighbours"
	RuleCapsTrailing   Rule = "caps-trailing"
	RuleConservative   Rule = "conservative"
)

// Occurrence describes one suspect glyph found in a text.
type Occurrence struct {
	Index   int  // rune index in the text
	Offset  int  // byte offset of the glyph (UTF-8)
	Glyph   rune // Primary or Secondary
	Verdict Verdict
	Rule    Rule
}

// Contains reports whether text holds any suspect glyph.
func Contains(text string) bool {
	return strings.ContainsAny(text, suspects)
}

// Classify returns a decision for every suspect glyph in text, in order.
// Decisions only look at the text as given, never at other decisions.
func Classify(text string) []Occurrence {
	if !Contains(text) {
		return nil
	}
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text))
	for off, r := range text {
		runes = append(runes, r)
		offsets = append(offsets, off)
	}

	var out []Occurrence
	for i, r := range runes {
		var v Verdict
		var rule Rule
		switch r {
		case Primary:
			v, rule = classifyPrimary(runes, i)
		case Secondary:
			v, rule = classifySecondary(runes, i)
		default:
			continue
		}
		out = append(out, Occurrence{
			Index:   i,
			Offset:  offsets[i],
			Glyph:   r,
			Verdict: v,
			Rule:    rule,
		})
	}
	return out
}

// Pass applies one classification pass: every corrupted occurrence of the
// input is replaced with Target, everything else is copied through.
func Pass(text string) string {
	occ := Classify(text)
	if len(occ) == 0 {
		return text
	}
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, o := range occ {
		if o.Verdict != Corrupted {
			continue
		}
		b.WriteString(text[last:o.Offset])
		b.WriteRune(Target)
		last = o.Offset + len(string(o.Glyph))
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// RepairString returns text with every corrupted glyph restored.
//
// A restored 'S' is uppercase and can tip the case balance of its word, so
// passes are repeated until the text is stable. Every pass strictly removes
// suspect glyphs, which bounds the loop; on real data the second pass is
// almost always a no-op.
func RepairString(text string) string {
	for {
		next := Pass(text)
		if next == text {
			return text
		}
		text = next
	}
}

// Repair is the nullable form used for database fields: nil stays nil.
func Repair(text *string) *string {
	if text == nil {
		return nil
	}
	fixed := RepairString(*text)
	return &fixed
}
