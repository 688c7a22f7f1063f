package encfix

import "unicode"

func neighbours(runes []rune, i int) (prev rune, hasPrev bool, next rune, hasNext bool) {
	if i > 0 {
		prev, hasPrev = runes[i-1], true
	}
	if i < len(runes)-1 {
		next, hasNext = runes[i+1], true
	}
	return
}

// classifyPrimary applies the 'è' rules in order; first match wins.
func classifyPrimary(runes []rune, i int) (Verdict, Rule) {
	prev, hasPrev, next, hasNext := neighbours(runes, i)

	// Two adjacent è never occur in French.
	if (hasPrev && prev == Primary) || (hasNext && next == Primary) {
		return Corrupted, RuleAdjacentPair
	}

	// French words do not start with è. Digits count as word context.
	if !hasPrev || !(unicode.IsLetter(prev) || unicode.IsDigit(prev) || prev == '\'') {
		return Corrupted, RuleWordInitial
	}

	// 5ème, 1ère
	if unicode.IsDigit(prev) && hasNext && unicode.IsLower(next) {
		return Legitimate, RuleOrdinal
	}

	if hasNext && unicode.IsUpper(next) {
		return Corrupted, RuleUpperAfter
	}

	if upperContext(runes, i) {
		return Corrupted, RuleUpperContext
	}
	return Legitimate, RuleMixedCase
}

// classifySecondary only fires inside clear ALL-CAPS runs. Interior 'à'
// without uppercase on both sides is kept even when it might be damaged.
func classifySecondary(runes []rune, i int) (Verdict, Rule) {
	prev, hasPrev, next, hasNext := neighbours(runes, i)
	prevUpper := hasPrev && unicode.IsUpper(prev)

	if prevUpper && hasNext && unicode.IsUpper(next) {
		return Corrupted, RuleCapsNeighbours
	}

	atBoundary := !hasNext || !unicode.IsLetter(next)
	if atBoundary && prevUpper && upperContext(runes, i) {
		return Corrupted, RuleCapsTrailing
	}
	return Legitimate, RuleConservative
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}

// upperContext reports whether the word around pos is predominantly
// uppercase: at least one uppercase letter and no fewer uppercase than
// lowercase letters, not counting pos itself.
func upperContext(runes []rune, pos int) bool {
	start := pos
	for start > 0 && isWordRune(runes[start-1]) {
		start--
	}
	end := pos
	for end < len(runes)-1 && isWordRune(runes[end+1]) {
		end++
	}

	upper, lower := 0, 0
	for j := start; j <= end; j++ {
		if j == pos {
			continue
		}
		switch {
		case unicode.IsUpper(runes[j]):
			upper++
		case unicode.IsLower(runes[j]):
			lower++
		}
	}
	return upper > 0 && upper >= lower
}
