package model

import (
	"strconv"
	"strings"
)

// NormalizeOptionLabel converts the various correct-answer encodings seen in
// imported material (letter label, numeric index, stringified index) into a
// single canonical upper-case letter label. numOptions bounds the accepted
// range; ok is false when the value cannot name one of the options.
//
// "B" -> "B", "b" -> "B", "1" -> "B", 1 -> via strconv at the caller.
func NormalizeOptionLabel(raw string, numOptions int) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || numOptions <= 0 {
		return "", false
	}

	if len(raw) == 1 {
		c := raw[0]
		if c >= 'A' && c < 'A'+byte(numOptions) {
			return string(c), true
		}
		if c >= 'a' && c < 'a'+byte(numOptions) {
			return string(c - 'a' + 'A'), true
		}
	}

	// Stringified zero-based index.
	if idx, err := strconv.Atoi(raw); err == nil && idx >= 0 && idx < numOptions {
		return LabelForIndex(idx), true
	}

	return "", false
}

// LabelForIndex returns the letter label for a zero-based option index.
func LabelForIndex(i int) string {
	return string(rune('A' + i))
}

// TrueFalseLabel canonicalizes true/false answers to "true" or "false".
func TrueFalseLabel(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "t", "đúng":
		return "true", true
	case "false", "f", "sai":
		return "false", true
	}
	return "", false
}
