package parser

import "strings"

// fieldHit is a raw extracted value plus the line it came from, kept so a
// parse failure can point at the offending line.
type fieldHit struct {
	Value string
	Line  int
}

type fieldMap map[string]fieldHit

// layoutStrategy is one bank template family. Strategies are tried in
// priority order; the first one that yields an amount wins.
type layoutStrategy interface {
	Name() string
	TryExtract(lines []string) (fieldMap, bool)
}

// inlineLayout handles templates where a label line is immediately followed
// by its value line. Fields are discovered by scanning for label tokens
// anywhere in the sequence, because optional sections (commission, message)
// shift every offset below them.
type inlineLayout struct{}

func (inlineLayout) Name() string { return "inline" }

func (inlineLayout) TryExtract(lines []string) (fieldMap, bool) {
	fields := make(fieldMap)
	for i := 0; i < len(lines)-1; i++ {
		key, ok := labelFields[lines[i]]
		if !ok {
			continue
		}
		value := lines[i+1]
		// A label followed by another label means this is not an inline
		// template (or the value is missing); skip the pair.
		if isLabel(value) {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = fieldHit{Value: value, Line: i + 1}
		}
	}
	_, hasAmount := fields[fieldAmount]
	return fields, hasAmount
}

// blockLayout handles templates where a contiguous run of label lines is
// followed by an equal-length contiguous run of value lines, paired
// positionally. Observed in at least one bank's template.
type blockLayout struct{}

func (blockLayout) Name() string { return "block" }

func (blockLayout) TryExtract(lines []string) (fieldMap, bool) {
	start := -1
	for i, line := range lines {
		if isLabel(line) {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, false
	}

	n := 0
	for start+n < len(lines) && isLabel(lines[start+n]) {
		n++
	}
	if n < 2 || start+2*n > len(lines) {
		return nil, false
	}

	fields := make(fieldMap)
	for j := 0; j < n; j++ {
		key := labelFields[lines[start+j]]
		valueLine := start + n + j
		fields[key] = fieldHit{Value: lines[valueLine], Line: valueLine}
	}
	_, hasAmount := fields[fieldAmount]
	return fields, hasAmount
}

// splitLines produces the trimmed, non-empty line list every strategy
// operates on.
func splitLines(rawText string) []string {
	var lines []string
	for _, line := range strings.Split(rawText, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
