package exposition

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// componentSuffixes are the sample-name suffixes that attach a series to
// an already-declared family, e.g. x_bucket lines under "# TYPE x histogram".
var componentSuffixes = []string{"_bucket", "_count", "_sum", "_total", "_created", "_info"}

type parser struct {
	byName map[string]*MetricFamily
	order  []*MetricFamily
}

// Parse reads one exposition body and returns its metric families in
// first-appearance order. Malformed lines are skipped with a warning;
// a single bad line never aborts the body.
func Parse(body []byte) []*MetricFamily {
	p := parser{byName: make(map[string]*MetricFamily)}

	lineNo := 0
	for start := 0; start < len(body); {
		var raw []byte
		if nl := bytes.IndexByte(body[start:], '\n'); nl >= 0 {
			raw = body[start : start+nl]
			start += nl + 1
		} else {
			raw = body[start:]
			start = len(body)
		}
		lineNo++

		line := strings.TrimRight(string(raw), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if line[0] == '#' {
			p.handleComment(line)
			continue
		}
		if err := p.handleSample(line); err != nil {
			slog.Warn("skipping malformed exposition line", "line", lineNo, "err", err)
		}
	}
	return p.order
}

// ensureFamily returns the family registered under name, creating an
// untyped one on first sight.
func (p *parser) ensureFamily(name string) *MetricFamily {
	if f, ok := p.byName[name]; ok {
		return f
	}
	f := &MetricFamily{Name: name, Type: TypeUntyped}
	p.byName[name] = f
	p.order = append(p.order, f)
	return f
}

// familyFor resolves the family a sample line belongs to: an exact name
// match, or a declared family plus one of the component suffixes.
func (p *parser) familyFor(sampleName string) *MetricFamily {
	if f, ok := p.byName[sampleName]; ok {
		return f
	}
	for _, suffix := range componentSuffixes {
		base, ok := strings.CutSuffix(sampleName, suffix)
		if !ok || base == "" {
			continue
		}
		if f, ok := p.byName[base]; ok {
			return f
		}
	}
	return p.ensureFamily(sampleName)
}

func (p *parser) handleComment(line string) {
	rest := strings.TrimLeft(line[1:], " \t")
	keyword, rest := nextToken(rest)
	switch keyword {
	case "HELP":
		name, text := nextToken(rest)
		if name == "" {
			return
		}
		p.ensureFamily(name).Help = unescapeHelp(text)
	case "TYPE":
		name, rest := nextToken(rest)
		typ, _ := nextToken(rest)
		if name == "" || typ == "" {
			return
		}
		p.ensureFamily(name).Type = parseType(typ)
	default:
		// Plain comment.
	}
}

func (p *parser) handleSample(line string) error {
	i := 0
	for i < len(line) && line[i] != '{' && line[i] != ' ' && line[i] != '\t' {
		i++
	}
	name := line[:i]
	if name == "" {
		return errors.New("missing metric name")
	}
	i = skipSpace(line, i)

	var labels map[string]string
	if i < len(line) && line[i] == '{' {
		var err error
		labels, i, err = parseLabelBlock(line, i+1)
		if err != nil {
			return err
		}
		i = skipSpace(line, i)
	}

	rest := line[i:]
	exemplar := ""
	if hash := strings.IndexByte(rest, '#'); hash >= 0 {
		exemplar = strings.TrimSpace(rest[hash+1:])
		rest = rest[:hash]
	}

	fields := strings.Fields(rest)
	switch {
	case len(fields) == 0:
		return errors.New("missing value")
	case len(fields) > 2:
		return fmt.Errorf("unexpected trailing tokens after timestamp: %q", fields[2])
	}

	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return fmt.Errorf("invalid value %q", fields[0])
	}

	var ts *int64
	if len(fields) == 2 {
		t, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q", fields[1])
		}
		ts = &t
	}

	f := p.familyFor(name)
	f.Samples = append(f.Samples, Sample{
		Name:      name,
		Labels:    labels,
		Value:     value,
		Timestamp: ts,
		Exemplar:  exemplar,
	})
	return nil
}

// parseLabelBlock parses the contents of {...} starting just past the
// opening brace. Returns the labels and the index past the closing brace.
func parseLabelBlock(line string, i int) (map[string]string, int, error) {
	labels := make(map[string]string)
	for {
		i = skipSpace(line, i)
		if i >= len(line) {
			return nil, i, errors.New("unterminated label block")
		}
		switch line[i] {
		case '}':
			return labels, i + 1, nil
		case ',':
			i++
			continue
		}

		start := i
		for i < len(line) && line[i] != '=' && line[i] != ' ' && line[i] != '\t' && line[i] != '}' {
			i++
		}
		name := line[start:i]
		if name == "" {
			return nil, i, errors.New("empty label name")
		}
		i = skipSpace(line, i)
		if i >= len(line) || line[i] != '=' {
			return nil, i, fmt.Errorf("expected '=' after label name %q", name)
		}
		i = skipSpace(line, i+1)
		if i >= len(line) || line[i] != '"' {
			return nil, i, fmt.Errorf("expected quoted value for label %q", name)
		}
		i++

		var sb strings.Builder
		for {
			if i >= len(line) {
				return nil, i, fmt.Errorf("unterminated value for label %q", name)
			}
			c := line[i]
			if c == '\\' {
				if i+1 >= len(line) {
					return nil, i, fmt.Errorf("dangling escape in value for label %q", name)
				}
				switch line[i+1] {
				case '\\':
					sb.WriteByte('\\')
				case '"':
					sb.WriteByte('"')
				case 'n':
					sb.WriteByte('\n')
				default:
					sb.WriteByte('\\')
					sb.WriteByte(line[i+1])
				}
				i += 2
				continue
			}
			if c == '"' {
				i++
				break
			}
			sb.WriteByte(c)
			i++
		}
		labels[name] = sb.String()
	}
}

func parseType(s string) MetricType {
	switch MetricType(s) {
	case TypeCounter, TypeGauge, TypeHistogram, TypeSummary, TypeUntyped:
		return MetricType(s)
	default:
		return TypeUntyped
	}
}

// nextToken splits off the first space/tab-delimited token and returns
// it with the remainder (leading whitespace trimmed).
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t")
	end := strings.IndexAny(s, " \t")
	if end < 0 {
		return s, ""
	}
	return s[:end], strings.TrimLeft(s[end:], " \t")
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func unescapeHelp(s string) string {
	if !strings.ContainsRune(s, '\\') {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\\':
				sb.WriteByte('\\')
				i++
				continue
			case 'n':
				sb.WriteByte('\n')
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// EscapeHelp is the inverse of HELP-text decoding: backslashes and
// newlines become \\ and \n so the text survives a round trip.
func EscapeHelp(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}

// EscapeLabelValue escapes a label value for rendering inside quotes.
func EscapeLabelValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
