package config

import (
	"bufio"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	sectionPattern  = regexp.MustCompile(`^\[\s*([^\[\]]*?)\s*\]$`)
	keyValuePattern = regexp.MustCompile(`^(\w+)\s*=\s*(.+)$`)
	numberPattern   = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// ParseError reports text that cannot be read as a configuration file.
type ParseError struct {
	Path string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
}

// valueKind classifies a parsed literal.
type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindBool
	kindArray
)

// value is a parsed right-hand side of a key = value line.
type value struct {
	kind    valueKind
	str     string
	num     float64
	boolean bool
	items   []string
}

// Parse reads configuration text into Settings.
// Unknown sections and keys, and values of the wrong type for a known key,
// are ignored. The only failure is text that is not valid UTF-8.
func Parse(text string) (Settings, error) {
	var out Settings
	section := ""

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		if !utf8.ValidString(raw) {
			return Settings{}, &ParseError{Line: lineNo, Msg: "invalid UTF-8"}
		}

		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := sectionPattern.FindStringSubmatch(line); m != nil {
			section = m[1]
			continue
		}

		m := keyValuePattern.FindStringSubmatch(line)
		if m == nil || section == "" {
			continue
		}
		key, v := m[1], parseValue(m[2])

		switch section {
		case sectionEngine:
			switch {
			case key == keyDialect && v.kind == kindString:
				out.Engine.Dialect = v.str
			case key == keyParallelism && v.kind == kindNumber:
				if n, ok := positiveInt(v.num); ok {
					out.Engine.Parallelism = n
				}
			}
		case sectionSetup:
			switch {
			case key == keySQL && v.kind == kindArray:
				out.Setup.SQL = v.items
			case key == keyTrilogy && v.kind == kindArray:
				out.Setup.Trilogy = v.items
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Settings{}, &ParseError{Line: lineNo + 1, Msg: err.Error()}
	}

	return out, nil
}

// ParseRecord parses text and binds the result to a file location.
func ParseRecord(absPath, displayPath, text string) (Record, error) {
	settings, err := Parse(text)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.Path = absPath
		}
		return Record{}, err
	}
	return Record{
		AbsolutePath: absPath,
		DisplayPath:  displayPath,
		Dialect:      settings.Engine.Dialect,
		Parallelism:  settings.Engine.Parallelism,
		SetupScripts: settings.Setup.Scripts(),
	}, nil
}

// parseValue interprets a raw literal.
func parseValue(raw string) value {
	trimmed := strings.TrimSpace(stripComment(raw))

	if s, ok := unquote(trimmed); ok {
		return value{kind: kindString, str: s}
	}

	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		return value{kind: kindArray, items: splitArray(trimmed[1 : len(trimmed)-1])}
	}

	switch trimmed {
	case "true":
		return value{kind: kindBool, boolean: true}
	case "false":
		return value{kind: kindBool, boolean: false}
	}

	if numberPattern.MatchString(trimmed) {
		if n, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return value{kind: kindNumber, num: n}
		}
	}

	return value{kind: kindString, str: trimmed}
}

// stripComment removes a trailing " # ..." comment that sits outside quotes.
func stripComment(raw string) string {
	var quote rune
	prevSpace := false
	for i, r := range raw {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#' && prevSpace:
			return raw[:i]
		}
		prevSpace = r == ' ' || r == '\t'
	}
	return raw
}

// unquote strips matching single or double quotes from both ends.
func unquote(s string) (string, bool) {
	if len(s) < 2 {
		return "", false
	}
	first, last := s[0], s[len(s)-1]
	if (first == '"' || first == '\'') && first == last {
		return s[1 : len(s)-1], true
	}
	return "", false
}

// splitArray splits the inside of a bracketed array on commas that are not
// inside quotes. Empty items are dropped and quoted items are unquoted.
func splitArray(inner string) []string {
	items := []string{}
	if strings.TrimSpace(inner) == "" {
		return items
	}

	var current strings.Builder
	var quote rune
	flush := func() {
		item := strings.TrimSpace(current.String())
		current.Reset()
		if item == "" {
			return
		}
		if s, ok := unquote(item); ok {
			item = s
		}
		items = append(items, item)
	}

	for _, r := range inner {
		switch {
		case quote == 0 && (r == '"' || r == '\''):
			quote = r
		case quote != 0 && r == quote:
			quote = 0
		case quote == 0 && r == ',':
			flush()
			continue
		}
		current.WriteRune(r)
	}
	flush()

	return items
}

// positiveInt converts n to an int when it is a whole number greater than zero.
func positiveInt(n float64) (int, bool) {
	if n <= 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}
