package spec

import (
	"fmt"
	"strings"
)

// Placeholder markers and the single namespace expressions may refer to.
const (
	OpenMarker     = "<%"
	CloseMarker    = "%>"
	ParametersRoot = "$parameters"
)

// Template is a parsed command string: literal text interleaved with
// placeholder references.
type Template struct {
	segments []segment
}

type segment struct {
	literal string
	// path is the lookup under $parameters; nil for literal segments.
	path []string
}

// TemplateError reports a malformed placeholder.
type TemplateError struct {
	Offset int
	Msg    string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("invalid placeholder at offset %d: %s", e.Offset, e.Msg)
}

// ParseTemplate scans s for <% ... %> placeholders.
func ParseTemplate(s string) (*Template, error) {
	return parseTemplate(s, false)
}

// parseTemplate scans s for placeholders. With openTail set, an open marker
// that is never closed is kept as literal text instead of being an error.
func parseTemplate(s string, openTail bool) (*Template, error) {
	t := &Template{}
	rest := s
	offset := 0
	for {
		open := strings.Index(rest, OpenMarker)
		if open < 0 {
			t.addLiteral(rest)
			return t, nil
		}
		t.addLiteral(rest[:open])

		body := rest[open+len(OpenMarker):]
		end := strings.Index(body, CloseMarker)
		if end < 0 {
			if openTail {
				t.addLiteral(rest[open:])
				return t, nil
			}
			return nil, &TemplateError{Offset: offset + open, Msg: "missing " + CloseMarker}
		}

		p := exprParser{src: body[:end], base: offset + open + len(OpenMarker)}
		path, err := p.parse()
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, segment{path: path})

		consumed := open + len(OpenMarker) + end + len(CloseMarker)
		rest = rest[consumed:]
		offset += consumed
	}
}

func (t *Template) addLiteral(s string) {
	if s != "" {
		t.segments = append(t.segments, segment{literal: s})
	}
}

// HasPlaceholders reports whether the template contains any placeholder.
func (t *Template) HasPlaceholders() bool {
	for _, seg := range t.segments {
		if seg.path != nil {
			return true
		}
	}
	return false
}

// References returns the parameter paths the template looks up, in order.
func (t *Template) References() [][]string {
	var refs [][]string
	for _, seg := range t.segments {
		if seg.path != nil {
			refs = append(refs, append([]string(nil), seg.path...))
		}
	}
	return refs
}

// Execute substitutes every placeholder with the value returned by lookup.
func (t *Template) Execute(lookup func(path []string) (string, error)) (string, error) {
	var b strings.Builder
	for _, seg := range t.segments {
		if seg.path == nil {
			b.WriteString(seg.literal)
			continue
		}
		v, err := lookup(seg.path)
		if err != nil {
			return "", err
		}
		b.WriteString(v)
	}
	return b.String(), nil
}

// exprParser is a recursive-descent parser for the placeholder grammar:
//
//	expr  = ws "$parameters" ( "." ident )+ ws
//	ident = ( letter | "_" ) { letter | digit | "_" | "-" }
type exprParser struct {
	src  string
	pos  int
	base int
}

func (p *exprParser) parse() ([]string, error) {
	p.skipSpace()
	if !strings.HasPrefix(p.src[p.pos:], ParametersRoot) {
		return nil, p.errorf("expression must start with %s", ParametersRoot)
	}
	p.pos += len(ParametersRoot)

	var path []string
	for p.pos < len(p.src) && p.src[p.pos] == '.' {
		p.pos++
		ident, err := p.ident()
		if err != nil {
			return nil, err
		}
		path = append(path, ident)
	}
	if len(path) == 0 {
		return nil, p.errorf("expected .name after %s", ParametersRoot)
	}

	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos:])
	}
	return path, nil
}

func (p *exprParser) ident() (string, error) {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if isLetter(c) || c == '_' || (p.pos > start && (isDigit(c) || c == '-')) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", p.errorf("expected identifier")
	}
	return p.src[start:p.pos], nil
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) errorf(format string, args ...any) error {
	return &TemplateError{Offset: p.base + p.pos, Msg: fmt.Sprintf(format, args...)}
}

func isLetter(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }

func isDigit(c byte) bool { return '0' <= c && c <= '9' }
