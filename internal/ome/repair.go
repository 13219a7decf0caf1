package ome

import (
	"bytes"
	"regexp"
)

// Rule is one named repair transform. Apply returns its input unchanged when
// the rule does not apply.
type Rule struct {
	Apply func([]byte) []byte
	Name  string
}

// ReplaceRule builds a rule from a regular expression and replacement
// template (see regexp.Regexp.ReplaceAll).
func ReplaceRule(name, pattern, replacement string) Rule {
	re := regexp.MustCompile(pattern)
	repl := []byte(replacement)
	return Rule{
		Name:  name,
		Apply: func(b []byte) []byte { return re.ReplaceAll(b, repl) },
	}
}

// DefaultRules returns the built-in repair set for documents written by
// common acquisition software.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "strip-leading-junk", Apply: stripLeadingJunk},
		ReplaceRule("remove-control-chars", `[\x00-\x08\x0B\x0C\x0E-\x1F]`, ""),
		{Name: "escape-ampersands", Apply: escapeAmpersands},
		ReplaceRule("decimal-commas", `((?:PhysicalSize[XYZ]|TimeIncrement|Exposure[A-Za-z]*|Position[XYZ])=")(-?\d+),(\d+)"`, `${1}${2}.${3}"`),
		ReplaceRule("drop-empty-attributes", `\s[A-Za-z_:]+=""`, ""),
		{Name: "add-xsi-namespace", Apply: addXSINamespace},
		{Name: "normalize-ids", Apply: normalizeIDs},
	}
}

var bom = []byte("\xef\xbb\xbf")

// stripLeadingJunk drops a byte-order mark and anything before the first
// tag, plus NUL padding after the last one.
func stripLeadingJunk(b []byte) []byte {
	b = bytes.TrimPrefix(b, bom)
	if i := bytes.IndexByte(b, '<'); i > 0 {
		b = b[i:]
	}
	if i := bytes.LastIndexByte(b, '>'); i >= 0 && i < len(b)-1 {
		b = b[:i+1]
	}
	return b
}

var entity = regexp.MustCompile(`^&(?:[A-Za-z][A-Za-z0-9]*|#[0-9]+|#x[0-9A-Fa-f]+);`)

// escapeAmpersands rewrites '&' that does not start an entity reference.
func escapeAmpersands(b []byte) []byte {
	if bytes.IndexByte(b, '&') < 0 {
		return b
	}
	var out bytes.Buffer
	out.Grow(len(b) + 16)
	for i := 0; i < len(b); i++ {
		if b[i] == '&' && !entity.Match(b[i:]) {
			out.WriteString("&amp;")
			continue
		}
		out.WriteByte(b[i])
	}
	return out.Bytes()
}

var omeOpen = regexp.MustCompile(`<(?:[A-Za-z]+:)?OME\b`)

// addXSINamespace declares the xsi prefix when it is used but undeclared.
func addXSINamespace(b []byte) []byte {
	if !bytes.Contains(b, []byte("xsi:")) || bytes.Contains(b, []byte("xmlns:xsi=")) {
		return b
	}
	loc := omeOpen.FindIndex(b)
	if loc == nil {
		return b
	}
	decl := []byte(` xmlns:xsi="` + xsiNamespace + `"`)
	out := make([]byte, 0, len(b)+len(decl))
	out = append(out, b[:loc[1]]...)
	out = append(out, decl...)
	return append(out, b[loc[1]:]...)
}

var idAttr = regexp.MustCompile(`\b(ID)="([^"]*)"`)

// normalizeIDs replaces whitespace inside ID attributes, which some
// acquisition software emits from free-text device names.
func normalizeIDs(b []byte) []byte {
	return idAttr.ReplaceAllFunc(b, func(m []byte) []byte {
		return bytes.Map(func(r rune) rune {
			if r == ' ' || r == '\t' {
				return '_'
			}
			return r
		}, m)
	})
}
