package badge

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Var is a typed template value. Text values are markup-escaped on fill;
// Trusted values (numbers, enum colors, generated markup, data URIs) are
// inserted as-is.
type Var struct {
	value   string
	trusted bool
}

// Text wraps user-controlled text.
func Text(s string) Var { return Var{value: s} }

// Trusted wraps a pre-validated value that must not be escaped.
func Trusted(s string) Var { return Var{value: s, trusted: true} }

// Vars maps placeholder names (without braces) to values.
type Vars map[string]Var

var placeholderRe = regexp.MustCompile(`\{\{[A-Za-z0-9_]+\}\}`)

// UnfilledError reports placeholders left in a filled template.
type UnfilledError struct {
	Placeholders []string
}

func (e *UnfilledError) Error() string {
	return fmt.Sprintf("badge template has unfilled placeholders: %s", strings.Join(e.Placeholders, ", "))
}

// Fill substitutes every {{KEY}} in tmpl in a single pass, so values are
// never re-scanned and never double-escaped. Any placeholder without a
// value is an error.
func Fill(tmpl string, vars Vars) (string, error) {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		val := v.value
		if !v.trusted {
			val = EscapeXML(val)
		}
		pairs = append(pairs, "{{"+k+"}}", val)
	}
	out := strings.NewReplacer(pairs...).Replace(tmpl)

	if left := unfilled(tmpl, vars); len(left) > 0 {
		return "", &UnfilledError{Placeholders: left}
	}
	return out, nil
}

// unfilled lists the template's placeholders that have no value. It looks
// at the template, not the output, so a value that happens to contain
// "{{X}}" text is not mistaken for a missing placeholder.
func unfilled(tmpl string, vars Vars) []string {
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllString(tmpl, -1) {
		key := strings.TrimSuffix(strings.TrimPrefix(m, "{{"), "}}")
		if _, ok := vars[key]; !ok {
			seen[key] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

// EscapeXML escapes the five XML special characters.
func EscapeXML(s string) string { return xmlEscaper.Replace(s) }
