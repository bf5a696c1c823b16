package graphios

import (
	"strings"
	"unicode"
)

// carbonInvalidChars are replaced along with whitespace in carbon paths.
const carbonInvalidChars = `~!$:;%^*()+={}[]|\/<>`

var quoteReplacer = strings.NewReplacer(`'`, ".", `"`, ".")

// JoinFields joins the values of the named fields of m with dots and normalizes the result with
// NormalizePath. Unknown field names contribute an empty segment.
func JoinFields(m *Metric, fields []string) string {
	var sb strings.Builder
	for _, f := range fields {
		v, _ := m.Field(f)
		sb.WriteString(v)
		sb.WriteByte('.')
	}
	return NormalizePath(sb.String())
}

// NormalizePath strips a leading and a trailing dot, collapses double dots and replaces embedded
// quotes with dots. The pass is repeated until the string no longer changes, so the result never
// starts or ends with a dot and contains neither ".." nor quote characters.
func NormalizePath(s string) string {
	for {
		n := strings.TrimPrefix(s, ".")
		n = strings.TrimSuffix(n, ".")
		n = strings.ReplaceAll(n, "..", ".")
		n = quoteReplacer.Replace(n)
		if n == s {
			return n
		}
		s = n
	}
}

// TrimDots is NormalizePath without the quote replacement.
func TrimDots(s string) string {
	for {
		n := strings.TrimPrefix(s, ".")
		n = strings.TrimSuffix(n, ".")
		n = strings.ReplaceAll(n, "..", ".")
		if n == s {
			return n
		}
		s = n
	}
}

// CarbonSanitizer replaces whitespace and characters carbon cannot store in a metric path.
type CarbonSanitizer struct {
	replacement string
}

// NewCarbonSanitizer returns a CarbonSanitizer that substitutes every invalid character with replacement.
func NewCarbonSanitizer(replacement string) CarbonSanitizer {
	return CarbonSanitizer{replacement: replacement}
}

// Sanitize replaces each invalid rune of s with the replacement string.
func (cs CarbonSanitizer) Sanitize(s string) string {
	if strings.IndexFunc(s, isCarbonInvalid) < 0 {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if isCarbonInvalid(r) {
			sb.WriteString(cs.replacement)
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

func isCarbonInvalid(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(carbonInvalidChars, r)
}

// CarbonPath builds [base.][prefix.]hostname[.postfix][.servicedesc].label for m.
func CarbonPath(m *Metric, useServiceDesc bool, cs CarbonSanitizer) string {
	var sb strings.Builder
	if m.MetricBasePath != "" {
		sb.WriteString(m.MetricBasePath)
		sb.WriteByte('.')
	}
	if m.GraphitePrefix != "" {
		sb.WriteString(m.GraphitePrefix)
		sb.WriteByte('.')
	}
	sb.WriteString(m.Hostname)
	if m.GraphitePostfix != "" {
		sb.WriteByte('.')
		sb.WriteString(m.GraphitePostfix)
	}
	if useServiceDesc {
		sb.WriteByte('.')
		sb.WriteString(cs.Sanitize(m.ServiceDesc))
	}
	sb.WriteByte('.')
	sb.WriteString(m.Label)
	return cs.Sanitize(TrimDots(sb.String()))
}

// StatsdPath builds base.prefix.hostname.postfix.label for m, dropping empty segments.
func StatsdPath(m *Metric) string {
	return TrimDots(strings.Join([]string{
		m.MetricBasePath,
		m.GraphitePrefix,
		m.Hostname,
		m.GraphitePostfix,
		m.Label,
	}, "."))
}
