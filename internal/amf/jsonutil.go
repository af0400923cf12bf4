package amf

import "strings"

// escapeJSONString renders s as the inner content of a JSON string literal,
// including the surrounding quotes. This intentionally performs standard
// single-backslash escaping (see SPEC_FULL.md §4.9: the original source's string
// escaper doubled the backslash in its replacement argument, which would
// emit invalid JSON — that is not reproduced here).
func escapeJSONString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\v':
			b.WriteString(`\v`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
