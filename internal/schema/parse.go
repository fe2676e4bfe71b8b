package schema

import (
	"regexp"
	"strings"
)

var (
	fieldPattern   = regexp.MustCompile(`(?i)(?:field|parameter|param)\s+['"]?([A-Za-z0-9_.\-\[\]]+)['"]?`)
	optionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)valid (?:values|options)(?:\s+(?:are|is))?:?\s*\[?([^\])\n]+)\]?`),
		regexp.MustCompile(`(?i)must be one of:?\s*\[?([^\])\n]+)\]?`),
		regexp.MustCompile(`(?i)expected one of:?\s*\[?([^\])\n]+)\]?`),
	}
	mustBePattern = regexp.MustCompile(`(?i)['"]?([A-Za-z0-9_\-]+)['"]?\s+must be one of`)
)

// ParseErrorText recovers a field name and valid options from a free-form
// validation message, for skills that report errors only as text.
func ParseErrorText(msg string) (FieldError, bool) {
	var fe FieldError

	for _, re := range optionPatterns {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		fe.ValidOptions = splitOptions(m[1])
		break
	}
	if len(fe.ValidOptions) == 0 {
		return FieldError{}, false
	}

	if m := fieldPattern.FindStringSubmatch(msg); m != nil {
		fe.Field = m[1]
	} else if m := mustBePattern.FindStringSubmatch(msg); m != nil {
		fe.Field = m[1]
	}
	if fe.Field == "" {
		return FieldError{}, false
	}
	fe.Message = msg
	return fe, true
}

func splitOptions(s string) []string {
	s = strings.TrimRight(strings.TrimSpace(s), ".")
	raw := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '|' })
	var out []string
	for _, o := range raw {
		o = strings.Trim(strings.TrimSpace(o), `'"`+"`")
		o = strings.TrimPrefix(o, "or ")
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}
