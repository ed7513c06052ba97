package condition

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// bracket delimiters close with their counterpart.
var closingDelimiter = map[byte]byte{
	'(': ')',
	'[': ']',
	'{': '}',
	'<': '>',
}

// CompilePattern compiles a regex operand written in the delimited
// "/body/flags" form used by rule authors. An operand without recognizable
// delimiters is taken as the pattern body.
//
// Supported flags are i, m, s and U. The u flag is accepted and ignored since
// Go patterns are always UTF-8. Any other flag is an error.
func CompilePattern(operand string) (*regexp.Regexp, error) {
	body, flags, ok := splitDelimited(operand)
	if !ok {
		body, flags = operand, ""
	}

	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's', 'U':
			if !strings.ContainsRune(prefix.String(), f) {
				prefix.WriteRune(f)
			}
		case 'u':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	if prefix.Len() > 0 {
		body = "(?" + prefix.String() + ")" + body
	}
	return regexp.Compile(body)
}

func splitDelimited(s string) (body, flags string, ok bool) {
	if len(s) < 2 {
		return "", "", false
	}
	open := s[0]
	if open == '\\' || open > unicode.MaxASCII || isAlnum(open) || unicode.IsSpace(rune(open)) {
		return "", "", false
	}
	closing := open
	if c, found := closingDelimiter[open]; found {
		closing = c
	}
	end := strings.LastIndexByte(s, closing)
	if end <= 0 {
		return "", "", false
	}
	flags = s[end+1:]
	for _, r := range flags {
		if !unicode.IsLetter(r) {
			return "", "", false
		}
	}
	return s[1:end], flags, true
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// WildcardPattern translates a glob where * matches any run of characters and
// ? matches exactly one. The whole value must match.
func WildcardPattern(glob string, caseSensitive bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("(?s")
	if !caseSensitive {
		b.WriteString("i")
	}
	b.WriteString(")^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
