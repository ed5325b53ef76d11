package chunker

import "strings"

// The helpers below scan C-family source (JavaScript, TypeScript) while
// skipping string, template and regular expression literals and comments, so
// delimiters inside them never count toward nesting.

var closers = map[byte]byte{
	'{': '}',
	'(': ')',
	'[': ']',
}

// skipNonCode returns the index just past the comment or literal starting at
// i, or i itself when s[i] starts ordinary code. Line comments stop before
// their newline.
func skipNonCode(s string, i int) int {
	switch s[i] {
	case '/':
		if i+1 < len(s) {
			switch s[i+1] {
			case '/':
				if j := strings.IndexByte(s[i:], '\n'); j >= 0 {
					return i + j
				}
				return len(s)
			case '*':
				if j := strings.Index(s[i+2:], "*/"); j >= 0 {
					return i + 2 + j + 2
				}
				return len(s)
			}
		}
		if regexAllowed(s, i) {
			return skipRegex(s, i)
		}
	case '\'', '"':
		return skipQuoted(s, i)
	case '`':
		return skipTemplate(s, i)
	}
	return i
}

// regexOperators are the characters after which a slash starts a regular
// expression rather than a division.
const regexOperators = "(,=:[!&|?{;+-*%~^"

var regexKeywords = map[string]bool{
	"return": true, "typeof": true, "case": true, "do": true, "else": true,
	"in": true, "of": true, "void": true, "yield": true, "await": true,
	"delete": true, "throw": true, "new": true, "instanceof": true,
}

// regexAllowed reports whether the slash at i can open a regular expression,
// judged by the last significant character before it. A closing brace or a
// bare '<' or '>' does not qualify, which keeps JSX closing and self-closing
// tags out of regex scanning.
func regexAllowed(s string, i int) bool {
	j := i - 1
	for j >= 0 && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n') {
		j--
	}
	if j < 0 {
		return true
	}
	c := s[j]
	switch {
	case c == '>':
		return j > 0 && s[j-1] == '='
	case (c == '+' || c == '-') && j > 0 && s[j-1] == c:
		return false
	case strings.IndexByte(regexOperators, c) >= 0:
		return true
	case isIdentByte(c):
		k := j
		for k >= 0 && isIdentByte(s[k]) {
			k--
		}
		if k >= 0 && s[k] == '.' {
			return false
		}
		return regexKeywords[s[k+1:j+1]]
	}
	return false
}

// skipRegex returns the index past the flags of the regular expression
// starting at i. Slashes inside a character class do not close it. Without a
// closing slash on the same line the slash is treated as ordinary code.
func skipRegex(s string, i int) int {
	inClass := false
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case '\n':
			return i
		case '[':
			inClass = true
		case ']':
			inClass = false
		case '/':
			if inClass {
				continue
			}
			j++
			for j < len(s) && isIdentByte(s[j]) {
				j++
			}
			return j
		}
	}
	return i
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// skipQuoted treats an unterminated quote as ending at the line break, which
// keeps apostrophes in JSX text from swallowing the rest of the file.
func skipQuoted(s string, i int) int {
	q := s[i]
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return j + 1
		case '\n':
			return j
		}
	}
	return len(s)
}

func skipTemplate(s string, i int) int {
	for j := i + 1; j < len(s); {
		switch {
		case s[j] == '\\':
			j += 2
		case s[j] == '`':
			return j + 1
		case s[j] == '$' && j+1 < len(s) && s[j+1] == '{':
			end := matchDelimiter(s, j+1)
			if end < 0 {
				return len(s)
			}
			j = end + 1
		default:
			j++
		}
	}
	return len(s)
}

// matchDelimiter returns the index of the delimiter closing the one at open,
// or -1 if it is never closed.
func matchDelimiter(s string, open int) int {
	opener := s[open]
	closer, ok := closers[opener]
	if !ok {
		return -1
	}
	depth := 0
	for i := open; i < len(s); {
		if j := skipNonCode(s, i); j > i {
			i = j
			continue
		}
		switch s[i] {
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
		i++
	}
	return -1
}

// statementEnd returns the index of the last character of the statement
// starting at from. A statement ends at a semicolon or line break outside any
// delimiters, unless the line visibly continues onto the next one.
func statementEnd(s string, from int) int {
	depth := 0
	for i := from; i < len(s); {
		if j := skipNonCode(s, i); j > i {
			i = j
			continue
		}
		switch s[i] {
		case '{', '(', '[':
			depth++
		case '}', ')', ']':
			depth--
			if depth < 0 {
				return i - 1
			}
		case ';':
			if depth == 0 {
				return i
			}
		case '\n':
			if depth == 0 && !continues(s, i) {
				return i - 1
			}
		}
		i++
	}
	return len(s) - 1
}

// findBody returns the index of the '{' opening the body of the declaration
// starting at from, or -1 when the declaration has no body.
func findBody(s string, from int) int {
	depth := 0
	for i := from; i < len(s); {
		if j := skipNonCode(s, i); j > i {
			i = j
			continue
		}
		switch s[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case '{':
			if depth == 0 {
				return i
			}
		case ';':
			if depth == 0 {
				return -1
			}
		case '\n':
			if depth == 0 && !continues(s, i) && !nextLineOpensBody(s, i) {
				return -1
			}
		}
		i++
	}
	return -1
}

var continuationSuffixes = []string{
	"=", ",", "(", "[", "{", "+", "-", "*", "?", ":", "&&", "||", "=>", ".", "|", "&", "<",
}

var continuationPrefixes = []string{
	".", "?", ":", "+", "&&", "||", "=>", "|", "extends", "implements",
}

// continues reports whether the line ending at the newline nl carries on
// into the next non-blank line.
func continues(s string, nl int) bool {
	lineStart := strings.LastIndexByte(s[:nl], '\n') + 1
	prev := strings.TrimSpace(s[lineStart:nl])
	for _, suf := range continuationSuffixes {
		if strings.HasSuffix(prev, suf) {
			return true
		}
	}
	next := nextNonBlankLine(s, nl)
	for _, pre := range continuationPrefixes {
		if strings.HasPrefix(next, pre) {
			return true
		}
	}
	return false
}

func nextLineOpensBody(s string, nl int) bool {
	return strings.HasPrefix(nextNonBlankLine(s, nl), "{")
}

func nextNonBlankLine(s string, nl int) string {
	rest := s[nl+1:]
	for rest != "" {
		line := rest
		if j := strings.IndexByte(rest, '\n'); j >= 0 {
			line, rest = rest[:j], rest[j+1:]
		} else {
			rest = ""
		}
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
