package chunker

import (
	"regexp"
	"sort"
	"strings"
)

const (
	maxComplexity = 10
	maxKeywords   = 20
)

var (
	controlFlowRe = regexp.MustCompile(`\b(if|else|for|while|do|switch|case|catch|try|elif|except|finally)\b`)
	callRe        = regexp.MustCompile(`\b([A-Za-z_$][\w$]*)\s*\(`)
	identifierRe  = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

	jsImportFromRe  = regexp.MustCompile(`(?s)import\s+(?:type\s+)?(.+?)\s+from\s+['"]([^'"]+)['"]`)
	jsImportBareRe  = regexp.MustCompile(`import\s+['"]([^'"]+)['"]`)
	jsRequireRe     = regexp.MustCompile(`(?:(?:const|let|var)\s+([\w$]+|\{[^}]*\})\s*=\s*)?require\(\s*['"]([^'"]+)['"]\s*\)`)
	jsExportDeclRe  = regexp.MustCompile(`export\s+(?:default\s+)?(?:declare\s+)?(?:abstract\s+)?(?:async\s+)?(?:function\s*\*?|class|const|let|var|interface|type|enum)\s+([A-Za-z_$][\w$]*)`)
	jsExportListRe  = regexp.MustCompile(`export\s*(?:type\s*)?\{([^}]*)\}`)
	jsExportDefault = regexp.MustCompile(`export\s+default\b`)
	jsCommonJSRe    = regexp.MustCompile(`(?:module\.)?exports\.([A-Za-z_$][\w$]*)\s*=`)
	jsModuleExports = regexp.MustCompile(`module\.exports\s*=`)

	pyImportRe     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	pyFromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+)\s+import\s+(?:\(([^)]*)\)|([\w \t,*]+))`)
	pyDefRe        = regexp.MustCompile(`(?m)^(?:async\s+)?(?:def|class)\s+([A-Za-z]\w*)`)

	javaImportRe = regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w.]+(?:\.\*)?)\s*;`)
	javaTypeRe   = regexp.MustCompile(`public\s+(?:(?:static|final|abstract|sealed)\s+)*(?:class|interface|enum|record|@interface)\s+([A-Za-z_]\w*)`)
)

var callExclusions = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "typeof": true, "elif": true, "def": true,
}

var keywordStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "not": true, "are": true, "with": true,
	"this": true, "that": true, "from": true, "import": true, "export": true,
	"default": true, "return": true, "const": true, "let": true, "var": true,
	"function": true, "class": true, "new": true, "true": true, "false": true,
	"null": true, "undefined": true, "async": true, "await": true, "else": true,
	"while": true, "switch": true, "case": true, "break": true, "continue": true,
	"try": true, "catch": true, "finally": true, "throw": true, "typeof": true,
	"instanceof": true, "void": true, "public": true, "private": true,
	"protected": true, "static": true, "final": true, "self": true, "def": true,
	"elif": true, "none": true, "pass": true, "lambda": true, "yield": true,
	"interface": true, "type": true, "enum": true, "extends": true,
	"implements": true, "string": true, "number": true, "boolean": true,
	"int": true, "any": true, "package": true, "super": true,
}

// Complexity scores a piece of code from 1 to 10: one point per control-flow
// keyword, one per three calls and one per brace pair.
func Complexity(content string) int {
	score := 1 + len(controlFlowRe.FindAllStringIndex(content, -1))

	calls := 0
	for _, m := range callRe.FindAllStringSubmatch(content, -1) {
		if !callExclusions[m[1]] {
			calls++
		}
	}
	score += calls / 3
	score += (strings.Count(content, "{") + strings.Count(content, "}")) / 2

	if score > maxComplexity {
		return maxComplexity
	}
	return score
}

// Keywords returns the most frequent identifiers of a chunk, most frequent
// first.
func Keywords(content string) []string {
	counts := make(map[string]int)
	for _, tok := range identifierRe.FindAllString(content, -1) {
		if len(tok) < 3 {
			continue
		}
		lower := strings.ToLower(tok)
		if keywordStopwords[lower] {
			continue
		}
		counts[lower]++
	}
	if len(counts) == 0 {
		return nil
	}

	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > maxKeywords {
		words = words[:maxKeywords]
	}
	return words
}

// Imports returns the module dependencies and the imported names found in
// content.
func Imports(language, content string) (deps []string, names []string) {
	switch {
	case isScriptFamily(language):
		for _, m := range jsImportFromRe.FindAllStringSubmatch(content, -1) {
			deps = append(deps, m[2])
			names = append(names, importClauseNames(m[1])...)
		}
		for _, m := range jsImportBareRe.FindAllStringSubmatch(content, -1) {
			deps = append(deps, m[1])
		}
		for _, m := range jsRequireRe.FindAllStringSubmatch(content, -1) {
			deps = append(deps, m[2])
			if m[1] != "" {
				names = append(names, importClauseNames(m[1])...)
			}
		}
	case language == LangPython:
		for _, m := range pyImportRe.FindAllStringSubmatch(content, -1) {
			for _, mod := range strings.Split(m[1], ",") {
				mod = strings.TrimSpace(mod)
				deps = append(deps, mod)
				names = append(names, lastSegment(mod, "."))
			}
		}
		for _, m := range pyFromImportRe.FindAllStringSubmatch(content, -1) {
			deps = append(deps, m[1])
			for _, n := range strings.Split(m[2]+m[3], ",") {
				n = strings.TrimSpace(n)
				if i := strings.Index(n, " as "); i >= 0 {
					n = strings.TrimSpace(n[i+4:])
				}
				if n != "" && n != "*" {
					names = append(names, n)
				}
			}
		}
	case language == LangJava:
		for _, m := range javaImportRe.FindAllStringSubmatch(content, -1) {
			deps = append(deps, m[1])
			if n := lastSegment(m[1], "."); n != "*" {
				names = append(names, n)
			}
		}
	}
	return uniqueStrings(deps), uniqueStrings(names)
}

// Exports returns the symbol names content makes visible to other files.
func Exports(language, content string) []string {
	var names []string
	switch {
	case isScriptFamily(language):
		for _, m := range jsExportDeclRe.FindAllStringSubmatch(content, -1) {
			names = append(names, m[1])
		}
		for _, m := range jsExportListRe.FindAllStringSubmatch(content, -1) {
			for _, part := range strings.Split(m[1], ",") {
				part = strings.TrimSpace(part)
				if i := strings.Index(part, " as "); i >= 0 {
					part = strings.TrimSpace(part[i+4:])
				}
				if part != "" {
					names = append(names, part)
				}
			}
		}
		for _, m := range jsCommonJSRe.FindAllStringSubmatch(content, -1) {
			names = append(names, m[1])
		}
		if jsExportDefault.MatchString(content) && !jsExportDeclRe.MatchString(content) {
			names = append(names, "default")
		}
		if jsModuleExports.MatchString(content) {
			names = append(names, "module.exports")
		}
	case language == LangPython:
		for _, m := range pyDefRe.FindAllStringSubmatch(content, -1) {
			if !strings.HasPrefix(m[1], "_") {
				names = append(names, m[1])
			}
		}
	case language == LangJava:
		for _, m := range javaTypeRe.FindAllStringSubmatch(content, -1) {
			names = append(names, m[1])
		}
	}
	return uniqueStrings(names)
}

// importClauseNames splits `a, { b as c, type d }, * as e` into local names.
func importClauseNames(clause string) []string {
	clause = strings.NewReplacer("{", ",", "}", ",").Replace(clause)
	var out []string
	for _, part := range strings.Split(clause, ",") {
		part = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(part), "type "))
		if part == "" {
			continue
		}
		if i := strings.Index(part, " as "); i >= 0 {
			part = strings.TrimSpace(part[i+4:])
		}
		if part != "" && part != "*" {
			out = append(out, part)
		}
	}
	return out
}

func lastSegment(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return s
}

func uniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
