package chunker

import (
	"regexp"
	"sort"
	"strings"

	"github.com/cloo-solutions/codelens/internal/domain"
)

var (
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\])])`)

	importLineRe  = regexp.MustCompile(`^import(?:\s+|\s*[{*'"])`)
	requireLineRe = regexp.MustCompile(`^(?:const|let|var)\s+[\w${}\s,:]+=\s*require\(`)

	exportAllRe     = regexp.MustCompile(`^export\s*\*`)
	exportListRe    = regexp.MustCompile(`^export\s*(?:type\s*)?\{`)
	exportDefaultRe = regexp.MustCompile(`^export\s+default\s+`)
	exportAssignRe  = regexp.MustCompile(`^export\s*=`)
	moduleExportsRe = regexp.MustCompile(`^module\.exports\b`)
	exportsPropRe   = regexp.MustCompile(`^exports\.([A-Za-z_$][\w$]*)\s*=`)
	declarationRe   = regexp.MustCompile(`^(?:async\s+)?(?:function\b|(?:abstract\s+)?class\b)`)

	interfaceRe = regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:declare\s+)?interface\s+([A-Za-z_$][\w$]*)`)
	enumRe      = regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(?:const\s+)?enum\s+([A-Za-z_$][\w$]*)`)
	typeAliasRe = regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?type\s+([A-Za-z_$][\w$]*)`)

	functionDeclRe  = regexp.MustCompile(`^(?:export\s+(?:default\s+)?)?(?:declare\s+)?(?:async\s+)?function\b\s*\*?\s*([A-Za-z_$][\w$]*)?`)
	varDeclRe       = regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]*)?=\s*`)
	functionValueRe = regexp.MustCompile(`^(?:async\s+)?(?:function\b|\([^()]*(?:\([^()]*\)[^()]*)*\)\s*(?::\s*[^=]+?)?\s*=>|[A-Za-z_$][\w$]*\s*=>|<[^>]+>\s*\()`)
	classRe         = regexp.MustCompile(`^(?:export\s+(?:default\s+)?)?(?:declare\s+)?(?:abstract\s+)?class\b\s*([A-Za-z_$][\w$]*)?`)
	variableRe      = regexp.MustCompile(`^(?:export\s+)?(?:declare\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*|\{|\[)`)

	methodRe      = regexp.MustCompile(`^(?:(?:public|private|protected|static|async|readonly|override|abstract|get|set|declare)\s+)*\*?\s*(#?[A-Za-z_$][\w$]*)\s*\??\s*(?:<[^>]*>)?\s*\(`)
	methodArrowRe = regexp.MustCompile(`^(?:(?:public|private|protected|static|readonly|override)\s+)*(#?[A-Za-z_$][\w$]*)\s*(?::[^=]*)?=\s*(?:async\s+)?(?:\([^)]*\)|[A-Za-z_$][\w$]*)\s*(?::\s*[^=]+)?=>`)
)

var notMethodNames = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"return": true, "function": true, "new": true, "super": true, "await": true,
}

// normalizeScript prepares JavaScript/TypeScript text for extraction without
// changing its line count.
func normalizeScript(content string) string {
	lines := strings.Split(content, "\n")
	for i, l := range lines {
		l = strings.TrimRight(l, " \t")
		for strings.HasSuffix(l, ";;") {
			l = l[:len(l)-1]
		}
		lines[i] = l
	}
	return trailingCommaRe.ReplaceAllString(strings.Join(lines, "\n"), "$1")
}

// scriptSource is a scanned file: per-line offsets, the brace depth at the
// start of every line, and which lines are already owned by a chunk.
type scriptSource struct {
	text    string
	lines   []string
	offsets []int
	depth   []int
	inCode  []bool
	claimed []bool
}

func scanScript(text string) *scriptSource {
	lines := strings.Split(text, "\n")
	s := &scriptSource{
		text:    text,
		lines:   lines,
		offsets: make([]int, len(lines)),
		depth:   make([]int, len(lines)),
		inCode:  make([]bool, len(lines)),
		claimed: make([]bool, len(lines)),
	}
	off := 0
	for i, l := range lines {
		s.offsets[i] = off
		off += len(l) + 1
	}

	depth, line := 0, 0
	s.inCode[0] = true
	for i := 0; i < len(text); {
		if j := skipNonCode(text, i); j > i {
			for k := i; k < j && k < len(text); k++ {
				if text[k] == '\n' {
					line++
					s.depth[line] = depth
				}
			}
			i = j
			continue
		}
		switch text[i] {
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		case '\n':
			line++
			s.depth[line] = depth
			s.inCode[line] = true
		}
		i++
	}
	return s
}

func (s *scriptSource) lineOf(offset int) int {
	return sort.Search(len(s.offsets), func(k int) bool { return s.offsets[k] > offset }) - 1
}

func (s *scriptSource) trimmed(i int) string {
	return strings.TrimSpace(s.lines[i])
}

func (s *scriptSource) topLevel(i int) bool {
	return s.depth[i] == 0 && s.inCode[i] && !s.claimed[i] && s.trimmed(i) != ""
}

func (s *scriptSource) statementEndLine(i int) int {
	end := s.lineOf(statementEnd(s.text, s.offsets[i]))
	if end < i {
		return i
	}
	return end
}

// blockEndLine returns the line closing the body of the declaration on line
// i. Declarations without a body end like a statement; an unclosed body runs
// to the end of the file.
func (s *scriptSource) blockEndLine(i int) int {
	open := findBody(s.text, s.offsets[i])
	if open < 0 {
		return s.statementEndLine(i)
	}
	closeAt := matchDelimiter(s.text, open)
	if closeAt < 0 {
		return len(s.lines) - 1
	}
	return s.lineOf(closeAt)
}

// leadingStart extends a declaration upward over doc comments and
// decorators that directly precede it.
func (s *scriptSource) leadingStart(i, floor int) int {
	for i-1 > floor && !s.claimed[i-1] && isPreamble(s.trimmed(i-1)) {
		i--
	}
	return i
}

func isPreamble(t string) bool {
	return strings.HasPrefix(t, "@") || strings.HasPrefix(t, "//") ||
		strings.HasPrefix(t, "/*") || strings.HasPrefix(t, "*")
}

func (s *scriptSource) flatten(start, end int) string {
	return strings.Join(strings.Fields(strings.Join(s.lines[start:end+1], " ")), " ")
}

type scriptExtractor struct {
	src      *scriptSource
	filePath string
	language string
	chunks   []domain.CodeChunk
}

// extractScript runs the JavaScript/TypeScript passes in order: imports,
// exports, interfaces and types, functions, classes, variables, then the
// leftover top-level statements. Each pass only sees top-level lines not
// claimed by an earlier one.
func (c *Chunker) extractScript(filePath, content, language string) []domain.CodeChunk {
	x := &scriptExtractor{
		src:      scanScript(normalizeScript(content)),
		filePath: filePath,
		language: language,
	}

	x.importPass()
	x.exportPass()
	if isTyped(language) {
		x.typePass()
	}
	x.functionPass()
	x.classPass()
	x.variablePass()
	x.blockPass()

	sort.SliceStable(x.chunks, func(i, j int) bool {
		return x.chunks[i].StartLine < x.chunks[j].StartLine
	})
	return x.chunks
}

// emit claims lines start..end (0-based, inclusive) and records a chunk.
func (x *scriptExtractor) emit(kind domain.ChunkKind, name string, start, end int) int {
	if end >= len(x.src.lines) {
		end = len(x.src.lines) - 1
	}
	for i := start; i <= end; i++ {
		x.src.claimed[i] = true
	}
	x.chunks = append(x.chunks, newChunk(x.filePath, x.language, kind, name, x.src.lines, start+1, end+1))
	return len(x.chunks) - 1
}

func isImportLine(t string) bool {
	if strings.HasPrefix(t, "import(") || strings.HasPrefix(t, "import.") {
		return false
	}
	return importLineRe.MatchString(t) || requireLineRe.MatchString(t)
}

func (x *scriptExtractor) importPass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) || !isImportLine(s.trimmed(i)) {
			continue
		}
		start, end := i, s.statementEndLine(i)
		for {
			next := end + 1
			for next < len(s.lines) && s.trimmed(next) == "" {
				next++
			}
			if next >= len(s.lines) || !s.topLevel(next) || !isImportLine(s.trimmed(next)) {
				break
			}
			end = s.statementEndLine(next)
		}
		x.emit(domain.ChunkKindImport, "imports", start, end)
		i = end
	}
}

// exportStatementName recognizes export statements that are not
// declarations; declarations keep their own kind and record their exports in
// metadata.
func exportStatementName(t string) (string, bool) {
	switch {
	case exportAllRe.MatchString(t):
		return "*", true
	case exportListRe.MatchString(t):
		return "exports", true
	case exportDefaultRe.MatchString(t):
		rest := exportDefaultRe.ReplaceAllString(t, "")
		if declarationRe.MatchString(rest) {
			return "", false
		}
		return "default", true
	case exportAssignRe.MatchString(t):
		return "default", true
	case moduleExportsRe.MatchString(t):
		return "module.exports", true
	}
	if m := exportsPropRe.FindStringSubmatch(t); m != nil {
		return m[1], true
	}
	return "", false
}

func (x *scriptExtractor) exportPass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		name, ok := exportStatementName(s.trimmed(i))
		if !ok {
			continue
		}
		end := s.statementEndLine(i)
		x.emit(domain.ChunkKindExport, name, i, end)
		i = end
	}
}

func (x *scriptExtractor) typePass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		t := s.trimmed(i)
		var end int
		var kind domain.ChunkKind
		var name string
		if m := interfaceRe.FindStringSubmatch(t); m != nil {
			kind, name, end = domain.ChunkKindInterface, m[1], s.blockEndLine(i)
		} else if m := enumRe.FindStringSubmatch(t); m != nil {
			kind, name, end = domain.ChunkKindType, m[1], s.blockEndLine(i)
		} else if m := typeAliasRe.FindStringSubmatch(t); m != nil {
			kind, name, end = domain.ChunkKindType, m[1], s.statementEndLine(i)
		} else {
			continue
		}
		x.emit(kind, name, s.leadingStart(i, -1), end)
		i = end
	}
}

func (x *scriptExtractor) functionPass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		t := s.trimmed(i)

		if m := functionDeclRe.FindStringSubmatch(t); m != nil {
			name := m[1]
			if name == "" {
				name = "default"
			}
			end := s.blockEndLine(i)
			x.emit(domain.ChunkKindFunction, name, s.leadingStart(i, -1), end)
			i = end
			continue
		}

		if !varDeclRe.MatchString(t) {
			continue
		}
		end := s.statementEndLine(i)
		flat := s.flatten(i, end)
		loc := varDeclRe.FindStringSubmatchIndex(flat)
		if loc == nil || !functionValueRe.MatchString(flat[loc[1]:]) {
			continue
		}
		x.emit(domain.ChunkKindFunction, flat[loc[2]:loc[3]], s.leadingStart(i, -1), end)
		i = end
	}
}

func (x *scriptExtractor) classPass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		m := classRe.FindStringSubmatch(s.trimmed(i))
		if m == nil {
			continue
		}
		open := findBody(s.text, s.offsets[i])
		if open < 0 {
			continue
		}
		name := m[1]
		if name == "" || name == "extends" || name == "implements" {
			name = "default"
		}

		end := len(s.lines) - 1
		if closeAt := matchDelimiter(s.text, open); closeAt >= 0 {
			end = s.lineOf(closeAt)
		}
		idx := x.emit(domain.ChunkKindClass, name, s.leadingStart(i, -1), end)
		x.chunks[idx].ChildChunks = x.methods(x.chunks[idx].ID, s.lineOf(open), end)
		i = end
	}
}

func memberName(t string) (string, bool) {
	if m := methodArrowRe.FindStringSubmatch(t); m != nil {
		return m[1], true
	}
	if m := methodRe.FindStringSubmatch(t); m != nil && !notMethodNames[m[1]] {
		return m[1], true
	}
	return "", false
}

// methods extracts the members one level inside a class body spanning
// lines bodyStart..end and links them to the class.
func (x *scriptExtractor) methods(classID string, bodyStart, end int) []string {
	s := x.src
	var children []string
	for j := bodyStart + 1; j < end; j++ {
		if s.depth[j] != 1 || !s.inCode[j] {
			continue
		}
		name, ok := memberName(s.trimmed(j))
		if !ok {
			continue
		}
		mEnd := s.blockEndLine(j)
		if mEnd >= end {
			mEnd = end - 1
		}
		if mEnd < j {
			mEnd = j
		}
		start := j
		for start-1 > bodyStart && isPreamble(s.trimmed(start-1)) {
			start--
		}

		method := newChunk(x.filePath, x.language, domain.ChunkKindMethod, name, s.lines, start+1, mEnd+1)
		method.ParentChunk = classID
		x.chunks = append(x.chunks, method)
		children = append(children, method.ID)
		j = mEnd
	}
	return children
}

func (x *scriptExtractor) variablePass() {
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		m := variableRe.FindStringSubmatch(s.trimmed(i))
		if m == nil {
			continue
		}
		name := m[1]
		if name == "{" || name == "[" {
			name = "destructured"
		}
		end := s.statementEndLine(i)
		x.emit(domain.ChunkKindVariable, name, s.leadingStart(i, -1), end)
		i = end
	}
}

// blockPass keeps top-level statements that no declaration pass claimed,
// such as server wiring after the last function. Adjacent statements share a
// chunk; a blank or claimed line ends it. Files with no declarations at all
// are left to the whole-file fallback.
func (x *scriptExtractor) blockPass() {
	if len(x.chunks) == 0 {
		return
	}
	s := x.src
	for i := 0; i < len(s.lines); i++ {
		if !s.topLevel(i) {
			continue
		}
		end := s.unclaimedEnd(i, s.statementEndLine(i))
		for end+1 < len(s.lines) && s.topLevel(end+1) {
			end = s.unclaimedEnd(end+1, s.statementEndLine(end+1))
		}
		if s.hasStatement(i, end) {
			x.emit(domain.ChunkKindBlock, "", i, end)
		}
		i = end
	}
}

// unclaimedEnd clamps end so that start..end stops before the next claimed
// line.
func (s *scriptSource) unclaimedEnd(start, end int) int {
	for k := start + 1; k <= end; k++ {
		if s.claimed[k] {
			return k - 1
		}
	}
	return end
}

func (s *scriptSource) hasStatement(start, end int) bool {
	for k := start; k <= end; k++ {
		if t := s.trimmed(k); s.inCode[k] && t != "" && !isPreamble(t) {
			return true
		}
	}
	return false
}
