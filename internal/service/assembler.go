package service

import (
	"context"
	"fmt"
	"log"
	"math"
	"path"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloo-solutions/codelens/internal/chunker"
	"github.com/cloo-solutions/codelens/internal/domain"
	"github.com/cloo-solutions/codelens/internal/telemetry"
)

// CodebaseStore serves stored file snapshots. GetFile returns nil, nil when
// the path does not exist.
type CodebaseStore interface {
	GetFile(ctx context.Context, scopeID, filePath string) (*domain.CodebaseFile, error)
	GetAllFiles(ctx context.Context, scopeID string) ([]*domain.CodebaseFile, error)
}

const (
	defaultMaxFiles            = 10
	defaultMaxSnippets         = 20
	defaultAssembleThreshold   = 0.1
	defaultSectionContextLines = 5
	snippetContextLines        = 3
	maxKeyPatterns             = 10
	maxRelatedConcepts         = 8
)

// AssembleOptions bounds an assembled context
type AssembleOptions struct {
	Query              string
	MaxFiles           int
	MaxSnippets        int
	RelevanceThreshold float64
	ContextLines       int
	IncludeContent     bool
	// ClientFiles maps paths to contents supplied by the caller. They are
	// used when the store does not have a file or cannot be reached.
	ClientFiles map[string]string
}

// ContextAssembler turns ranked search results into a bounded context
type ContextAssembler struct {
	store CodebaseStore
	cache *ContextCache
}

// NewContextAssembler creates a ContextAssembler. cache may be nil to always
// list files from the store.
func NewContextAssembler(store CodebaseStore, cache *ContextCache) *ContextAssembler {
	return &ContextAssembler{store: store, cache: cache}
}

type fileGroup struct {
	path    string
	results []domain.EnhancedSearchResult
}

// Assemble groups results by file, resolves each file's content and derives
// sections, snippets, a summary and a confidence score. A file that fails to
// process is skipped and reported in Errors. Only a store failure with no
// client files to fall back on is returned as an error.
func (a *ContextAssembler) Assemble(ctx context.Context, results []domain.EnhancedSearchResult, scopeID string, opts AssembleOptions) (*domain.AssembledContext, error) {
	ctx, span := telemetry.StartSpan(ctx, "ContextAssembler.Assemble", telemetry.SpanAttributes{
		ScopeID:   scopeID,
		Operation: "assemble",
	})
	defer span.End()

	opts = withAssembleDefaults(opts)
	used := selectResults(results, opts)
	groups := groupByFile(used, opts.MaxFiles)

	ac := &domain.AssembledContext{
		ContextID:     uuid.NewString(),
		Query:         opts.Query,
		ScopeID:       scopeID,
		RelevantFiles: []domain.FileContext{},
		CodeSnippets:  []domain.CodeSnippet{},
		CreatedAt:     time.Now().UTC(),
	}

	for _, g := range groups {
		file, source, err := a.resolve(ctx, scopeID, g.path, opts.ClientFiles)
		if err != nil {
			span.SetError(err)
			return nil, err
		}

		fc, snippets, err := buildFileContext(g, file, source, opts)
		if err != nil {
			msg := fmt.Sprintf("file %s: %v", g.path, err)
			log.Printf("assembler: skipping %s", msg)
			telemetry.AddBreadcrumb(ctx, "assembler", msg)
			ac.Errors = append(ac.Errors, msg)
			continue
		}
		ac.RelevantFiles = append(ac.RelevantFiles, fc)
		ac.CodeSnippets = append(ac.CodeSnippets, snippets...)
	}

	sortSnippets(ac.CodeSnippets)
	if len(ac.CodeSnippets) > opts.MaxSnippets {
		ac.CodeSnippets = ac.CodeSnippets[:opts.MaxSnippets]
	}

	ac.Summary = summarize(opts.Query, ac.RelevantFiles, ac.CodeSnippets)
	ac.TotalLines = displayLines(ac)
	ac.Confidence, ac.LowConfidence = confidence(used, len(ac.RelevantFiles), ac.CodeSnippets, len(ac.Summary.PrimaryLanguages))

	span.SetData("files", len(ac.RelevantFiles))
	span.SetData("snippets", len(ac.CodeSnippets))
	return ac, nil
}

func withAssembleDefaults(opts AssembleOptions) AssembleOptions {
	if opts.MaxFiles <= 0 {
		opts.MaxFiles = defaultMaxFiles
	}
	if opts.MaxSnippets <= 0 {
		opts.MaxSnippets = defaultMaxSnippets
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = defaultAssembleThreshold
	}
	if opts.ContextLines <= 0 {
		opts.ContextLines = defaultSectionContextLines
	}
	return opts
}

// selectResults applies the relevance threshold and the snippet cap.
// Low-confidence results already failed every threshold upstream and are
// kept so the context is never emptier than the search.
func selectResults(results []domain.EnhancedSearchResult, opts AssembleOptions) []domain.EnhancedSearchResult {
	var out []domain.EnhancedSearchResult
	for _, r := range results {
		if r.ContextualRelevance < opts.RelevanceThreshold && !r.LowConfidence {
			continue
		}
		out = append(out, r)
		if len(out) == opts.MaxSnippets {
			break
		}
	}
	return out
}

// groupByFile groups results by path in order of first appearance.
func groupByFile(results []domain.EnhancedSearchResult, maxFiles int) []fileGroup {
	var groups []fileGroup
	index := make(map[string]int)
	for _, r := range results {
		p := r.Chunk.FilePath
		if p == "" {
			p = r.Metadata.FilePath
		}
		i, ok := index[p]
		if !ok {
			if len(groups) == maxFiles {
				continue
			}
			i = len(groups)
			index[p] = i
			groups = append(groups, fileGroup{path: p})
		}
		groups[i].results = append(groups[i].results, r)
	}
	return groups
}

// resolve finds the authoritative content of filePath. A nil file means the
// context must be built from the chunks alone.
func (a *ContextAssembler) resolve(ctx context.Context, scopeID, filePath string, client map[string]string) (*domain.CodebaseFile, domain.FileContextSource, error) {
	var storeErr error
	if a.store != nil {
		file, err := a.lookup(ctx, scopeID, filePath)
		if err == nil && file != nil {
			return file, domain.FileContextSourceStore, nil
		}
		storeErr = err
	}

	if len(client) > 0 {
		if p, content, ok := matchClientFile(client, filePath); ok {
			return domain.NewCodebaseFile(scopeID, p, content, chunker.DetectLanguage(p, content)), domain.FileContextSourceClient, nil
		}
		return nil, domain.FileContextSourceChunks, nil
	}

	if storeErr != nil {
		return nil, "", fmt.Errorf("%w: %s: %w", domain.ErrStoreUnavailable, filePath, storeErr)
	}
	return nil, domain.FileContextSourceChunks, nil
}

func (a *ContextAssembler) lookup(ctx context.Context, scopeID, filePath string) (*domain.CodebaseFile, error) {
	file, err := a.store.GetFile(ctx, scopeID, filePath)
	if err != nil || file != nil {
		return file, err
	}

	load := func(ctx context.Context) ([]*domain.CodebaseFile, error) {
		return a.store.GetAllFiles(ctx, scopeID)
	}
	var files []*domain.CodebaseFile
	if a.cache != nil {
		files, err = a.cache.Files(ctx, scopeID, load)
	} else {
		files, err = load(ctx)
	}
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	if i := matchPath(paths, filePath); i >= 0 {
		return files[i], nil
	}
	return nil, nil
}

func matchClientFile(client map[string]string, filePath string) (string, string, bool) {
	if content, ok := client[filePath]; ok {
		return filePath, content, true
	}
	paths := make([]string, 0, len(client))
	for p := range client {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if i := matchPath(paths, filePath); i >= 0 {
		return paths[i], client[paths[i]], true
	}
	return "", "", false
}

func normalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = path.Clean(p)
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return strings.ToLower(p)
}

// matchPath returns the index of the candidate matching want, trying in turn
// the normalized path, a path suffix and the base name. -1 if none match.
func matchPath(candidates []string, want string) int {
	target := normalizePath(want)
	if target == "" || target == "." {
		return -1
	}
	norm := make([]string, len(candidates))
	for i, c := range candidates {
		norm[i] = normalizePath(c)
		if norm[i] == target {
			return i
		}
	}
	for i, n := range norm {
		if strings.HasSuffix(n, "/"+target) || strings.HasSuffix(target, "/"+n) {
			return i
		}
	}
	base := path.Base(target)
	for i, n := range norm {
		if path.Base(n) == base {
			return i
		}
	}
	return -1
}

// buildFileContext expands a group's results into sections and snippets.
// Panics are returned as errors so one file cannot fail the assembly.
func buildFileContext(g fileGroup, file *domain.CodebaseFile, source domain.FileContextSource, opts AssembleOptions) (fc domain.FileContext, snippets []domain.CodeSnippet, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("build file context: %v", p)
		}
	}()

	if file == nil {
		fc, snippets = chunkFileContext(g)
		return fc, snippets, nil
	}

	lines := strings.Split(file.Content, "\n")
	language := file.Language
	if language == "" {
		language = g.results[0].Chunk.Metadata.Language
	}
	fc = domain.FileContext{
		Path:      file.Path,
		Name:      path.Base(file.Path),
		Language:  language,
		Imports:   file.Imports,
		Exports:   file.Exports,
		LineCount: len(lines),
		Relevance: meanRelevance(g.results),
		Source:    source,
	}
	if len(fc.Imports) == 0 && len(fc.Exports) == 0 {
		fc.Imports, fc.Exports = chunkSymbols(g.results)
	}
	if opts.IncludeContent {
		fc.Content = file.Content
	}

	seen := make(map[string]bool)
	for _, r := range g.results {
		c := r.Chunk
		if seen[c.ID] || containedIn(fc.Sections, c.StartLine, c.EndLine) {
			continue
		}
		seen[c.ID] = true

		// The stored chunk no longer fits the file; show it as indexed.
		if c.StartLine > len(lines) {
			section, snippet := chunkSection(fc.Path, r)
			fc.Sections = append(fc.Sections, section)
			snippets = append(snippets, snippet)
			continue
		}

		start, end := c.StartLine, min(c.EndLine, len(lines))
		section := domain.RelevantSection{
			Type:      c.Kind,
			Name:      c.Name,
			StartLine: start,
			EndLine:   end,
			Content:   sliceLines(lines, start, end),
			Context:   sliceLines(lines, start-opts.ContextLines, end+opts.ContextLines),
			Relevance: r.ContextualRelevance,
			ChunkID:   c.ID,
		}
		fc.Sections = append(fc.Sections, section)
		snippets = append(snippets, domain.CodeSnippet{
			ID:        snippetID(fc.Path, start, end),
			ChunkID:   c.ID,
			Title:     snippetTitle(c.Kind, c.Name, fc.Path, start, end),
			FilePath:  fc.Path,
			Language:  language,
			Content:   section.Content,
			Before:    sliceLines(lines, start-snippetContextLines, start-1),
			After:     sliceLines(lines, end+1, end+snippetContextLines),
			StartLine: start,
			EndLine:   end,
			Relevance: r.ContextualRelevance,
		})
	}
	return fc, snippets, nil
}

// chunkFileContext builds a FileContext from the stored chunk previews when
// the file itself cannot be resolved.
func chunkFileContext(g fileGroup) (domain.FileContext, []domain.CodeSnippet) {
	first := g.results[0].Chunk
	fc := domain.FileContext{
		Path:      g.path,
		Name:      path.Base(g.path),
		Language:  first.Metadata.Language,
		Relevance: meanRelevance(g.results),
		Source:    domain.FileContextSourceChunks,
	}
	fc.Imports, fc.Exports = chunkSymbols(g.results)

	var snippets []domain.CodeSnippet
	seen := make(map[string]bool)
	for _, r := range g.results {
		if seen[r.Chunk.ID] || containedIn(fc.Sections, r.Chunk.StartLine, r.Chunk.EndLine) {
			continue
		}
		seen[r.Chunk.ID] = true
		section, snippet := chunkSection(g.path, r)
		fc.Sections = append(fc.Sections, section)
		snippets = append(snippets, snippet)
		fc.LineCount = max(fc.LineCount, section.EndLine)
	}
	return fc, snippets
}

func chunkSection(filePath string, r domain.EnhancedSearchResult) (domain.RelevantSection, domain.CodeSnippet) {
	c := r.Chunk
	section := domain.RelevantSection{
		Type:      c.Kind,
		Name:      c.Name,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Content:   c.Content,
		Context:   c.Content,
		Relevance: r.ContextualRelevance,
		ChunkID:   c.ID,
	}
	snippet := domain.CodeSnippet{
		ID:        snippetID(filePath, c.StartLine, c.EndLine),
		ChunkID:   c.ID,
		Title:     snippetTitle(c.Kind, c.Name, filePath, c.StartLine, c.EndLine),
		FilePath:  filePath,
		Language:  c.Metadata.Language,
		Content:   c.Content,
		StartLine: c.StartLine,
		EndLine:   c.EndLine,
		Relevance: r.ContextualRelevance,
	}
	return section, snippet
}

func containedIn(sections []domain.RelevantSection, start, end int) bool {
	for _, s := range sections {
		if s.StartLine <= start && end <= s.EndLine {
			return true
		}
	}
	return false
}

// sliceLines joins lines from..to (1-based, inclusive), clamped to the file.
func sliceLines(lines []string, from, to int) string {
	from = max(from, 1)
	to = min(to, len(lines))
	if from > to {
		return ""
	}
	return strings.Join(lines[from-1:to], "\n")
}

func chunkSymbols(results []domain.EnhancedSearchResult) (imports, exports []string) {
	seenImports := make(map[string]bool)
	seenExports := make(map[string]bool)
	for _, r := range results {
		for _, name := range r.Chunk.Metadata.Imports {
			if !seenImports[name] {
				seenImports[name] = true
				imports = append(imports, name)
			}
		}
		for _, name := range r.Chunk.Metadata.Exports {
			if !seenExports[name] {
				seenExports[name] = true
				exports = append(exports, name)
			}
		}
	}
	return imports, exports
}

func meanRelevance(results []domain.EnhancedSearchResult) float64 {
	if len(results) == 0 {
		return 0
	}
	total := 0.0
	for _, r := range results {
		total += r.ContextualRelevance
	}
	return total / float64(len(results))
}

func snippetID(filePath string, start, end int) string {
	return fmt.Sprintf("%s:%d-%d", filePath, start, end)
}

func snippetTitle(kind domain.ChunkKind, name, filePath string, start, end int) string {
	if name != "" {
		return fmt.Sprintf("%s %s", kind, name)
	}
	return fmt.Sprintf("%s lines %d-%d", path.Base(filePath), start, end)
}

func sortSnippets(snippets []domain.CodeSnippet) {
	sort.SliceStable(snippets, func(i, j int) bool {
		a, b := snippets[i], snippets[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.FilePath != b.FilePath {
			return a.FilePath < b.FilePath
		}
		return a.StartLine < b.StartLine
	})
}

var (
	pascalCaseRe = regexp.MustCompile(`\b[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+\b`)

	approachKeywords = []struct {
		words    []string
		approach string
	}{
		{[]string{"implement", "create", "add", "build", "new"}, "Follow the structure of the highest-ranked files when adding the new code, reusing their helpers and conventions."},
		{[]string{"fix", "debug", "bug", "error", "issue", "broken", "fail"}, "Start from the highest-ranked snippets and trace the data flow through them to locate the fault."},
		{[]string{"optimize", "optimise", "performance", "slow", "faster", "speed"}, "Measure the hot paths in the listed sections before changing their algorithms or data structures."},
	}
	defaultApproach = "Review the listed files in order of relevance to understand the existing implementation."
)

func summarize(query string, files []domain.FileContext, snippets []domain.CodeSnippet) domain.ContextSummary {
	summary := domain.ContextSummary{
		FilesAnalyzed:     len(files),
		PrimaryLanguages:  []string{},
		KeyPatterns:       []string{},
		RelatedConcepts:   []string{},
		SuggestedApproach: suggestApproach(query),
	}

	langCount := make(map[string]int)
	names := make(map[string]string)
	for _, f := range files {
		summary.SectionsFound += len(f.Sections)
		if f.Language != "" && f.Language != "unknown" {
			langCount[f.Language]++
		}
		for _, s := range f.Sections {
			names[s.ChunkID] = s.Name
		}
	}
	for lang := range langCount {
		summary.PrimaryLanguages = append(summary.PrimaryLanguages, lang)
	}
	sort.Slice(summary.PrimaryLanguages, func(i, j int) bool {
		a, b := summary.PrimaryLanguages[i], summary.PrimaryLanguages[j]
		if langCount[a] != langCount[b] {
			return langCount[a] > langCount[b]
		}
		return a < b
	})

	patterns := newBoundedSet(maxKeyPatterns)
	for _, s := range snippets {
		patterns.add(names[s.ChunkID])
		for _, id := range pascalCaseRe.FindAllString(s.Content, -1) {
			patterns.add(id)
		}
	}
	summary.KeyPatterns = patterns.items

	concepts := newBoundedSet(maxRelatedConcepts)
	for _, f := range files {
		for _, name := range f.Imports {
			concepts.add(name)
		}
		for _, name := range f.Exports {
			concepts.add(name)
		}
	}
	for _, f := range files {
		concepts.add(strings.TrimSuffix(f.Name, path.Ext(f.Name)))
	}
	summary.RelatedConcepts = concepts.items
	return summary
}

func suggestApproach(query string) string {
	tokens := queryTokens(query)
	for _, k := range approachKeywords {
		for _, w := range k.words {
			for _, tok := range tokens {
				if tok == w {
					return k.approach
				}
			}
		}
	}
	return defaultApproach
}

type boundedSet struct {
	limit int
	seen  map[string]bool
	items []string
}

func newBoundedSet(limit int) *boundedSet {
	return &boundedSet{limit: limit, seen: make(map[string]bool), items: []string{}}
}

func (s *boundedSet) add(v string) {
	if v == "" || s.seen[v] || len(s.items) >= s.limit {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

// confidence weighs the mean relevance of the used results with the breadth
// of the context. It is halved when every result came from the unconditional
// tier.
func confidence(used []domain.EnhancedSearchResult, files int, snippets []domain.CodeSnippet, languages int) (float64, bool) {
	if len(used) == 0 {
		return 0, false
	}

	c := 0.4 * meanRelevance(used)
	c += min(0.05*float64(files), 0.2)
	c += min(0.02*float64(len(snippets)), 0.2)
	if files > 0 && languages <= 2 {
		c += 0.1
	}
	high := 0
	for _, s := range snippets {
		if s.Relevance > 0.8 {
			high++
		}
	}
	c += min(0.025*float64(high), 0.1)
	if math.IsNaN(c) {
		c = 0
	}
	c = max(0, min(c, 1))

	low := true
	for _, r := range used {
		if !r.LowConfidence {
			low = false
			break
		}
	}
	if low {
		c /= 2
	}
	return c, low
}
