// Package chunker splits source files into semantic units: functions,
// classes, methods, declarations and, when nothing structural is found,
// size-bounded blocks.
package chunker

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// Config bounds chunk sizes, in characters.
type Config struct {
	MaxChunkSize int
	MinChunkSize int
}

// DefaultConfig provides sane defaults for chunking.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 1000,
		MinChunkSize: 50,
	}
}

// Chunker is stateless and safe for concurrent use.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. Zero fields fall back to DefaultConfig.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.MaxChunkSize <= 0 {
		cfg.MaxChunkSize = def.MaxChunkSize
	}
	if cfg.MinChunkSize < 0 || cfg.MinChunkSize >= cfg.MaxChunkSize {
		cfg.MinChunkSize = def.MinChunkSize
	}
	return &Chunker{cfg: cfg}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits one file into chunks. It never fails: any extractor error or
// panic degrades to generic line-based chunking. An empty language is
// detected from the path and content.
func (c *Chunker) Chunk(filePath, content, language string) (chunks []domain.CodeChunk) {
	content = strings.TrimPrefix(normalizeLineEndings(content), "\ufeff")
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if language == "" {
		language = DetectLanguage(filePath, content)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("chunker: %s: extractor panic, using generic chunking: %v", filePath, r)
			chunks = c.Optimize(c.genericChunks(filePath, language, strings.Split(content, "\n")))
		}
	}()

	raw, err := c.extract(filePath, content, language)
	if err != nil {
		log.Printf("chunker: %s: %v, using generic chunking", filePath, err)
		raw = c.genericChunks(filePath, language, strings.Split(content, "\n"))
	}
	if len(raw) == 0 {
		raw = []domain.CodeChunk{c.wholeFile(filePath, language, content)}
	}

	return c.Optimize(raw)
}

func (c *Chunker) extract(filePath, content, language string) ([]domain.CodeChunk, error) {
	switch {
	case isScriptFamily(language):
		return c.extractScript(filePath, content, language), nil
	case language == LangPython || language == LangJava:
		return c.extractTree(filePath, content, language)
	default:
		return c.genericChunks(filePath, language, strings.Split(content, "\n")), nil
	}
}

// newChunk cuts lines[start-1:end] out as a chunk, clamping the range to the
// file, and derives its metadata.
func newChunk(filePath, language string, kind domain.ChunkKind, name string, lines []string, start, end int) domain.CodeChunk {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if end < start {
		end = start
	}
	content := strings.Join(lines[start-1:end], "\n")
	return chunkFromContent(filePath, language, kind, name, content, start, end)
}

func chunkFromContent(filePath, language string, kind domain.ChunkKind, name, content string, start, end int) domain.CodeChunk {
	deps, imports := Imports(language, content)
	return domain.CodeChunk{
		ID:        domain.ChunkID(filePath, start, end, content),
		Content:   content,
		Kind:      kind,
		Name:      name,
		FilePath:  filePath,
		StartLine: start,
		EndLine:   end,
		Metadata: domain.ChunkMetadata{
			Language:     language,
			Complexity:   Complexity(content),
			Dependencies: deps,
			Exports:      Exports(language, content),
			Imports:      imports,
			Keywords:     Keywords(content),
		},
	}
}

func (c *Chunker) wholeFile(filePath, language, content string) domain.CodeChunk {
	lines := strings.Split(content, "\n")
	return newChunk(filePath, language, domain.ChunkKindBlock, filepath.Base(filePath), lines, 1, len(lines))
}

// genericChunks accumulates lines up to MaxChunkSize, breaking early on a
// blank line once the block is three quarters full.
func (c *Chunker) genericChunks(filePath, language string, lines []string) []domain.CodeChunk {
	var chunks []domain.CodeChunk
	flush := func(start, end int) {
		if end >= start && hasCode(lines[start:end+1]) {
			chunks = append(chunks, newChunk(filePath, language, domain.ChunkKindBlock, "", lines, start+1, end+1))
		}
	}

	start, size := 0, 0
	soft := c.cfg.MaxChunkSize * 3 / 4
	for i, line := range lines {
		if size > 0 && size+len(line)+1 > c.cfg.MaxChunkSize {
			flush(start, i-1)
			start, size = i, 0
		}
		size += len(line) + 1
		if strings.TrimSpace(line) == "" && size >= soft {
			flush(start, i)
			start, size = i+1, 0
		}
	}
	flush(start, len(lines)-1)
	return chunks
}

// Optimize splits chunks longer than 1.5x MaxChunkSize into numbered parts
// at blank lines and drops trivial blocks shorter than MinChunkSize. If every
// chunk would be dropped the small ones are kept so a file is never lost.
func (c *Chunker) Optimize(chunks []domain.CodeChunk) []domain.CodeChunk {
	limit := c.cfg.MaxChunkSize * 3 / 2
	out := make([]domain.CodeChunk, 0, len(chunks))
	var small []domain.CodeChunk
	renamed := make(map[string]string)

	for _, ch := range chunks {
		switch {
		case len(ch.Content) > limit:
			parts := c.split(ch)
			if len(parts) > 0 && parts[0].ID != ch.ID {
				renamed[ch.ID] = parts[0].ID
				parts[0].ChildChunks = ch.ChildChunks
			}
			out = append(out, parts...)
		case len(ch.Content) < c.cfg.MinChunkSize && ch.Kind == domain.ChunkKindBlock && ch.Metadata.Complexity <= 1:
			small = append(small, ch)
		default:
			out = append(out, ch)
		}
	}

	if len(out) == 0 {
		return small
	}
	if len(renamed) > 0 {
		for i := range out {
			if id, ok := renamed[out[i].ParentChunk]; ok {
				out[i].ParentChunk = id
			}
		}
	}
	return out
}

type lineSpan struct {
	start, end int
}

// split cuts an oversized chunk into parts of at most MaxChunkSize
// characters, preferring blank-line boundaries. A single line longer than
// the limit stays whole.
func (c *Chunker) split(ch domain.CodeChunk) []domain.CodeChunk {
	lines := strings.Split(ch.Content, "\n")
	limit := c.cfg.MaxChunkSize

	var spans []lineSpan
	start, size := 0, 0
	for i := range lines {
		size += len(lines[i]) + 1
		for size > limit && i > start {
			cut := i - 1
			for b := i - 1; b > start; b-- {
				if strings.TrimSpace(lines[b]) == "" {
					cut = b
					break
				}
			}
			spans = append(spans, lineSpan{start, cut})
			start = cut + 1
			size = 0
			for j := start; j <= i; j++ {
				size += len(lines[j]) + 1
			}
		}
	}
	spans = append(spans, lineSpan{start, len(lines) - 1})
	if len(spans) == 1 {
		return []domain.CodeChunk{ch}
	}

	base := ch.Name
	if base == "" {
		base = string(ch.Kind)
	}

	parts := make([]domain.CodeChunk, 0, len(spans))
	for n, s := range spans {
		content := strings.Join(lines[s.start:s.end+1], "\n")
		if !hasCode(lines[s.start : s.end+1]) {
			continue
		}
		part := chunkFromContent(
			ch.FilePath, ch.Metadata.Language, ch.Kind,
			fmt.Sprintf("%s_part_%d", base, n+1),
			content, ch.StartLine+s.start, ch.StartLine+s.end,
		)
		part.ParentChunk = ch.ParentChunk
		parts = append(parts, part)
	}
	return parts
}

func hasCode(lines []string) bool {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return true
		}
	}
	return false
}

func normalizeLineEndings(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}
