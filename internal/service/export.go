package service

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cloo-solutions/codelens/internal/domain"
)

const exportMaxSnippets = 10

// ExportText renders the top snippets of a context as Markdown. The output
// depends only on the context, so equal contexts export identically.
func ExportText(ac *domain.AssembledContext) string {
	if ac == nil {
		return ""
	}
	var b strings.Builder

	fmt.Fprintf(&b, "# Code context: %s\n\n", ac.Query)
	fmt.Fprintf(&b, "Confidence: %d%% | %d files | %d snippets\n", percent(ac.Confidence), len(ac.RelevantFiles), len(ac.CodeSnippets))
	if ac.LowConfidence {
		b.WriteString("\n> Low confidence: no result passed the relevance thresholds.\n")
	}
	if ac.Summary.SuggestedApproach != "" {
		fmt.Fprintf(&b, "\n%s\n", ac.Summary.SuggestedApproach)
	}

	for i, s := range ac.CodeSnippets {
		if i == exportMaxSnippets {
			break
		}
		fmt.Fprintf(&b, "\n## %d. %s\n\n", i+1, s.Title)
		fmt.Fprintf(&b, "`%s:%d-%d` relevance %d%%\n\n", s.FilePath, s.StartLine, s.EndLine, percent(s.Relevance))
		fmt.Fprintf(&b, "```%s\n%s\n```\n", fenceLanguage(s.Language), strings.TrimRight(s.Content, "\n"))
	}
	return b.String()
}

func percent(v float64) int {
	return int(math.Round(v * 100))
}

func fenceLanguage(language string) string {
	if language == "unknown" {
		return ""
	}
	return language
}

// OptimizeForDisplay returns a copy of ac trimmed to at most maxLines display
// lines. It drops the least relevant files first, then the least relevant
// snippets, then shortens what is left. ac is not modified.
func OptimizeForDisplay(ac *domain.AssembledContext, maxLines int) *domain.AssembledContext {
	if ac == nil {
		return nil
	}
	out := *ac
	out.RelevantFiles = append([]domain.FileContext(nil), ac.RelevantFiles...)
	out.CodeSnippets = append([]domain.CodeSnippet(nil), ac.CodeSnippets...)
	out.Errors = append([]string(nil), ac.Errors...)
	out.TotalLines = displayLines(&out)
	if maxLines <= 0 || out.TotalLines <= maxLines {
		return &out
	}

	for len(out.RelevantFiles) > 1 && displayLines(&out) > maxLines {
		i := leastRelevantFile(out.RelevantFiles)
		dropped := out.RelevantFiles[i].Path
		out.RelevantFiles = append(out.RelevantFiles[:i], out.RelevantFiles[i+1:]...)
		kept := out.CodeSnippets[:0]
		for _, s := range out.CodeSnippets {
			if s.FilePath != dropped {
				kept = append(kept, s)
			}
		}
		out.CodeSnippets = kept
	}

	sortSnippets(out.CodeSnippets)
	for len(out.CodeSnippets) > 1 && displayLines(&out) > maxLines {
		out.CodeSnippets = out.CodeSnippets[:len(out.CodeSnippets)-1]
	}

	if displayLines(&out) > maxLines {
		for i := range out.RelevantFiles {
			out.RelevantFiles[i].Content = ""
		}
	}
	if displayLines(&out) > maxLines {
		for i := range out.CodeSnippets {
			out.CodeSnippets[i].Before = ""
			out.CodeSnippets[i].After = ""
		}
	}
	if len(out.CodeSnippets) == 1 && displayLines(&out) > maxLines {
		out.CodeSnippets[0].Content = firstLines(out.CodeSnippets[0].Content, maxLines)
	}

	out.Summary.FilesAnalyzed = len(out.RelevantFiles)
	out.TotalLines = displayLines(&out)
	return &out
}

func leastRelevantFile(files []domain.FileContext) int {
	idx := make([]int, len(files))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		fa, fb := files[idx[a]], files[idx[b]]
		if fa.Relevance != fb.Relevance {
			return fa.Relevance < fb.Relevance
		}
		return fa.Path > fb.Path
	})
	return idx[0]
}

// displayLines counts the lines a client would render: every snippet with its
// surrounding lines plus any full file content.
func displayLines(ac *domain.AssembledContext) int {
	total := 0
	for _, s := range ac.CodeSnippets {
		total += countLines(s.Before) + countLines(s.Content) + countLines(s.After)
	}
	for _, f := range ac.RelevantFiles {
		total += countLines(f.Content)
	}
	return total
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}

func firstLines(s string, n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n")
}
