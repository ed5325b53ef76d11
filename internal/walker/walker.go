package walker

import (
	"bufio"
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/codelens/internal/chunker"
	"github.com/cloo-solutions/codelens/internal/domain"
)

// IgnoreFile lists extra directory patterns to skip, one per line.
const IgnoreFile = ".codelensignore"

// DefaultMaxFileSize skips generated bundles and data dumps.
const DefaultMaxFileSize = 1 << 20

var defaultIgnores = []string{
	".git",
	".svn",
	".hg",
	"node_modules",
	"vendor",
	"__pycache__",
	".venv",
	".idea",
	".vscode",
	"dist",
	"build",
	"target",
	"coverage",
}

// Options tunes a walk. Zero values select the defaults.
type Options struct {
	MaxFileSize int64
	// Extensions restricts the walk to these extensions (with the dot).
	// Empty means every extension the chunker recognises.
	Extensions []string
}

// Stats counts what a walk skipped
type Stats struct {
	Files    int
	Ignored  int
	TooLarge int
	Binary   int
}

// Walk collects the source files under root as file snapshots keyed by their
// slash-separated path relative to root. Symlinks, ignored directories,
// empty, oversized and binary files are skipped.
func Walk(root string, opts Options) ([]*domain.CodebaseFile, Stats, error) {
	var stats Stats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, stats, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, stats, err
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("%s is not a directory", root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	allowed := extensionFilter(opts.Extensions)
	ignores := append(append([]string(nil), defaultIgnores...), loadIgnorePatterns(absRoot)...)

	var files []*domain.CodebaseFile
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		rel, _ := filepath.Rel(absRoot, path)
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if matchesIgnore(d.Name(), rel, ignores) {
				stats.Ignored++
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !allowed(path) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() == 0 {
			return nil
		}
		if fi.Size() > maxSize {
			stats.TooLarge++
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		if isBinary(data) {
			stats.Binary++
			return nil
		}

		content := string(data)
		files = append(files, &domain.CodebaseFile{
			Path:     rel,
			Content:  content,
			Language: chunker.DetectLanguage(rel, content),
		})
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	stats.Files = len(files)
	return files, stats, nil
}

func extensionFilter(exts []string) func(string) bool {
	if len(exts) == 0 {
		return chunker.IsSupportedExtension
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return func(path string) bool {
		return set[strings.ToLower(filepath.Ext(path))]
	}
}

// isBinary treats NUL bytes or invalid UTF-8 in the first 8 KiB as binary.
func isBinary(data []byte) bool {
	head := data
	if len(head) > 8192 {
		head = head[:8192]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	for len(head) > 0 {
		r, size := utf8.DecodeRune(head)
		if r == utf8.RuneError && size == 1 {
			// A rune cut by the 8 KiB window is not an error.
			return len(head) >= utf8.UTFMax || len(data) == len(head)
		}
		head = head[size:]
	}
	return false
}

func loadIgnorePatterns(root string) []string {
	f, err := os.Open(filepath.Join(root, IgnoreFile))
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, strings.TrimSuffix(line, "/"))
	}
	return patterns
}

// matchesIgnore checks a directory name or relative path against the patterns:
// exact names, path prefixes and globs.
func matchesIgnore(name, relPath string, patterns []string) bool {
	for _, p := range patterns {
		if name == p {
			return true
		}
		if relPath == p || strings.HasPrefix(relPath, p+"/") {
			return true
		}
		if matched, _ := filepath.Match(p, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(p, name); matched {
			return true
		}
	}
	return false
}
