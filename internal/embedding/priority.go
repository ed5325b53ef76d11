package embedding

import (
	"path"
	"sort"
	"strings"

	"github.com/cloo-solutions/codelens/internal/domain"
)

// Priority tiers, lowest first. Chunks of more important files are embedded
// first so a partially failed run still covers the core of the codebase.
const (
	PriorityEntryPoint = 0
	PriorityLibrary    = 10
	PriorityUI         = 20
	PriorityAPI        = 30
	PriorityOther      = 35
	PriorityConfig     = 40
	PriorityTest       = 50
)

var entryPointNames = map[string]bool{
	"main": true, "app": true, "index": true, "server": true,
}

var (
	libraryDirs = []string{"lib", "libs", "service", "services", "core", "internal", "pkg", "utils"}
	uiDirs      = []string{"components", "component", "ui", "views", "pages", "widgets", "layouts"}
	apiDirs     = []string{"api", "routes", "router", "controllers", "handlers", "endpoints"}
	configDirs  = []string{"config", "configs", "types", "typings", "@types"}
	testDirs    = []string{"test", "tests", "__tests__", "__mocks__", "spec", "e2e", "fixtures"}
)

var primaryExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true, ".py": true, ".java": true,
}

// Priority ranks a file path; smaller is more important.
func Priority(filePath string) int {
	p := strings.ToLower(strings.ReplaceAll(filePath, "\\", "/"))
	base := path.Base(p)
	stem := strings.SplitN(base, ".", 2)[0]
	dirs := strings.Split(path.Dir(p), "/")

	switch {
	case isTestFile(base) || hasDir(dirs, testDirs):
		return PriorityTest
	case isConfigFile(base) || hasDir(dirs, configDirs):
		return PriorityConfig
	case entryPointNames[stem]:
		return PriorityEntryPoint
	case hasDir(dirs, libraryDirs):
		return PriorityLibrary
	case hasDir(dirs, uiDirs) || path.Ext(base) == ".jsx" || path.Ext(base) == ".tsx" || path.Ext(base) == ".vue":
		return PriorityUI
	case hasDir(dirs, apiDirs):
		return PriorityAPI
	}
	return PriorityOther
}

func isTestFile(base string) bool {
	return strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.HasPrefix(base, "test_") ||
		strings.HasSuffix(base, "_test.py") ||
		strings.HasSuffix(base, "test.java") ||
		strings.HasSuffix(base, "tests.java")
}

func isConfigFile(base string) bool {
	return strings.Contains(base, ".config.") ||
		strings.HasSuffix(base, ".d.ts") ||
		strings.HasPrefix(base, "config.") ||
		strings.HasPrefix(base, "settings.") ||
		strings.HasPrefix(base, "types.") ||
		strings.HasPrefix(base, "constants.") ||
		path.Ext(base) == ".json" ||
		path.Ext(base) == ".yaml" ||
		path.Ext(base) == ".yml"
}

func hasDir(dirs, names []string) bool {
	for _, d := range dirs {
		for _, n := range names {
			if d == n {
				return true
			}
		}
	}
	return false
}

// Prioritize returns the chunks ordered by file priority, primary source
// extensions first within a tier. The order is otherwise stable.
func Prioritize(chunks []domain.CodeChunk) []domain.CodeChunk {
	out := make([]domain.CodeChunk, len(chunks))
	copy(out, chunks)

	rank := func(c domain.CodeChunk) (int, int) {
		ext := 1
		if primaryExtensions[strings.ToLower(path.Ext(c.FilePath))] {
			ext = 0
		}
		return Priority(c.FilePath), ext
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, ei := rank(out[i])
		pj, ej := rank(out[j])
		if pi != pj {
			return pi < pj
		}
		return ei < ej
	})
	return out
}
