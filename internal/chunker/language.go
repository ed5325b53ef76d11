package chunker

import (
	"path/filepath"
	"strings"
)

const (
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangPython     = "python"
	LangJava       = "java"
	LangText       = "text"
)

var extensionLanguages = map[string]string{
	".js":    LangJavaScript,
	".jsx":   LangJavaScript,
	".mjs":   LangJavaScript,
	".cjs":   LangJavaScript,
	".ts":    LangTypeScript,
	".tsx":   LangTypeScript,
	".mts":   LangTypeScript,
	".cts":   LangTypeScript,
	".py":    LangPython,
	".pyi":   LangPython,
	".java":  LangJava,
	".go":    "go",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".php":   "php",
	".kt":    "kotlin",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".vue":   "vue",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
}

var shebangLanguages = []struct {
	needle   string
	language string
}{
	{"ts-node", LangTypeScript},
	{"deno", LangTypeScript},
	{"node", LangJavaScript},
	{"python", LangPython},
	{"ruby", "ruby"},
	{"perl", "perl"},
	{"bash", "shell"},
	{"zsh", "shell"},
	{"/sh", "shell"},
}

// DetectLanguage resolves the language of a file from its extension, falling
// back to the interpreter named in a shebang line.
func DetectLanguage(filePath, content string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}

	if strings.HasPrefix(content, "#!") {
		first := content
		if i := strings.IndexByte(content, '\n'); i >= 0 {
			first = content[:i]
		}
		for _, s := range shebangLanguages {
			if strings.Contains(first, s.needle) {
				return s.language
			}
		}
	}

	return LangText
}

// IsSupportedExtension reports whether files with this extension are worth
// indexing.
func IsSupportedExtension(filePath string) bool {
	_, ok := extensionLanguages[strings.ToLower(filepath.Ext(filePath))]
	return ok
}

func isScriptFamily(language string) bool {
	return language == LangJavaScript || language == LangTypeScript
}

func isTyped(language string) bool {
	return language == LangTypeScript
}
