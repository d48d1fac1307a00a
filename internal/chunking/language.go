package chunking

import (
	"path/filepath"
	"strings"
)

// languageByExt maps file extensions to the language tag stored in chunk
// payloads and used for filter push-down.
var languageByExt = map[string]string{
	".go":    "go",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rs":    "rust",
	".java":  "java",
	".kt":    "kotlin",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".toml":  "toml",
	".xml":   "xml",
	".html":  "html",
	".css":   "css",
	".md":    "markdown",
	".rst":   "restructuredtext",
	".txt":   "text",
}

// proseLanguages routes through the recursive-character splitter instead of
// line windows.
var proseLanguages = map[string]bool{
	"markdown":         true,
	"restructuredtext": true,
	"text":             true,
}

// LanguageOf derives the language tag from a file path. Unknown extensions
// return "text" so everything readable is still indexable.
func LanguageOf(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if lang, ok := languageByExt[ext]; ok {
		return lang
	}
	return "text"
}

// isProse reports whether a language uses the prose splitter.
func isProse(lang string) bool {
	return proseLanguages[lang]
}
