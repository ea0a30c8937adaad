package models

import (
	"path"
	"strings"
)

// Languages a workspace file may declare.
const (
	LangPython     = "python"
	LangHTML       = "html"
	LangJavaScript = "javascript"
	LangCSS        = "css"
	LangJSON       = "json"
	LangMarkdown   = "markdown"
	LangText       = "text"
)

var languageByExtension = map[string]string{
	".py":   LangPython,
	".html": LangHTML,
	".htm":  LangHTML,
	".js":   LangJavaScript,
	".css":  LangCSS,
	".json": LangJSON,
	".md":   LangMarkdown,
	".txt":  LangText,
}

// GuessLanguage infers a language from the file name's extension, returning
// fallback when the extension is unknown.
func GuessLanguage(filename, fallback string) string {
	ext := strings.ToLower(path.Ext(filename))
	if lang, ok := languageByExtension[ext]; ok {
		return lang
	}
	return fallback
}

// Runnable reports whether files in the language can be sent to a runner.
func Runnable(language string) bool {
	switch language {
	case LangPython, LangHTML, LangJavaScript:
		return true
	}
	return false
}
