package tree

import (
	"path"
	"strings"
)

// NormalizePath cleans a workspace path and strips leading and trailing
// slashes. The workspace root is "".
func NormalizePath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}
	p = path.Clean("/" + p)
	return strings.Trim(p, "/")
}

// SplitPath returns the non-empty segments of a normalized path.
func SplitPath(p string) []string {
	p = NormalizePath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// BuildChildPath constructs a child path from parent + name.
func BuildChildPath(parentPath, name string) string {
	if parentPath == "" || parentPath == "/" {
		return name
	}
	return parentPath + "/" + name
}
