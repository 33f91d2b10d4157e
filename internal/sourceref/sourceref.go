// Package sourceref models a location in a local source file recovered from
// a server message, and resolves repository paths against the configured
// content roots.
package sourceref

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Capture group names understood by Extract.
const (
	GroupRepoPath = "jcrPath"
	GroupFilePath = "filePath"
	GroupLine     = "line"
	GroupColumn   = "column"
)

// Ref is a source file reference. RepoPath is the slash-rooted path inside
// the content repository; AbsolutePath is only ever set to an existing,
// non-directory file below one of the content roots.
type Ref struct {
	RepoPath     string
	AbsolutePath string
	RelativePath string
	Line         int
	Column       int
	HasColumn    bool
}

// HasPath reports whether any kind of path is known.
func (r *Ref) HasPath() bool {
	return r.RepoPath != "" || r.AbsolutePath != "" || r.RelativePath != ""
}

// HasLine reports whether a line number is known.
func (r *Ref) HasLine() bool {
	return r.Line > 0
}

// Complete reports whether the reference has both a path and a line.
func (r *Ref) Complete() bool {
	return r.HasPath() && r.HasLine()
}

// SetColumn records a column, which may legitimately be zero.
func (r *Ref) SetColumn(column int) {
	r.Column = column
	r.HasColumn = true
}

// Resolver turns repository paths into local file paths.
type Resolver struct {
	Roots   []string
	WorkDir string
}

// NewResolver creates a resolver for the given absolute content roots,
// computing relative paths against the current working directory.
func NewResolver(roots []string) *Resolver {
	wd, err := os.Getwd()
	if err != nil {
		wd = ""
	}
	return &Resolver{Roots: roots, WorkDir: wd}
}

// Extract matches message against pattern and builds a reference from the
// named capture groups. Groups that are absent or did not participate in
// the match leave the corresponding field unset. Nil is returned when the
// pattern does not match.
func (r *Resolver) Extract(message string, pattern *regexp.Regexp) *Ref {
	match := pattern.FindStringSubmatch(message)
	if match == nil {
		return nil
	}

	ref := &Ref{}
	for i, name := range pattern.SubexpNames() {
		if i == 0 || name == "" || match[i] == "" {
			continue
		}
		value := match[i]
		switch name {
		case GroupRepoPath:
			ref.RepoPath = value
		case GroupFilePath:
			ref.AbsolutePath = value
		case GroupLine:
			if n, err := strconv.Atoi(value); err == nil {
				ref.Line = n
			}
		case GroupColumn:
			if n, err := strconv.Atoi(value); err == nil {
				ref.SetColumn(n)
			}
		}
	}

	return r.Resolve(ref)
}

// Resolve sets AbsolutePath from RepoPath using the first content root in
// which the file exists and is not a directory, then derives RelativePath
// when the file lies below the working directory.
func (r *Resolver) Resolve(ref *Ref) *Ref {
	if ref.RepoPath != "" && ref.AbsolutePath == "" {
		for _, root := range r.Roots {
			candidate := filepath.Join(root, filepath.FromSlash(ref.RepoPath))
			info, err := os.Stat(candidate)
			if err == nil && !info.IsDir() {
				ref.AbsolutePath = candidate
				break
			}
		}
	}

	if ref.AbsolutePath != "" && r.WorkDir != "" && ref.RelativePath == "" {
		if within(r.WorkDir, ref.AbsolutePath) {
			if rel, err := filepath.Rel(r.WorkDir, ref.AbsolutePath); err == nil {
				ref.RelativePath = rel
			}
		}
	}

	return ref
}

// Relocate points ref at a different repository path and line, dropping any
// previously resolved local paths before resolving again.
func (r *Resolver) Relocate(ref *Ref, repoPath string, line int) {
	ref.RepoPath = repoPath
	ref.Line = line
	ref.AbsolutePath = ""
	ref.RelativePath = ""
	r.Resolve(ref)
}

// RepoPath converts an absolute local path into a slash-rooted repository
// path for the first content root containing it.
func (r *Resolver) RepoPath(absPath string) (string, bool) {
	for _, root := range r.Roots {
		if within(root, absPath) {
			rel, err := filepath.Rel(root, absPath)
			if err != nil {
				continue
			}
			return "/" + filepath.ToSlash(rel), true
		}
	}
	return "", false
}

// Format renders "path[:line[:column]]", preferring the relative path.
// It reports false when no local path is known.
func Format(ref *Ref) (string, bool) {
	if ref == nil {
		return "", false
	}
	filePath := ref.RelativePath
	if filePath == "" {
		filePath = ref.AbsolutePath
	}
	if filePath == "" {
		return "", false
	}

	fragments := []string{filePath}
	if ref.Line != 0 {
		fragments = append(fragments, strconv.Itoa(ref.Line))
		if ref.Column != 0 {
			fragments = append(fragments, strconv.Itoa(ref.Column))
		}
	}
	return strings.Join(fragments, ":"), true
}

// NormalizePath produces a cache key that matches regardless of leading
// slashes, path separator or case.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimLeft(p, "/")
	return strings.ToLower(p)
}

func within(dir, p string) bool {
	dir = filepath.Clean(dir)
	p = filepath.Clean(p)
	if p == dir {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(dir, string(filepath.Separator))+string(filepath.Separator))
}

// Extract is shorthand for NewResolver(roots).Extract.
func Extract(message string, pattern *regexp.Regexp, roots []string) *Ref {
	return NewResolver(roots).Extract(message, pattern)
}

// Resolve is shorthand for NewResolver(roots).Resolve.
func Resolve(ref *Ref, roots []string) *Ref {
	return NewResolver(roots).Resolve(ref)
}
