package styletree

import (
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ImportNode is one file of a stylesheet import graph. Path is a
// repository path relative to the content root.
type ImportNode struct {
	Path     string
	Missing  bool
	Children []ImportNode
}

// ImportResolver resolves the import graph of a preprocessed stylesheet.
// Reset drops anything cached between lookups.
type ImportResolver interface {
	Resolve(root, repoPath string) ImportNode
	Reset()
}

var (
	importStatement = regexp.MustCompile(`@import\s*(?:\(([^)]*)\)\s*)?(?:url\(\s*)?["']([^"']+)["']\s*\)?[^;]*;`)
	blockComment    = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment     = regexp.MustCompile(`(?m)^\s*//.*$`)
)

// IsPreprocessed reports whether the file at p has an import graph worth
// resolving.
func IsPreprocessed(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".less", ".scss":
		return true
	}
	return false
}

type cachedFile struct {
	missing bool
	imports []string
}

// regexImportResolver follows @import statements in LESS and SCSS files.
// Parsed files are cached until Reset so a file imported from several
// entry points is read once per lookup.
type regexImportResolver struct {
	mu    sync.Mutex
	cache map[string]cachedFile
}

// NewImportResolver returns the default @import resolver.
func NewImportResolver() ImportResolver {
	return &regexImportResolver{cache: make(map[string]cachedFile)}
}

func (r *regexImportResolver) Reset() {
	r.mu.Lock()
	r.cache = make(map[string]cachedFile)
	r.mu.Unlock()
}

func (r *regexImportResolver) Resolve(root, repoPath string) ImportNode {
	return r.resolve(root, path.Clean(repoPath), map[string]bool{})
}

func (r *regexImportResolver) resolve(root, repoPath string, visiting map[string]bool) ImportNode {
	node := ImportNode{Path: repoPath}
	file := r.load(root, repoPath)
	if file.missing {
		node.Missing = true
		return node
	}
	if visiting[repoPath] {
		return node
	}
	visiting[repoPath] = true
	defer delete(visiting, repoPath)

	for _, imp := range file.imports {
		node.Children = append(node.Children, r.resolve(root, imp, visiting))
	}
	return node
}

func (r *regexImportResolver) load(root, repoPath string) cachedFile {
	r.mu.Lock()
	cached, ok := r.cache[repoPath]
	r.mu.Unlock()
	if ok {
		return cached
	}

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(repoPath)))
	if err != nil {
		cached = cachedFile{missing: true}
	} else {
		cached = cachedFile{imports: r.parseImports(root, repoPath, string(data))}
	}

	r.mu.Lock()
	r.cache[repoPath] = cached
	r.mu.Unlock()
	return cached
}

func (r *regexImportResolver) parseImports(root, repoPath, contents string) []string {
	contents = blockComment.ReplaceAllString(contents, "")
	contents = lineComment.ReplaceAllString(contents, "")

	scss := strings.EqualFold(path.Ext(repoPath), ".scss")
	dir := path.Dir(repoPath)

	var imports []string
	for _, m := range importStatement.FindAllStringSubmatch(contents, -1) {
		options, target := m[1], m[2]
		if strings.Contains(target, "://") || hasOption(options, "css") {
			continue
		}

		ext := strings.ToLower(path.Ext(target))
		if ext == ".css" {
			continue
		}

		var resolved string
		if path.IsAbs(target) {
			resolved = path.Clean(target)
		} else {
			resolved = path.Join(dir, target)
		}

		if ext == "" {
			if scss {
				resolved = scssCandidate(root, resolved)
			} else {
				resolved += ".less"
			}
		}
		imports = append(imports, resolved)
	}
	return imports
}

// scssCandidate picks the partial form "_name.scss" when only that exists.
func scssCandidate(root, resolved string) string {
	plain := resolved + ".scss"
	partial := path.Join(path.Dir(resolved), "_"+path.Base(resolved)+".scss")
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(plain))); err == nil {
		return plain
	}
	if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(partial))); err == nil {
		return partial
	}
	return plain
}

func hasOption(options, name string) bool {
	for _, opt := range strings.Split(options, ",") {
		if strings.TrimSpace(opt) == name {
			return true
		}
	}
	return false
}
