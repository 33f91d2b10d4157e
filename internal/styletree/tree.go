// Package styletree maps changed source files to the stylesheet bundles that
// include them.
//
// A Tree is built per content root. Its first level holds the css.txt
// manifests that define a client library, the second level the sources each
// manifest lists, and below that the import graph of LESS/SCSS sources.
// Subtrees that may be stale are rebuilt in place when a lookup touches them.
package styletree

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
)

// Tree is the style dependency tree of one content root.
type Tree struct {
	root     string
	resolver ImportResolver
	logger   logging.Logger

	mu    sync.Mutex
	nodes *arena
}

// New creates an empty tree for the absolute content root.
func New(root string, resolver ImportResolver, logger logging.Logger) *Tree {
	if resolver == nil {
		resolver = NewImportResolver()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Tree{
		root:     root,
		resolver: resolver,
		logger:   logger.WithComponent("styletree").With("root", root),
		nodes:    newArena(),
	}
}

// Root returns the absolute content root.
func (t *Tree) Root() string {
	return t.root
}

// Init walks the content root and builds the tree from every css.txt that
// has a sibling .content.xml.
func (t *Tree) Init(ctx context.Context) error {
	op := logging.StartOperation(t.logger, "build style tree")

	contentFiles := make(map[string]bool)
	var manifests []string

	err := filepath.WalkDir(t.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			return nil
		}

		repoPath := t.repoPath(p)
		isCSS, _, isContent := classify(repoPath)
		switch {
		case isContent:
			contentFiles[repoPath] = true
		case isCSS:
			manifests = append(manifests, repoPath)
		}
		return nil
	})
	if err != nil {
		werr := errors.WrapFile(err, "WALK", t.root)
		op.EndWithError(ctx, werr)
		return werr
	}

	nodes := newArena()
	for _, manifest := range manifests {
		if !contentFiles[path.Join(path.Dir(manifest), ".content.xml")] {
			continue
		}
		nodes.graft(rootIndex, t.manifestModel(manifest), -1)
	}

	t.mu.Lock()
	t.nodes = nodes
	t.mu.Unlock()

	op.End(ctx, "manifests", len(nodes.nodes[rootIndex].Children), "nodes", nodes.live())
	return nil
}

// FindBundles returns the stylesheet bundles affected by a change to
// repoPath, without duplicates. Matched nodes that have children or were
// missing are rebuilt from disk, and a new css.txt is added to the tree.
func (t *Tree) FindBundles(repoPath string) []string {
	repoPath = path.Clean("/" + repoPath)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.resolver.Reset()

	var bundles []string
	seen := make(map[string]bool)

	matches := t.nodes.find(repoPath)
	for _, idx := range matches {
		n := t.nodes.node(idx)
		if !n.alive {
			continue
		}

		chain := t.nodes.ancestry(idx)
		if len(chain) > 1 {
			bundle := BundleFor(t.nodes.node(chain[1]).ID)
			if !seen[bundle] {
				seen[bundle] = true
				bundles = append(bundles, bundle)
			}
		}

		if len(n.Children) > 0 || n.Missing {
			t.repair(idx)
		}
	}

	if len(matches) == 0 && path.Base(repoPath) == "css.txt" {
		t.addManifest(repoPath)
	}

	if t.nodes.compact() {
		t.logger.Debug(context.Background(), "compacted tree", "nodes", t.nodes.live())
	}

	return bundles
}

// Nodes returns the number of live nodes, the root included.
func (t *Tree) Nodes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes.live()
}

func (t *Tree) repair(idx int) {
	n := t.nodes.node(idx)

	var m *model
	switch n.Kind {
	case KindManifest:
		m = t.manifestModel(n.ID)
	case KindSource, KindStyleSource, KindImport:
		m = t.sourceModel(n.ID)
	default:
		return
	}

	t.logger.Debug(context.Background(), "rebuild subtree", "path", n.ID, "kind", n.Kind.String())
	t.nodes.replace(idx, m)
}

func (t *Tree) addManifest(repoPath string) {
	contentXML := filepath.Join(t.abs(path.Dir(repoPath)), ".content.xml")
	if _, err := os.Stat(contentXML); err != nil {
		t.logger.Debug(context.Background(), "css.txt without .content.xml ignored", "path", repoPath)
		return
	}
	t.logger.Info(context.Background(), "add new css.txt", "path", repoPath)
	t.nodes.graft(rootIndex, t.manifestModel(repoPath), -1)
}

func (t *Tree) manifestModel(manifest string) *model {
	m := &model{id: manifest, kind: KindManifest}

	data, err := os.ReadFile(t.abs(manifest))
	if err != nil {
		m.missing = true
		return m
	}

	for _, entry := range parseManifest(string(data), manifest) {
		m.children = append(m.children, t.sourceModel(entry))
	}
	return m
}

func (t *Tree) sourceModel(repoPath string) *model {
	repoPath = path.Clean(repoPath)
	m := &model{id: repoPath, kind: KindSource}

	if !IsPreprocessed(repoPath) {
		if info, err := os.Stat(t.abs(repoPath)); err != nil || info.IsDir() {
			m.missing = true
		}
		return m
	}

	graph := t.resolver.Resolve(t.root, repoPath)
	m.kind = KindStyleSource
	m.missing = graph.Missing
	for _, child := range graph.Children {
		m.children = append(m.children, importModel(child))
	}
	return m
}

func importModel(n ImportNode) *model {
	m := &model{id: n.Path, kind: KindImport, missing: n.Missing}
	for _, child := range n.Children {
		m.children = append(m.children, importModel(child))
	}
	return m
}

func (t *Tree) repoPath(abs string) string {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return ""
	}
	return "/" + filepath.ToSlash(rel)
}

func (t *Tree) abs(repoPath string) string {
	return filepath.Join(t.root, filepath.FromSlash(repoPath))
}
