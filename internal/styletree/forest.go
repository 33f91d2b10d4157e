package styletree

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/fanout"
	"github.com/conneroisu/aemfed/internal/logging"
)

// Forest holds one Tree per content root and routes absolute paths to the
// tree whose root contains them.
type Forest struct {
	trees  []*Tree
	logger logging.Logger
}

// NewForest creates a tree for every root. Roots are made absolute.
func NewForest(roots []string, logger logging.Logger) (*Forest, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	f := &Forest{logger: logger.WithComponent("styletree")}
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, errors.WrapFile(err, "ABS", root)
		}
		f.trees = append(f.trees, New(abs, NewImportResolver(), logger))
	}
	return f, nil
}

// Trees returns the trees in root order.
func (f *Forest) Trees() []*Tree {
	return f.trees
}

// Init builds every tree concurrently. The first failure cancels the rest
// and is returned.
func (f *Forest) Init(ctx context.Context) error {
	tasks := make([]fanout.Task, len(f.trees))
	for i, tree := range f.trees {
		tasks[i] = tree.Init
	}
	return fanout.All(ctx, tasks...)
}

// Rebuild discards and rebuilds every tree.
func (f *Forest) Rebuild(ctx context.Context) error {
	f.logger.Info(ctx, "rebuild style trees", "roots", len(f.trees))
	return f.Init(ctx)
}

// FindBundles returns the union of bundles affected by the given absolute
// paths, in order of first appearance.
func (f *Forest) FindBundles(absPaths []string) []string {
	var bundles []string
	seen := make(map[string]bool)

	for _, p := range absPaths {
		for _, tree := range f.trees {
			rel, ok := relativeTo(tree.Root(), p)
			if !ok {
				continue
			}
			for _, bundle := range tree.FindBundles(rel) {
				if !seen[bundle] {
					seen[bundle] = true
					bundles = append(bundles, bundle)
				}
			}
		}
	}
	return bundles
}

func relativeTo(root, p string) (string, bool) {
	root = filepath.Clean(root)
	p = filepath.Clean(p)
	if !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", false
	}
	return "/" + filepath.ToSlash(strings.TrimPrefix(p, root+string(filepath.Separator))), true
}
