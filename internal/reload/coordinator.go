package reload

import (
	"context"
	"path"
	"strings"
	"sync"

	"github.com/conneroisu/aemfed/internal/clientlib"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

// Browser refreshes the pages connected to one proxy.
type Browser interface {
	InjectCSS(targets []string)
	Reload()
}

// StyleBundles maps changed style files to the generated css bundles.
type StyleBundles interface {
	FindBundles(absPaths []string) []string
	Rebuild(ctx context.Context) error
}

// Libraries is the client library index of one server.
type Libraries interface {
	FindLibraries(name string) []clientlib.Library
	Rebuild(ctx context.Context) error
}

// LineCaches holds the JavaScript line mapping caches of one server.
type LineCaches interface {
	ResetFiles(paths ...string)
	ResetLibs()
}

// Outcome describes what a reload did.
type Outcome struct {
	Injected bool
	Targets  []string
	Rebuilt  bool
}

// Coordinator turns pushed file batches into browser refreshes for one
// server. Reloads are serialised so a structural rebuild completes before
// the next batch is looked at.
type Coordinator struct {
	name     string
	styles   StyleBundles
	libs     Libraries
	caches   LineCaches
	browser  Browser
	resolver *sourceref.Resolver
	logger   logging.Logger

	mu sync.Mutex
}

// Options bundles the collaborators of a Coordinator.
type Options struct {
	Name    string
	Roots   []string
	Styles  StyleBundles
	Libs    Libraries
	Caches  LineCaches
	Browser Browser
	Logger  logging.Logger
}

// NewCoordinator creates a coordinator. Caches may be nil.
func NewCoordinator(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Coordinator{
		name:     opts.Name,
		styles:   opts.Styles,
		libs:     opts.Libs,
		caches:   opts.Caches,
		browser:  opts.Browser,
		resolver: &sourceref.Resolver{Roots: opts.Roots},
		logger:   logger.WithComponent("reload").With("server", opts.Name),
	}
}

// Reload refreshes the browser for a batch of changed absolute paths.
// A failed rebuild is returned, but the browser has been refreshed by then.
func (c *Coordinator) Reload(ctx context.Context, paths []string) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	changes := Classify(paths)

	// Always consulted: it repairs the style trees as a side effect.
	targets := c.cssTargets(changes.StyleRelated())

	if changes.StyleOnly() {
		c.logger.Info(ctx, "only styling was changed, injecting", "stylesheets", len(targets))
		c.browser.InjectCSS(withProxyAliases(targets))
		return Outcome{Injected: true, Targets: targets}, nil
	}

	if c.caches != nil {
		if len(changes.Scripts) > 0 {
			c.caches.ResetFiles(c.repoPaths(changes.Scripts)...)
		}
		if changes.Structural() || len(changes.ScriptManifests) > 0 {
			c.caches.ResetLibs()
		}
	}

	c.browser.Reload()

	if !changes.Structural() {
		return Outcome{}, nil
	}

	c.logger.Info(ctx, "special paths were changed, rebuilding client libraries", "paths", len(changes.Special))
	perf := logging.StartOperation(c.logger, "rebuild client libraries")
	if err := c.libs.Rebuild(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return Outcome{}, err
	}
	if c.styles != nil {
		if err := c.styles.Rebuild(ctx); err != nil {
			perf.EndWithError(ctx, err)
			return Outcome{}, err
		}
	}
	perf.End(ctx)
	return Outcome{Rebuilt: true}, nil
}

// cssTargets returns the distinct stylesheet URLs of every library that
// contains or embeds a bundle affected by files.
func (c *Coordinator) cssTargets(files []string) []string {
	targets := []string{}
	if len(files) == 0 || c.styles == nil {
		return targets
	}

	seen := make(map[string]bool)
	for _, bundle := range c.styles.FindBundles(files) {
		name := path.Join(path.Dir(bundle), strings.TrimSuffix(path.Base(bundle), ".css"))
		for _, lib := range c.libs.FindLibraries(name) {
			if lib.CSS == "" || seen[lib.CSS] {
				continue
			}
			seen[lib.CSS] = true
			targets = append(targets, lib.CSS)
		}
	}
	return targets
}

// proxiedPrefix is where the server publishes client libraries stored under
// /apps and /libs when they allow proxying.
const proxiedPrefix = "/etc.clientlibs/"

var repoPrefixes = []string{"/apps/", "/libs/"}

// withProxyAliases adds the other public path of every stylesheet, so a
// page linking /etc.clientlibs/x.css matches a library listed as
// /apps/x.css and the other way round.
func withProxyAliases(targets []string) []string {
	out := make([]string, 0, len(targets)*2)
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, t := range targets {
		add(t)
		if rest, ok := strings.CutPrefix(t, proxiedPrefix); ok {
			for _, prefix := range repoPrefixes {
				add(prefix + rest)
			}
			continue
		}
		for _, prefix := range repoPrefixes {
			if rest, ok := strings.CutPrefix(t, prefix); ok {
				add(proxiedPrefix + rest)
				break
			}
		}
	}
	return out
}

func (c *Coordinator) repoPaths(files []string) []string {
	var out []string
	for _, f := range files {
		if p, ok := c.resolver.RepoPath(f); ok {
			out = append(out, p)
		}
	}
	return out
}
