// Package clientlib keeps an index of the client libraries a server knows
// about, built from its dumplibs page.
package clientlib

import (
	"bytes"
	"context"
	"net/http"
	"regexp"
	"sync"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
)

// DefaultDumpLibsPath is the server page listing all client libraries.
const DefaultDumpLibsPath = "/libs/granite/ui/content/dumplibs.html"

// Library is one client library as reported by the server.
type Library struct {
	Name         string   `json:"name" yaml:"name"`
	JS           string   `json:"js,omitempty" yaml:"js,omitempty"`
	CSS          string   `json:"css,omitempty" yaml:"css,omitempty"`
	Theme        string   `json:"theme,omitempty" yaml:"theme,omitempty"`
	Categories   []string `json:"categories" yaml:"categories"`
	Channels     []string `json:"channels" yaml:"channels"`
	Dependencies []string `json:"dependencies" yaml:"dependencies"`
	Embedded     []string `json:"embedded" yaml:"embedded"`
}

// Embeds reports whether name is listed as embedded in the library.
func (l *Library) Embeds(name string) bool {
	for _, e := range l.Embedded {
		if e == name {
			return true
		}
	}
	return false
}

// Config identifies the server an Index reads from.
type Config struct {
	Name         string
	Server       string
	DumpLibsPath string
}

// snapshot is replaced as a whole on every (re)build.
type snapshot struct {
	libs  map[string]Library
	order []string
}

// Index maps library names to libraries for one server.
type Index struct {
	cfg    Config
	client *http.Client
	logger logging.Logger

	mu   sync.RWMutex
	snap snapshot
}

// NewIndex creates an empty index. Call Init before querying it.
func NewIndex(cfg Config, client *http.Client, logger logging.Logger) *Index {
	if cfg.DumpLibsPath == "" {
		cfg.DumpLibsPath = DefaultDumpLibsPath
	}
	if cfg.Name == "" {
		cfg.Name = remote.Host(cfg.Server)
	}
	if client == nil {
		client = remote.NewClient()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Index{
		cfg:    cfg,
		client: client,
		logger: logger.WithComponent("clientlib").With("server", cfg.Name),
		snap:   snapshot{libs: map[string]Library{}},
	}
}

// Name returns the server name.
func (i *Index) Name() string {
	return i.cfg.Name
}

// Server returns the server base URL.
func (i *Index) Server() string {
	return i.cfg.Server
}

// Init fetches and parses the dumplibs page and replaces the index.
func (i *Index) Init(ctx context.Context) error {
	op := logging.StartOperation(i.logger, "build client library index")

	body, err := remote.Get(ctx, i.client, i.cfg.Server+i.cfg.DumpLibsPath)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	libs, err := parseTable(bytes.NewReader(body), i.logger)
	if err != nil {
		op.EndWithError(ctx, err)
		return err
	}

	next := snapshot{libs: make(map[string]Library, len(libs))}
	for _, lib := range libs {
		if _, dup := next.libs[lib.Name]; !dup {
			next.order = append(next.order, lib.Name)
		}
		next.libs[lib.Name] = lib
	}

	i.mu.Lock()
	i.snap = next
	i.mu.Unlock()

	op.End(ctx, "libraries", len(next.order))
	return nil
}

// Rebuild discards the index and builds it again from the server.
func (i *Index) Rebuild(ctx context.Context) error {
	return i.Init(ctx)
}

// Len returns the number of libraries.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.snap.order)
}

// Libraries returns every library in page order.
func (i *Index) Libraries() []Library {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Library, 0, len(i.snap.order))
	for _, name := range i.snap.order {
		out = append(out, i.snap.libs[name])
	}
	return out
}

// Library returns the library with the given name.
func (i *Index) Library(name string) (Library, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	lib, ok := i.snap.libs[name]
	return lib, ok
}

// FindLibraries returns the libraries named name and the libraries that
// embed it. Embedding is only followed one level deep.
func (i *Index) FindLibraries(name string) []Library {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var out []Library
	for _, key := range i.snap.order {
		lib := i.snap.libs[key]
		if lib.Name == name || lib.Embeds(name) {
			out = append(out, lib)
		}
	}
	return out
}

var proxiedPath = regexp.MustCompile(`^/etc\.clientlibs/(.*)`)

// proxyPrefixes are tried in order for a /etc.clientlibs/ path.
var proxyPrefixes = []string{"/apps/", "/etc/", "/libs/"}

// ResolveProxiedPath maps a library path without extension, possibly served
// through /etc.clientlibs/, to the name of a library in the index.
func (i *Index) ResolveProxiedPath(p string) (string, bool) {
	candidates := []string{p}
	if m := proxiedPath.FindStringSubmatch(p); m != nil {
		candidates = candidates[:0]
		for _, prefix := range proxyPrefixes {
			candidates = append(candidates, prefix+m[1])
		}
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	for _, c := range candidates {
		if _, ok := i.snap.libs[c]; ok {
			return c, true
		}
	}

	i.logger.Debug(context.Background(), "no client library for path", "path", p)
	return "", false
}

// ResolveError wraps a failed ResolveProxiedPath for callers that need an error.
func ResolveError(p string) error {
	return errors.NewResolveError(p, "no client library found for "+p)
}
