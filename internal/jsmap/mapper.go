// Package jsmap maps a line of a concatenated JavaScript client library back
// to the individual file and line it came from.
//
// There is no source map to consume. Instead the library is requested with
// debug=true, which makes the server list its files in order, and every file
// is fetched unminified to count its lines. Both results are cached until
// invalidated.
package jsmap

import (
	"context"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/fanout"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

// ProxyResolver maps a library path without extension to the library name
// known to the server.
type ProxyResolver interface {
	ResolveProxiedPath(p string) (string, bool)
}

// Location is a line inside one file of a library.
type Location struct {
	Path string
	Line int
}

var (
	bundlePattern = regexp.MustCompile(`^(/.*?)(\.min)?(\.[0-9a-f]{32})?(\.js)(\?.*?)?$`)
	loaderBlock   = regexp.MustCompile(`Loader\.js *= *\[([\s\S]*?)\];`)
	loaderEntry   = regexp.MustCompile(`"(.*?)"`)
	lineBreaks    = regexp.MustCompile(`\r\n?|[\n\x{0085}\x{2028}\x{2029}]`)
)

// Mapper resolves bundle lines for one server.
type Mapper struct {
	server string
	index  ProxyResolver
	client *http.Client
	logger logging.Logger

	bundles *Cache[[]string]
	files   *Cache[int]
	group   singleflight.Group
}

// NewMapper creates a mapper for server.
func NewMapper(server string, index ProxyResolver, client *http.Client, logger logging.Logger) *Mapper {
	if client == nil {
		client = remote.NewClient()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Mapper{
		server:  server,
		index:   index,
		client:  client,
		logger:  logger.WithComponent("jsmap").With("server", remote.Host(server)),
		bundles: NewCache[[]string](),
		files:   NewCache[int](),
	}
}

// ResolveLocation maps line of bundle to a file and a line relative to that
// file. It reports false when the line lies outside the bundle.
func (m *Mapper) ResolveLocation(ctx context.Context, bundle string, line int) (Location, bool, error) {
	canonical, err := m.CanonicalBundlePath(bundle)
	if err != nil {
		m.logger.Warn(ctx, err, "cannot map bundle", "bundle", bundle)
		return Location{}, false, err
	}

	files, err := m.bundleFiles(ctx, canonical)
	if err != nil {
		m.logger.Error(ctx, err, "cannot load bundle file list", "bundle", canonical)
		return Location{}, false, err
	}

	m.loadLineCounts(ctx, files)

	counts := make([]int, 0, len(files))
	known := make([]string, 0, len(files))
	for _, f := range files {
		n, ok := m.files.Get(f)
		if !ok {
			m.logger.Error(ctx, nil, "file not found when mapping", "bundle", canonical, "file", f)
			continue
		}
		known = append(known, f)
		counts = append(counts, n)
	}

	loc, ok := Locate(known, counts, line)
	return loc, ok, nil
}

// Locate finds the file containing the 1-based line of a concatenation of
// files with the given line counts.
func Locate(files []string, counts []int, line int) (Location, bool) {
	offset := 0
	for i, f := range files {
		end := offset + counts[i]
		if line > offset && line <= end {
			return Location{Path: f, Line: line - offset}, true
		}
		offset = end
	}
	return Location{}, false
}

// CanonicalBundlePath strips .min and content hash suffixes and the query
// from a library URL and resolves /etc.clientlibs/ to the library path.
func (m *Mapper) CanonicalBundlePath(bundle string) (string, error) {
	match := bundlePattern.FindStringSubmatch(bundle)
	if match == nil {
		return "", errors.NewResolveError(bundle, "not a javascript library path: "+bundle)
	}
	base, ext := match[1], match[4]

	if m.index == nil {
		return base + ext, nil
	}
	target, ok := m.index.ResolveProxiedPath(base)
	if !ok {
		return "", errors.NewResolveError(bundle, "no client library found for "+base)
	}
	return target + ext, nil
}

// ResetFiles drops the cached line counts of the given repository paths.
func (m *Mapper) ResetFiles(paths ...string) {
	m.files.Invalidate(paths...)
}

// ResetAllFiles drops every cached line count.
func (m *Mapper) ResetAllFiles() {
	m.files.InvalidateAll()
}

// ResetLibs drops every cached bundle file list.
func (m *Mapper) ResetLibs() {
	m.bundles.InvalidateAll()
}

func (m *Mapper) bundleFiles(ctx context.Context, canonical string) ([]string, error) {
	if files, ok := m.bundles.Get(canonical); ok {
		return files, nil
	}

	v, err, _ := m.group.Do("bundle:"+sourceref.NormalizePath(canonical), func() (interface{}, error) {
		if files, ok := m.bundles.Get(canonical); ok {
			return files, nil
		}
		body, err := remote.Get(ctx, m.client, m.server+debugURL(canonical))
		if err != nil {
			return nil, err
		}
		files := ParseLoader(string(body))
		m.bundles.Set(canonical, files)
		m.logger.Debug(ctx, "bundle file list loaded", "bundle", canonical, "files", len(files))
		return files, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (m *Mapper) loadLineCounts(ctx context.Context, files []string) {
	var tasks []fanout.Task
	for _, f := range files {
		if _, ok := m.files.Get(f); ok {
			continue
		}
		f := f
		tasks = append(tasks, func(ctx context.Context) error {
			m.lineCount(ctx, f)
			return nil
		})
	}
	_ = fanout.All(ctx, tasks...)
}

func (m *Mapper) lineCount(ctx context.Context, file string) int {
	v, _, _ := m.group.Do("file:"+sourceref.NormalizePath(file), func() (interface{}, error) {
		if n, ok := m.files.Get(file); ok {
			return n, nil
		}
		n := 0
		body, err := remote.Get(ctx, m.client, m.server+debugURL(file))
		if err != nil {
			m.logger.Warn(ctx, err, "cannot fetch file, counting 0 lines", "file", file)
		} else {
			n = CountLines(string(body))
		}
		m.files.Set(file, n)
		return n, nil
	})
	return v.(int)
}

// ParseLoader extracts the file list from the body of a library requested
// with debug=true.
func ParseLoader(body string) []string {
	block := loaderBlock.FindStringSubmatch(body)
	if block == nil {
		return nil
	}
	var files []string
	for _, entry := range loaderEntry.FindAllStringSubmatch(block[1], -1) {
		files = append(files, entry[1])
	}
	return files
}

// CountLines returns the number of line-break separated segments of s.
// CRLF, CR, LF, NEL and the Unicode line and paragraph separators all end a
// line, so an empty string has one line.
func CountLines(s string) int {
	return len(lineBreaks.FindAllStringIndex(s, -1)) + 1
}

func debugURL(p string) string {
	if strings.Contains(p, "?") {
		return p + "&debug=true"
	}
	return p + "?debug=true"
}
