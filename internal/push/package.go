// Package push uploads changed files to content servers as content packages.
//
// Every batch of changed paths becomes one zip package with a workspace
// filter covering exactly the changed nodes. Deleted files are covered by
// the filter but absent from the zip, so installing the package removes
// them on the server.
package push

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/conneroisu/aemfed/internal/errors"
)

const (
	jcrRoot       = "jcr_root"
	contentXML    = ".content.xml"
	packageGroup  = "aemfed"
	packageName   = "aemfed-push"
	packageVer    = "0.0.1"
	filterXMLPath = "META-INF/vault/filter.xml"
	propsXMLPath  = "META-INF/vault/properties.xml"
)

// Item is one changed path mapped into the repository.
type Item struct {
	LocalPath string
	// RepoPath is the slash rooted path below jcr_root, as on disk.
	RepoPath string
	// FilterPath is the node path, with namespaced names decoded.
	FilterPath string
	Exists     bool
	IsDir      bool
}

// NewItem maps localPath into the repository. Paths below a jcr_root
// directory are taken relative to it, other paths relative to the content
// root containing them. ok is false when neither applies.
func NewItem(localPath string, roots []string) (item Item, ok bool) {
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return Item{}, false
	}

	repoPath, base, found := splitRepoPath(abs, roots)
	if !found {
		return Item{}, false
	}

	item = Item{LocalPath: abs, RepoPath: repoPath}
	if info, err := os.Stat(abs); err == nil {
		item.Exists = true
		item.IsDir = info.IsDir()
	}

	// A changed .content.xml redefines its node, so the whole directory goes.
	if path.Base(repoPath) == contentXML {
		item.LocalPath = filepath.Dir(abs)
		item.RepoPath = path.Dir(repoPath)
		item.IsDir = true
		if _, err := os.Stat(item.LocalPath); err != nil {
			item.Exists = false
		}
	}
	if item.RepoPath == "/" || item.LocalPath == base {
		return Item{}, false
	}

	item.FilterPath = filterPath(item.RepoPath)
	return item, true
}

// splitRepoPath returns the repository path of abs and the directory it is
// relative to.
func splitRepoPath(abs string, roots []string) (repoPath, base string, ok bool) {
	slashed := filepath.ToSlash(abs)
	if i := strings.LastIndex(slashed, "/"+jcrRoot+"/"); i >= 0 {
		return slashed[i+len(jcrRoot)+1:], filepath.FromSlash(slashed[:i+len(jcrRoot)+1]), true
	}
	for _, root := range roots {
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		return "/" + filepath.ToSlash(rel), root, true
	}
	return "", "", false
}

// filterPath decodes file system names into node names: "_cq_dialog"
// becomes "cq:dialog" and a ".xml" suffix on such a node is dropped.
func filterPath(repoPath string) string {
	segments := strings.Split(repoPath, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, "_") && strings.HasSuffix(s, ".xml") && strings.Count(s, "_") >= 2 {
			s = strings.TrimSuffix(s, ".xml")
		}
		segments[i] = decodeName(s)
	}
	return strings.Join(segments, "/")
}

func decodeName(name string) string {
	if !strings.HasPrefix(name, "_") || strings.HasPrefix(name, "__") {
		return name
	}
	rest := name[1:]
	i := strings.Index(rest, "_")
	if i <= 0 {
		return name
	}
	return rest[:i] + ":" + rest[i+1:]
}

// Package is a content package ready for upload.
type Package struct {
	Items []Item
	Data  []byte
}

// Paths returns the local paths of the items.
func (p *Package) Paths() []string {
	paths := make([]string, len(p.Items))
	for i, item := range p.Items {
		paths[i] = item.LocalPath
	}
	return paths
}

// BuildItems maps paths to items, dropping duplicates, unmapped paths and
// items covered by a changed ancestor directory.
func BuildItems(paths, roots []string) []Item {
	byFilter := make(map[string]Item)
	for _, p := range paths {
		item, ok := NewItem(p, roots)
		if !ok {
			continue
		}
		if _, seen := byFilter[item.FilterPath]; !seen {
			byFilter[item.FilterPath] = item
		}
	}

	keys := make([]string, 0, len(byFilter))
	for k := range byFilter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var items []Item
	for _, k := range keys {
		if covered(k, byFilter) {
			continue
		}
		items = append(items, byFilter[k])
	}
	return items
}

func covered(filter string, items map[string]Item) bool {
	for p := path.Dir(filter); p != "/" && p != "."; p = path.Dir(p) {
		if item, ok := items[p]; ok && item.IsDir {
			return true
		}
	}
	return false
}

// Build zips items into a content package.
func Build(items []Item, now time.Time) (*Package, error) {
	if len(items) == 0 {
		return nil, errors.NewConfigError("ERR_EMPTY_PACKAGE", "no files to push")
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, filterXMLPath, filterXML(items), now); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, propsXMLPath, propertiesXML(now), now); err != nil {
		return nil, err
	}

	written := make(map[string]bool)
	for _, item := range items {
		if err := addAncestors(zw, item, written); err != nil {
			return nil, err
		}
		if !item.Exists {
			continue
		}
		if err := addItem(zw, item, written); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, errors.WrapIO(err, "ERR_PACKAGE", "cannot finish package")
	}
	return &Package{Items: items, Data: buf.Bytes()}, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte, now time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: now})
	if err != nil {
		return errors.WrapIO(err, "ERR_PACKAGE", "cannot add "+name)
	}
	if _, err := w.Write(data); err != nil {
		return errors.WrapIO(err, "ERR_PACKAGE", "cannot add "+name)
	}
	return nil
}

func addFile(zw *zip.Writer, local, name string, written map[string]bool) error {
	if written[name] {
		return nil
	}
	written[name] = true

	f, err := os.Open(local)
	if err != nil {
		return errors.WrapFile(err, "OPEN", local)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.WrapFile(err, "STAT", local)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.WrapFile(err, "ZIP", local)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return errors.WrapFile(err, "ZIP", local)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.WrapFile(err, "ZIP", local)
	}
	return nil
}

func addItem(zw *zip.Writer, item Item, written map[string]bool) error {
	if !item.IsDir {
		return addFile(zw, item.LocalPath, jcrRoot+item.RepoPath, written)
	}
	return filepath.WalkDir(item.LocalPath, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(item.LocalPath, p)
		if err != nil {
			return err
		}
		return addFile(zw, p, jcrRoot+item.RepoPath+"/"+filepath.ToSlash(rel), written)
	})
}

// addAncestors includes the .content.xml of every parent directory so
// missing parents are created with the right node types.
func addAncestors(zw *zip.Writer, item Item, written map[string]bool) error {
	local := filepath.Dir(item.LocalPath)
	for repo := path.Dir(item.RepoPath); repo != "/" && repo != "."; repo = path.Dir(repo) {
		descriptor := filepath.Join(local, contentXML)
		if _, err := os.Stat(descriptor); err == nil {
			if err := addFile(zw, descriptor, jcrRoot+repo+"/"+contentXML, written); err != nil {
				return err
			}
		}
		local = filepath.Dir(local)
	}
	return nil
}

type workspaceFilter struct {
	XMLName xml.Name      `xml:"workspaceFilter"`
	Version string        `xml:"version,attr"`
	Filters []filterEntry `xml:"filter"`
}

type filterEntry struct {
	Root string `xml:"root,attr"`
}

func filterXML(items []Item) []byte {
	wf := workspaceFilter{Version: "1.0"}
	for _, item := range items {
		wf.Filters = append(wf.Filters, filterEntry{Root: item.FilterPath})
	}
	out, _ := xml.MarshalIndent(wf, "", "  ")
	return append([]byte(xml.Header), out...)
}

type properties struct {
	XMLName xml.Name   `xml:"properties"`
	Entries []property `xml:"entry"`
}

type property struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

func propertiesXML(now time.Time) []byte {
	props := properties{Entries: []property{
		{Key: "name", Value: packageName},
		{Key: "group", Value: packageGroup},
		{Key: "version", Value: packageVer},
		{Key: "description", Value: "Changes pushed by aemfed"},
		{Key: "created", Value: now.Format(time.RFC3339)},
		{Key: "createdBy", Value: "aemfed"},
	}}
	out, _ := xml.MarshalIndent(props, "", "  ")
	return append([]byte(xml.Header+`<!DOCTYPE properties SYSTEM "http://java.sun.com/dtd/properties.dtd">`+"\n"), out...)
}
