package styletree

import (
	"path"
	"regexp"
	"strings"
)

var (
	manifestPattern = regexp.MustCompile(`(?i)((css|js)\.txt|(\.content\.xml))$`)
	manifestLines   = regexp.MustCompile(`[^\r\n]+`)
	baseDirective   = regexp.MustCompile(`#base=(.*)`)
)

// parseManifest returns the repository paths listed by the css.txt or js.txt
// at manifestPath, in declaration order.
func parseManifest(contents, manifestPath string) []string {
	dir := path.Dir(manifestPath)
	prefix := ""

	var entries []string
	for _, line := range manifestLines.FindAllString(contents, -1) {
		if m := baseDirective.FindStringSubmatch(line); m != nil {
			prefix = strings.TrimSpace(m[1])
			continue
		}

		entry := strings.TrimSpace(line)
		if entry == "" || strings.HasPrefix(entry, "//") {
			continue
		}

		if path.IsAbs(entry) {
			entries = append(entries, path.Clean(entry))
		} else {
			entries = append(entries, path.Join(dir, prefix, entry))
		}
	}
	return entries
}

// classify reports which manifest-related file, if any, repoPath names.
func classify(repoPath string) (isCSS, isJS, isContent bool) {
	m := manifestPattern.FindStringSubmatch(repoPath)
	if m == nil {
		return false, false, false
	}
	if m[3] != "" {
		return false, false, true
	}
	return strings.EqualFold(m[2], "css"), strings.EqualFold(m[2], "js"), false
}

// IsManifest reports whether name is a css.txt or js.txt file.
func IsManifest(name string) bool {
	isCSS, isJS, _ := classify(name)
	return isCSS || isJS
}

// IsStyleManifest reports whether name is a css.txt file.
func IsStyleManifest(name string) bool {
	isCSS, _, _ := classify(name)
	return isCSS
}

// IsScriptManifest reports whether name is a js.txt file.
func IsScriptManifest(name string) bool {
	_, isJS, _ := classify(name)
	return isJS
}

// BundleFor returns the stylesheet bundle produced by a css.txt manifest.
func BundleFor(manifestPath string) string {
	return path.Dir(manifestPath) + ".css"
}
