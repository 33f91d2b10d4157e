// Package reload decides how a browser should be refreshed after a batch of
// local files was pushed to a server.
//
// A batch that only touches styling is answered with an in-place stylesheet
// swap of the affected client libraries. Anything else falls back to a full
// page reload, after the JavaScript line mapping caches have been
// invalidated so that error reports for the new code are accurate.
package reload

import (
	"os"
	"regexp"
)

// Kind is the routing class of a changed path.
type Kind int

const (
	KindOther Kind = iota
	KindStyle
	KindScript
	KindPage
	KindStyleManifest
	KindScriptManifest
	KindSpecial
)

var kindNames = map[Kind]string{
	KindOther:          "other",
	KindStyle:          "style",
	KindScript:         "script",
	KindPage:           "page",
	KindStyleManifest:  "style-manifest",
	KindScriptManifest: "script-manifest",
	KindSpecial:        "special",
}

func (k Kind) String() string {
	return kindNames[k]
}

var (
	stylePattern          = regexp.MustCompile(`\.(css|less|scss)$`)
	scriptPattern         = regexp.MustCompile(`\.js$`)
	pagePattern           = regexp.MustCompile(`\.(html|jsp)$`)
	styleManifestPattern  = regexp.MustCompile(`css\.txt$`)
	scriptManifestPattern = regexp.MustCompile(`js\.txt$`)
)

// Changes is a classified batch of absolute paths.
type Changes struct {
	Styles          []string
	StyleManifests  []string
	Scripts         []string
	ScriptManifests []string
	Special         []string
	Page            bool
	Other           bool
}

// Classify sorts paths by kind. Paths that match no known extension are
// looked up on disk: directories and vanished files are structural changes,
// since the packager turns .content.xml and friends into folders.
func Classify(paths []string) Changes {
	var c Changes
	for _, p := range paths {
		if p == "" {
			continue
		}
		switch KindOf(p) {
		case KindStyle:
			c.Styles = append(c.Styles, p)
		case KindScript:
			c.Scripts = append(c.Scripts, p)
		case KindPage:
			c.Page = true
		case KindStyleManifest:
			c.StyleManifests = append(c.StyleManifests, p)
		case KindScriptManifest:
			c.ScriptManifests = append(c.ScriptManifests, p)
		case KindSpecial:
			c.Special = append(c.Special, p)
		default:
			c.Other = true
		}
	}
	return c
}

// KindOf classifies a single path.
func KindOf(p string) Kind {
	switch {
	case stylePattern.MatchString(p):
		return KindStyle
	case scriptPattern.MatchString(p):
		return KindScript
	case pagePattern.MatchString(p):
		return KindPage
	case styleManifestPattern.MatchString(p):
		return KindStyleManifest
	case scriptManifestPattern.MatchString(p):
		return KindScriptManifest
	}

	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		return KindSpecial
	}
	return KindOther
}

// StyleRelated returns the style sources followed by the style manifests.
func (c Changes) StyleRelated() []string {
	out := make([]string, 0, len(c.Styles)+len(c.StyleManifests))
	out = append(out, c.Styles...)
	return append(out, c.StyleManifests...)
}

// StyleOnly reports whether the stylesheets can be swapped without a
// reload. A css.txt only affects its own library, so it counts as styling.
func (c Changes) StyleOnly() bool {
	css := len(c.Styles) > 0 || len(c.StyleManifests) > 0
	return css && len(c.Scripts) == 0 && !c.Page && !c.Other && len(c.Special) == 0
}

// Structural reports whether the library structure itself may have changed.
func (c Changes) Structural() bool {
	return len(c.Special) > 0
}
