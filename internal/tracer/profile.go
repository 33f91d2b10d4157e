package tracer

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

//go:embed profiles.yaml
var defaultProfiles []byte

// RefineJSBundle names the refinement that maps a line of a concatenated
// JavaScript library back to the file it came from.
const RefineJSBundle = "js-bundle"

var caretLine = regexp.MustCompile(`(?m)^( *\^)$`)

// Profile binds a logger to the tracer settings requested for it and to the
// way its messages are turned into source references.
type Profile struct {
	Name                string   `yaml:"name"`
	Logger              string   `yaml:"logger"`
	Level               string   `yaml:"level,omitempty"`
	Caller              string   `yaml:"caller,omitempty"`
	CallerExcludeFilter []string `yaml:"caller_exclude_filter,omitempty"`
	Pattern             string   `yaml:"pattern,omitempty"`
	Strip               string   `yaml:"strip,omitempty"`
	CaretColumn         bool     `yaml:"caret_column,omitempty"`
	Refine              string   `yaml:"refine,omitempty"`

	pattern *regexp.Regexp
	strip   *regexp.Regexp
}

// HasReferenceExtractor reports whether messages can yield a source reference.
func (p *Profile) HasReferenceExtractor() bool {
	return p.pattern != nil
}

// HasPostProcessor reports whether messages are cleaned up before display.
func (p *Profile) HasPostProcessor() bool {
	return p.strip != nil
}

// HasRefinementStep reports whether extracted references are refined after
// all log entries have been read.
func (p *Profile) HasRefinementStep() bool {
	return p.Refine != ""
}

// Directive renders the profile for the Sling-Tracer-Config header:
// logger[;level=X][;caller=N][;caller-exclude-filter="a|b"].
func (p *Profile) Directive() string {
	fragments := []string{p.Logger}
	if p.Level != "" {
		fragments = append(fragments, "level="+p.Level)
	}
	if p.Caller != "" {
		fragments = append(fragments, "caller="+p.Caller)
	}
	if len(p.CallerExcludeFilter) > 0 {
		fragments = append(fragments, fmt.Sprintf("caller-exclude-filter=%q", strings.Join(p.CallerExcludeFilter, "|")))
	}
	return strings.Join(fragments, ";")
}

// Extract returns the source reference found in message, or nil.
func (p *Profile) Extract(message string, resolver *sourceref.Resolver) *sourceref.Ref {
	if p.pattern == nil {
		return nil
	}
	ref := resolver.Extract(message, p.pattern)
	if ref == nil {
		return nil
	}
	if p.CaretColumn {
		// Only reliable when the caret is indented with spaces.
		if m := caretLine.FindStringSubmatch(message); m != nil {
			ref.SetColumn(len(m[1]))
		}
	}
	return ref
}

// PostProcess cleans up message for display.
func (p *Profile) PostProcess(message string) string {
	if p.strip == nil {
		return message
	}
	return p.strip.ReplaceAllString(message, "")
}

func (p *Profile) compile() error {
	if p.Logger == "" {
		return errors.NewParseError("ERR_TRACER_PROFILE", "profile "+p.Name+" has no logger")
	}
	if p.Pattern != "" {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeParse, "ERR_TRACER_PROFILE", "invalid pattern for profile "+p.Name)
		}
		p.pattern = re
	}
	if p.Strip != "" {
		re, err := regexp.Compile(p.Strip)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeParse, "ERR_TRACER_PROFILE", "invalid strip pattern for profile "+p.Name)
		}
		p.strip = re
	}
	if p.Refine != "" {
		if _, ok := refiners[p.Refine]; !ok {
			return errors.NewParseError("ERR_TRACER_PROFILE", "unknown refinement "+p.Refine+" for profile "+p.Name)
		}
	}
	return nil
}

// Rule activates profiles for request URLs matching Pattern.
type Rule struct {
	Pattern  string   `yaml:"pattern"`
	Profiles []string `yaml:"profiles"`

	re       *regexp.Regexp
	profiles []*Profile
}

// Table is a versioned set of profiles and the rules selecting them.
type Table struct {
	Version  int        `yaml:"version"`
	Profiles []*Profile `yaml:"profiles"`
	Rules    []*Rule    `yaml:"rules"`

	byLogger map[string]*Profile
}

// DefaultTable returns the built-in profile table.
func DefaultTable() *Table {
	t, err := ParseTable(defaultProfiles)
	if err != nil {
		panic("tracer: invalid built-in profiles: " + err.Error())
	}
	return t
}

// LoadTable reads a profile table from a YAML file.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFile(err, "READ", path)
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ParseTable decodes and validates a YAML profile table.
func ParseTable(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeParse, "ERR_TRACER_TABLE", "invalid tracer profile table")
	}

	byName := make(map[string]*Profile, len(t.Profiles))
	t.byLogger = make(map[string]*Profile, len(t.Profiles))
	for _, p := range t.Profiles {
		if err := p.compile(); err != nil {
			return nil, err
		}
		if p.Name == "" {
			p.Name = p.Logger
		}
		byName[p.Name] = p
		t.byLogger[p.Logger] = p
	}

	for _, r := range t.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeParse, "ERR_TRACER_TABLE", "invalid rule pattern "+r.Pattern)
		}
		r.re = re
		for _, name := range r.Profiles {
			p, ok := byName[name]
			if !ok {
				return nil, errors.NewParseError("ERR_TRACER_TABLE", "rule "+r.Pattern+" references unknown profile "+name)
			}
			r.profiles = append(r.profiles, p)
		}
	}
	return &t, nil
}

// Lookup returns the profile for an exact logger name.
func (t *Table) Lookup(logger string) (*Profile, bool) {
	p, ok := t.byLogger[logger]
	return p, ok
}

// ProfilesFor returns the profiles of every rule matching url, without
// duplicates, in rule order.
func (t *Table) ProfilesFor(url string) []*Profile {
	var out []*Profile
	seen := make(map[*Profile]bool)
	for _, r := range t.Rules {
		if !r.re.MatchString(url) {
			continue
		}
		for _, p := range r.profiles {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// HeaderValue returns the Sling-Tracer-Config value for url. It reports
// false when no rule matches.
func (t *Table) HeaderValue(url string) (string, bool) {
	profiles := t.ProfilesFor(url)
	if len(profiles) == 0 {
		return "", false
	}
	directives := make([]string, len(profiles))
	for i, p := range profiles {
		directives[i] = p.Directive()
	}
	return strings.Join(directives, ","), true
}
