package tracer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/text/cases"

	"github.com/conneroisu/aemfed/internal/fanout"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

var (
	scriptError     = regexp.MustCompile(`\d+ LOG SCRIPT ERROR: (.*)`)
	emptyScriptEval = regexp.MustCompile(`ScriptEvaluationException:$`)
	scriptErrorRef  = regexp.MustCompile(`(?P<jcrPath>[^:[\]*'"|\s]+) at line number (?P<line>\d+) at column number (?P<column>\d+)`)

	fold = cases.Fold()
)

// Refiner updates a complete reference in place once all entries are read.
type Refiner func(ctx context.Context, t *Tracer, ref *sourceref.Ref) error

var refiners = map[string]Refiner{
	RefineJSBundle: refineJSBundle,
}

// refineJSBundle replaces a library path and line with the file and line
// inside the library.
func refineJSBundle(ctx context.Context, t *Tracer, ref *sourceref.Ref) error {
	if t.mapper == nil || ref.RepoPath == "" || !ref.HasLine() {
		return nil
	}
	loc, ok, err := t.mapper.ResolveLocation(ctx, ref.RepoPath, ref.Line)
	if err != nil || !ok {
		return err
	}
	t.resolver.Relocate(ref, loc.Path, loc.Line)
	return nil
}

type styles struct {
	levels map[string]lipgloss.Style
	plain  lipgloss.Style
	server lipgloss.Style
	url    lipgloss.Style
	class  lipgloss.Style
	source lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		levels: map[string]lipgloss.Style{
			"error": r.NewStyle().Foreground(lipgloss.Color("1")),
			"warn":  r.NewStyle().Foreground(lipgloss.Color("3")),
			"info":  r.NewStyle().Foreground(lipgloss.Color("7")),
			"debug": r.NewStyle(),
			"trace": r.NewStyle().Foreground(lipgloss.Color("8")),
		},
		plain:  r.NewStyle(),
		server: r.NewStyle().Foreground(lipgloss.Color("4")),
		url:    r.NewStyle().Foreground(lipgloss.Color("3")),
		class:  r.NewStyle().Foreground(lipgloss.Color("6")),
		source: r.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

// level colors a log level. The label is printed as the server sent it, the
// color is picked case-insensitively.
func (s styles) level(level string) string {
	style, ok := s.levels[fold.String(level)]
	if !ok {
		style = s.plain
	}
	return style.Render(level)
}

type reportEntry struct {
	profile *Profile
	ref     *sourceref.Ref
}

// reconciler pairs line-only references with path-only references that
// arrive in separate log entries, as the YUI processor and the library
// manager do for the same error.
type reconciler struct {
	resolver  *sourceref.Resolver
	complete  []reportEntry
	onlyLines []reportEntry
	onlyPaths []reportEntry
}

func (r *reconciler) add(e reportEntry) {
	hasPath, hasLine := e.ref.HasPath(), e.ref.HasLine()
	switch {
	case hasPath && hasLine:
		r.complete = append(r.complete, e)
	case hasLine:
		if len(r.onlyPaths) > 0 {
			r.flush()
		}
		r.onlyLines = append(r.onlyLines, e)
	case hasPath:
		r.onlyPaths = append(r.onlyPaths, e)
	}
}

// flush attaches the first distinct path to every pending line-only entry,
// except a trailing 1:0 summary entry, and keeps the other paths as they are.
func (r *reconciler) flush() {
	var unique []reportEntry
	seen := make(map[string]bool)
	for _, e := range r.onlyPaths {
		if e.ref.RepoPath == "" || seen[e.ref.RepoPath] {
			continue
		}
		seen[e.ref.RepoPath] = true
		unique = append(unique, e)
	}

	for i, pathEntry := range unique {
		if i > 0 || len(r.onlyLines) == 0 {
			r.complete = append(r.complete, pathEntry)
			continue
		}
		for j, lineEntry := range r.onlyLines {
			ref := lineEntry.ref
			last := j == len(r.onlyLines)-1
			if last && ref.Line == 1 && ref.HasColumn && ref.Column == 0 {
				continue
			}
			ref.RepoPath = pathEntry.ref.RepoPath
			r.resolver.Resolve(ref)
			r.complete = append(r.complete, lineEntry)
		}
	}

	r.onlyLines = r.onlyLines[:0]
	r.onlyPaths = r.onlyPaths[:0]
}

// Report renders the trace: a header, one line per log entry, the script
// errors of the request progress log and the distinct local source hints.
func (t *Tracer) Report(ctx context.Context, url, id string, trace *Trace) []string {
	if url == "" {
		url = "[url missing]"
	}
	report := []string{fmt.Sprintf("[%s] Tracer output for [%s] (%s)",
		t.styles.server.Render(t.cfg.Name), t.styles.url.Render(url), id)}

	rec := &reconciler{resolver: t.resolver}

	for _, entry := range trace.Logs {
		className := entry.Logger[strings.LastIndex(entry.Logger, ".")+1:]
		message := entry.Message

		if profile, ok := t.table.Lookup(entry.Logger); ok {
			if profile.HasReferenceExtractor() {
				if ref := profile.Extract(entry.Message, t.resolver); ref != nil {
					rec.add(reportEntry{profile: profile, ref: ref})
				}
			}
			if profile.HasPostProcessor() {
				if processed := profile.PostProcess(entry.Message); processed != "" {
					message = processed
				}
			}
		}

		report = append(report, fmt.Sprintf("[%s] %s: %s",
			t.styles.level(entry.Level), t.styles.class.Render(className), message))
	}
	if len(rec.onlyPaths) > 0 {
		rec.flush()
	}

	for _, line := range trace.RequestProgressLogs {
		m := scriptError.FindStringSubmatch(line)
		if m == nil || emptyScriptEval.MatchString(m[1]) {
			continue
		}
		if ref := t.resolver.Extract(line, scriptErrorRef); ref != nil {
			rec.complete = append(rec.complete, reportEntry{ref: ref})
		}
		report = append(report, fmt.Sprintf("[%s] %s: %s",
			t.styles.level("ERROR"), t.styles.class.Render("Sling Request Progress Tracker"), m[1]))
	}

	t.refine(ctx, rec.complete)

	seen := make(map[string]bool)
	for _, e := range rec.complete {
		location, ok := sourceref.Format(e.ref)
		if !ok {
			continue
		}
		line := "Local source: " + t.styles.source.Render(location)
		if seen[line] {
			continue
		}
		seen[line] = true
		report = append(report, line)
	}
	return report
}

func (t *Tracer) refine(ctx context.Context, entries []reportEntry) {
	var tasks []fanout.Task
	for _, e := range entries {
		if e.profile == nil || !e.profile.HasRefinementStep() {
			continue
		}
		refine := refiners[e.profile.Refine]
		ref := e.ref
		tasks = append(tasks, func(ctx context.Context) error {
			return refine(ctx, t, ref)
		})
	}

	for _, r := range fanout.Failed(fanout.Settle(ctx, tasks...)) {
		t.logger.Debug(ctx, "reference not refined", "error", r.Err.Error())
	}
}
