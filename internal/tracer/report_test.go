package tracer

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/aemfed/internal/jsmap"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

const (
	yuiLogger     = "com.adobe.granite.ui.clientlibs.impl.YUIScriptProcessor"
	htmlLibLogger = "com.adobe.granite.ui.clientlibs.impl.HtmlLibraryManagerImpl"
	lessLogger    = "com.adobe.granite.ui.clientlibs.compiler.less.impl.LessCompilerImpl"
)

// splitMapper treats every library as a.js with 10 lines followed by b.js.
type splitMapper struct{}

func (splitMapper) ResolveLocation(_ context.Context, bundle string, line int) (jsmap.Location, bool, error) {
	if line > 10 {
		return jsmap.Location{Path: "/apps/site/js/b.js", Line: line - 10}, true, nil
	}
	return jsmap.Location{Path: "/apps/site/js/a.js", Line: line}, true, nil
}

func contentRoot(t *testing.T, files ...string) string {
	root := t.TempDir()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}
	return root
}

func newTestTracer(root string, mapper BundleMapper) *Tracer {
	return New(Config{
		Name:     "localhost:4502",
		Server:   "http://localhost:4502",
		Roots:    []string{root},
		Output:   io.Discard,
		Renderer: lipgloss.NewRenderer(io.Discard),
	}, mapper, nil, nil)
}

func localSources(report []string) []string {
	var out []string
	for _, line := range report {
		if strings.HasPrefix(line, "Local source: ") {
			out = append(out, strings.TrimPrefix(line, "Local source: "))
		}
	}
	return out
}

func TestReportReconcilesLineAndPathEntries(t *testing.T) {
	root := contentRoot(t, "/apps/site/js/a.js", "/apps/site/js/b.js")
	tr := newTestTracer(root, splitMapper{})

	trace := &Trace{Logs: []Log{
		{Level: "ERROR", Logger: yuiLogger, Message: "\n[ERROR] 12:5:missing ; before statement"},
		{Level: "ERROR", Logger: yuiLogger, Message: "\n[ERROR] 1:0:Compilation produced 1 syntax errors."},
		{Level: "ERROR", Logger: htmlLibLogger, Message: "Error during assembly of /apps/site/clientlibs.js"},
	}}

	report := tr.Report(context.Background(), "/content/site.html", "abc", trace)

	require.Len(t, report, 5)
	assert.Equal(t, "[localhost:4502] Tracer output for [/content/site.html] (abc)", report[0])
	assert.Equal(t, "[ERROR] YUIScriptProcessor: 12:5:missing ; before statement", report[1])
	assert.Equal(t, "[ERROR] HtmlLibraryManagerImpl: Error during assembly of /apps/site/clientlibs.js", report[3])
	assert.Equal(t, []string{filepath.Join(root, "apps", "site", "js", "b.js") + ":2:5"}, localSources(report))
}

func TestReconcilerFlushRules(t *testing.T) {
	resolver := &sourceref.Resolver{}
	lineOnly := func(line, column int) reportEntry {
		ref := &sourceref.Ref{Line: line}
		ref.SetColumn(column)
		return reportEntry{ref: ref}
	}
	pathOnly := func(p string) reportEntry {
		return reportEntry{ref: &sourceref.Ref{RepoPath: p}}
	}

	t.Run("trailing summary dropped", func(t *testing.T) {
		rec := &reconciler{resolver: resolver}
		rec.add(lineOnly(7, 2))
		rec.add(lineOnly(1, 0))
		rec.add(pathOnly("/p.js"))
		rec.flush()

		require.Len(t, rec.complete, 1)
		assert.Equal(t, "/p.js", rec.complete[0].ref.RepoPath)
		assert.Equal(t, 7, rec.complete[0].ref.Line)
	})

	t.Run("paths without lines are kept", func(t *testing.T) {
		rec := &reconciler{resolver: resolver}
		rec.add(pathOnly("/a.js"))
		rec.add(pathOnly("/a.js"))
		rec.add(pathOnly("/b.js"))
		rec.flush()

		require.Len(t, rec.complete, 2)
		assert.Equal(t, "/a.js", rec.complete[0].ref.RepoPath)
		assert.Equal(t, "/b.js", rec.complete[1].ref.RepoPath)
	})

	t.Run("first path takes the lines, the rest stand alone", func(t *testing.T) {
		rec := &reconciler{resolver: resolver}
		rec.add(lineOnly(3, 1))
		rec.add(pathOnly("/a.js"))
		rec.add(pathOnly("/b.js"))
		rec.flush()

		require.Len(t, rec.complete, 2)
		assert.Equal(t, "/a.js", rec.complete[0].ref.RepoPath)
		assert.Equal(t, 3, rec.complete[0].ref.Line)
		assert.Equal(t, "/b.js", rec.complete[1].ref.RepoPath)
		assert.False(t, rec.complete[1].ref.HasLine())
	})

	t.Run("a line after pending paths starts a new group", func(t *testing.T) {
		rec := &reconciler{resolver: resolver}
		rec.add(lineOnly(3, 1))
		rec.add(pathOnly("/a.js"))
		rec.add(lineOnly(9, 4))
		rec.add(pathOnly("/b.js"))
		rec.flush()

		require.Len(t, rec.complete, 2)
		assert.Equal(t, "/a.js", rec.complete[0].ref.RepoPath)
		assert.Equal(t, 3, rec.complete[0].ref.Line)
		assert.Equal(t, "/b.js", rec.complete[1].ref.RepoPath)
		assert.Equal(t, 9, rec.complete[1].ref.Line)
	})

	t.Run("complete references pass through", func(t *testing.T) {
		rec := &reconciler{resolver: resolver}
		rec.add(reportEntry{ref: &sourceref.Ref{RepoPath: "/x.less", Line: 2}})
		assert.Len(t, rec.complete, 1)
		assert.Empty(t, rec.onlyLines)
	})
}

func TestReportLessErrorAndDeduplication(t *testing.T) {
	root := contentRoot(t, "/apps/site/main.less")
	tr := newTestTracer(root, nil)

	msg := "NameError: variable @c is undefined in /apps/site/main.less on line 4, column 7:"
	trace := &Trace{Logs: []Log{
		{Level: "ERROR", Logger: lessLogger, Message: msg},
		{Level: "ERROR", Logger: lessLogger, Message: msg},
		{Level: "INFO", Logger: "org.example.Other", Message: "unrelated"},
	}}

	report := tr.Report(context.Background(), "", "id1", trace)

	assert.Equal(t, "[localhost:4502] Tracer output for [[url missing]] (id1)", report[0])
	assert.Equal(t, "[INFO] Other: unrelated", report[3])
	assert.Equal(t, []string{filepath.Join(root, "apps", "site", "main.less") + ":4:7"}, localSources(report))
}

func TestReportRequestProgressErrors(t *testing.T) {
	root := contentRoot(t, "/apps/site/components/page/body.html")
	tr := newTestTracer(root, nil)

	trace := &Trace{
		Logs: []Log{{Level: "WARN", Logger: "org.example.Any", Message: "w"}},
		RequestProgressLogs: []string{
			"0 TIMER_START{Request Processing}",
			"12 LOG SCRIPT ERROR: org.apache.sling.scripting.sightly.SightlyException: Compilation errors in /apps/site/components/page/body.html at line number 6 at column number 3",
			"13 LOG SCRIPT ERROR: org.apache.sling.api.scripting.ScriptEvaluationException:",
		},
	}

	report := tr.Report(context.Background(), "/content/a.html", "id2", trace)

	var progress []string
	for _, line := range report {
		if strings.Contains(line, "Sling Request Progress Tracker") {
			progress = append(progress, line)
		}
	}
	require.Len(t, progress, 1)
	assert.True(t, strings.HasPrefix(progress[0], "[ERROR] Sling Request Progress Tracker: org.apache.sling.scripting.sightly.SightlyException"))
	assert.Equal(t,
		[]string{filepath.Join(root, "apps", "site", "components", "page", "body.html") + ":6:3"},
		localSources(report))
}

func TestTraceFailed(t *testing.T) {
	assert.False(t, (&Trace{}).Failed())
	assert.False(t, (&Trace{Error: false}).Failed())
	assert.False(t, (&Trace{Error: ""}).Failed())
	assert.True(t, (&Trace{Error: "No trace found"}).Failed())
	assert.True(t, (&Trace{Error: map[string]interface{}{"msg": "x"}}).Failed())
}

func TestLevelKeepsServerSpelling(t *testing.T) {
	s := newStyles(lipgloss.NewRenderer(io.Discard))

	for _, level := range []string{"ERROR", "Warn", "info", "NOTICE"} {
		assert.Equal(t, level, s.level(level))
	}

	_, ok := s.levels[fold.String("Warn")]
	assert.True(t, ok)
	_, ok = s.levels[fold.String("ERROR")]
	assert.True(t, ok)
	_, ok = s.levels[fold.String("NOTICE")]
	assert.False(t, ok)
}
