// Package tracer correlates Apache Sling Log Tracer output with local
// source files.
//
// Proxied requests are decorated with headers asking the server to record a
// trace. When the response names a trace id, the trace is fetched after a
// short delay, its log entries are matched against the profile table and a
// report with "Local source:" hints is written to the console.
package tracer

import (
	"context"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/conneroisu/aemfed/internal/jsmap"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/sourceref"
)

// Header names used by the Sling Log Tracer.
const (
	HeaderRecord    = "Sling-Tracer-Record"
	HeaderConfig    = "Sling-Tracer-Config"
	HeaderRequestID = "Sling-Tracer-Request-Id"
)

// DefaultDelay gives the server time to persist a trace before it is fetched.
const DefaultDelay = 100 * time.Millisecond

// Log is one log entry recorded by the tracer.
type Log struct {
	Timestamp int64    `json:"timestamp"`
	Level     string   `json:"level"`
	Logger    string   `json:"logger"`
	Message   string   `json:"message"`
	Params    []string `json:"params,omitempty"`
}

// Query is a repository query recorded by the tracer.
type Query struct {
	Query  string `json:"query"`
	Plan   string `json:"plan"`
	Caller string `json:"caller"`
}

// Trace is the JSON document served for a trace id.
type Trace struct {
	Error               interface{} `json:"error,omitempty"`
	Method              string      `json:"method"`
	Time                int64       `json:"time"`
	Timestamp           int64       `json:"timestamp"`
	RequestProgressLogs []string    `json:"requestProgressLogs"`
	Queries             []Query     `json:"queries"`
	Logs                []Log       `json:"logs"`
	LoggerNames         []string    `json:"loggerNames"`
}

// Failed reports whether the server answered with an error instead of a
// trace.
func (t *Trace) Failed() bool {
	switch v := t.Error.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	default:
		return true
	}
}

// BundleMapper maps a line of a JavaScript library to the file it came from.
type BundleMapper interface {
	ResolveLocation(ctx context.Context, bundle string, line int) (jsmap.Location, bool, error)
}

// Config configures a Tracer for one server.
type Config struct {
	Name   string
	Server string
	Roots  []string
	Delay  time.Duration
	Table  *Table
	Output io.Writer
	// Renderer styles the console report. Defaults to one for Output.
	Renderer *lipgloss.Renderer
}

// Tracer decorates requests to one server and reports on its traces.
type Tracer struct {
	cfg      Config
	table    *Table
	client   *http.Client
	mapper   BundleMapper
	resolver *sourceref.Resolver
	styles   styles
	logger   logging.Logger

	outMu   sync.Mutex
	pending sync.WaitGroup
}

// New creates a tracer. mapper may be nil, in which case JavaScript line
// numbers are reported as they appear in the library.
func New(cfg Config, mapper BundleMapper, client *http.Client, logger logging.Logger) *Tracer {
	if cfg.Table == nil {
		cfg.Table = DefaultTable()
	}
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if cfg.Name == "" {
		cfg.Name = remote.Host(cfg.Server)
	}
	if cfg.Renderer == nil {
		cfg.Renderer = lipgloss.NewRenderer(cfg.Output)
	}
	if client == nil {
		client = remote.NewClient()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Tracer{
		cfg:      cfg,
		table:    cfg.Table,
		client:   client,
		mapper:   mapper,
		resolver: sourceref.NewResolver(cfg.Roots),
		styles:   newStyles(cfg.Renderer),
		logger:   logger.WithComponent("tracer").With("server", cfg.Name),
	}
}

// Table returns the profile table in use.
func (t *Tracer) Table() *Table {
	return t.table
}

// DecorateRequest asks the server to record a trace when the request URL
// matches a rule of the profile table.
func (t *Tracer) DecorateRequest(req *http.Request) {
	value, ok := t.table.HeaderValue(req.URL.RequestURI())
	if !ok {
		return
	}
	req.Header.Set(HeaderRecord, "true")
	req.Header.Set(HeaderConfig, value)
}

// HandleResponse schedules a report when the response carries a trace id.
// The report is produced in the background after the configured delay.
func (t *Tracer) HandleResponse(resp *http.Response) {
	id := resp.Header.Get(HeaderRequestID)
	if id == "" {
		return
	}
	url := ""
	if resp.Request != nil {
		url = resp.Request.URL.RequestURI()
	}

	t.pending.Add(1)
	time.AfterFunc(t.cfg.Delay, func() {
		defer t.pending.Done()
		t.process(context.Background(), url, id)
	})
}

// Wait blocks until every scheduled report has been written.
func (t *Tracer) Wait() {
	t.pending.Wait()
}

func (t *Tracer) process(ctx context.Context, url, id string) {
	trace, err := t.Fetch(ctx, id)
	if err != nil {
		t.logger.Debug(ctx, "trace not available", "id", id, "error", err.Error())
		return
	}
	if trace.Failed() || len(trace.Logs) == 0 {
		return
	}

	lines := t.Report(ctx, url, id, trace)

	t.outMu.Lock()
	defer t.outMu.Unlock()
	for _, line := range lines {
		_, _ = io.WriteString(t.cfg.Output, line+"\n")
	}
}

// Fetch downloads the trace recorded under id.
func (t *Tracer) Fetch(ctx context.Context, id string) (*Trace, error) {
	var trace Trace
	if err := remote.GetJSON(ctx, t.client, t.cfg.Server+"/system/console/tracer/"+id+".json", &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}
