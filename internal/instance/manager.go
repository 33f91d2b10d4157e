package instance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/fanout"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/push"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/sourceref"
	"github.com/conneroisu/aemfed/internal/styletree"
	"github.com/conneroisu/aemfed/internal/tracer"
)

// Config configures a Manager.
type Config struct {
	Targets      []string
	ProxyPort    int
	Roots        []string
	DumpLibsPath string
	TracerDelay  time.Duration
	TracerTable  *tracer.Table
	// Output receives reports and reload messages. Defaults to stdout.
	Output io.Writer
}

// Manager owns every instance and the style trees they share.
type Manager struct {
	cfg       Config
	instances []*Instance
	byName    map[string]*Instance
	forest    *styletree.Forest
	resolver  *sourceref.Resolver
	client    *http.Client
	console   *console
	logger    logging.Logger

	ctx     context.Context
	started bool
	mu      sync.Mutex
}

// NewManager creates one instance per target. Instance i proxies on
// ProxyPort+i. client may be nil.
func NewManager(cfg Config, client *http.Client, logger logging.Logger) (*Manager, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.NewConfigError("ERR_NO_TARGETS", "at least one target is needed")
	}
	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	if client == nil {
		client = remote.NewClient()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	forest, err := styletree.NewForest(cfg.Roots, logger)
	if err != nil {
		return nil, err
	}

	renderer := lipgloss.NewRenderer(cfg.Output)
	m := &Manager{
		cfg:      cfg,
		byName:   make(map[string]*Instance),
		forest:   forest,
		resolver: sourceref.NewResolver(cfg.Roots),
		client:   client,
		console:  newConsole(cfg.Output, renderer),
		logger:   logger.WithComponent("instance"),
		ctx:      context.Background(),
	}

	for i, target := range cfg.Targets {
		inst, err := newInstance(target, instanceDeps{
			roots:    cfg.Roots,
			port:     cfg.ProxyPort + i,
			dumpLibs: cfg.DumpLibsPath,
			tracer: tracer.Config{
				Delay:  cfg.TracerDelay,
				Table:  cfg.TracerTable,
				Output: cfg.Output,
			},
			forest:   forest,
			client:   client,
			renderer: renderer,
			logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		if _, dup := m.byName[inst.Name]; dup {
			return nil, errors.NewConfigError("ERR_DUPLICATE_TARGET", "target "+inst.Name+" is configured twice")
		}
		m.instances = append(m.instances, inst)
		m.byName[inst.Name] = inst
	}
	return m, nil
}

// Instances returns the instances in target order.
func (m *Manager) Instances() []*Instance {
	return m.instances
}

// Instance returns the instance for a host as reported by push results.
func (m *Manager) Instance(host string) (*Instance, bool) {
	inst, ok := m.byName[host]
	return inst, ok
}

// Forest returns the shared style trees.
func (m *Manager) Forest() *styletree.Forest {
	return m.forest
}

// Init checks every server and loads its client library index
// concurrently. A server that fails is reported and left offline without
// affecting the others. Only a failure to build the style trees is
// returned.
func (m *Manager) Init(ctx context.Context) error {
	perf := logging.StartOperation(m.logger, "initialize instances")

	tasks := make([]fanout.Task, len(m.instances))
	for i, inst := range m.instances {
		inst := inst
		tasks[i] = func(ctx context.Context) error {
			status, err := tracer.CheckServer(ctx, m.client, inst.Server, m.logger)
			inst.Status = status
			if err != nil {
				m.logger.Warn(ctx, err, "cannot check tracer", "server", inst.Name)
			}
			if err := inst.Index.Init(ctx); err != nil {
				return err
			}
			inst.Online = true
			return nil
		}
	}

	for _, r := range fanout.Failed(fanout.Settle(ctx, tasks...)) {
		inst := m.instances[r.Index]
		m.logger.Error(ctx, r.Err, "cannot load client libraries", "server", inst.Name)
		m.console.failure(inst.Name, "Server is not reachable or returned no client libraries: "+r.Err.Error())
	}

	if err := m.forest.Init(ctx); err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx, "instances", len(m.instances))
	return nil
}

// Start starts the proxies one after another. ctx is used for reloads
// until Shutdown.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}
	m.ctx = ctx

	for _, inst := range m.instances {
		if err := inst.Proxy.Router().Start(ctx); err != nil {
			return err
		}
		m.console.info(inst.Name, "Proxy ready at "+inst.URL())
	}
	m.started = true
	return nil
}

// Reload refreshes the browsers of host for changed paths.
func (m *Manager) Reload(host string, paths []string) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	inst, ok := m.Instance(host)
	if !ok {
		m.logger.Warn(ctx, nil, "reload for unknown server", "server", host)
		return
	}

	outcome, err := inst.Coordinator.Reload(ctx, paths)
	if err != nil {
		m.console.failure(inst.Name, "Rebuilding client libraries failed: "+err.Error())
		return
	}
	switch {
	case outcome.Injected:
		m.console.info(inst.Name, "Injected styling: "+strings.Join(outcome.Targets, ", "))
	case outcome.Rebuilt:
		m.console.info(inst.Name, "Reloaded and rebuilt client libraries")
	default:
		m.console.info(inst.Name, fmt.Sprintf("Reloaded after %d changes", len(paths)))
	}
}

// OnPushEnd handles the outcome of a push to host. It matches
// push.PushEndFunc.
func (m *Manager) OnPushEnd(err error, host string, paths []string) {
	if err == nil {
		m.Reload(host, paths)
		return
	}

	m.console.failure(host, "when pushing pack: "+err.Error())
	if source, ok := push.LocalSource(err, m.resolver); ok {
		m.console.source(source)
	}
}

// Shutdown stops every proxy and browser hub and waits for pending trace
// reports.
func (m *Manager) Shutdown(ctx context.Context) error {
	var firstErr error
	for _, inst := range m.instances {
		if err := inst.Proxy.Router().Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := inst.Browser.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		inst.Tracer.Wait()
	}
	return firstErr
}

// console writes the human facing status lines.
type console struct {
	mu     sync.Mutex
	out    io.Writer
	server lipgloss.Style
	failed lipgloss.Style
	file   lipgloss.Style
}

func newConsole(out io.Writer, r *lipgloss.Renderer) *console {
	return &console{
		out:    out,
		server: r.NewStyle().Foreground(lipgloss.Color("4")),
		failed: r.NewStyle().Foreground(lipgloss.Color("1")),
		file:   r.NewStyle().Foreground(lipgloss.Color("4")),
	}
}

func (c *console) write(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.out, line+"\n")
}

func (c *console) info(host, msg string) {
	c.write("[" + c.server.Render(host) + "] " + msg)
}

func (c *console) failure(host, msg string) {
	c.write("[" + c.server.Render(host) + "] [" + c.failed.Render("Error") + "] " + msg)
}

func (c *console) source(s string) {
	c.write("Local source: " + c.file.Render(s))
}
