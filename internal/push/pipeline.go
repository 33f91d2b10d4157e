package push

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/aemfed/internal/fanout"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
)

// PushEndFunc is called once per target after every push. paths are the
// local paths that were requested, in order.
type PushEndFunc func(err error, host string, paths []string)

// Config configures a Pipeline.
type Config struct {
	Targets     []string
	Roots       []string
	PackMgrPath string
}

// Metrics counts pushes per target.
type Metrics struct {
	TotalPushes  int64
	FailedPushes int64
	LastDuration time.Duration
}

// Pipeline serializes pushes of changed files to all targets.
type Pipeline struct {
	cfg       Config
	uploader  *Uploader
	logger    logging.Logger
	callbacks []PushEndFunc
	queue     chan []string
	now       func() time.Time

	metrics   Metrics
	metricsMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPipeline creates a pipeline. client may be nil.
func NewPipeline(cfg Config, client *http.Client, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{
		cfg:      cfg,
		uploader: NewUploader(client, cfg.PackMgrPath, logger),
		logger:   logger.WithComponent("push"),
		queue:    make(chan []string, 100),
		now:      time.Now,
	}
}

// AddCallback registers fn to run after every push.
func (p *Pipeline) AddCallback(fn PushEndFunc) {
	p.callbacks = append(p.callbacks, fn)
}

// Start processes queued batches until ctx is done or Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.worker(ctx)
}

// Stop stops the pipeline and waits for the running push to finish.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Enqueue queues paths for the next push.
func (p *Pipeline) Enqueue(paths []string) {
	if len(paths) == 0 {
		return
	}
	select {
	case p.queue <- paths:
	default:
		p.logger.Warn(context.Background(), nil, "push queue full, dropping changes", "changes", len(paths))
	}
}

// GetMetrics returns a snapshot of the push metrics.
func (p *Pipeline) GetMetrics() Metrics {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case paths := <-p.queue:
			p.Push(ctx, p.drain(paths))
		}
	}
}

// drain merges batches queued while the previous push was running.
func (p *Pipeline) drain(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	merged := make([]string, 0, len(paths))
	add := func(batch []string) {
		for _, path := range batch {
			if !seen[path] {
				seen[path] = true
				merged = append(merged, path)
			}
		}
	}

	add(paths)
	for {
		select {
		case more := <-p.queue:
			add(more)
		default:
			return merged
		}
	}
}

// Push builds one package for paths and installs it on every target
// concurrently. A failing target never affects the others. Every callback
// sees each target's outcome.
func (p *Pipeline) Push(ctx context.Context, paths []string) []fanout.Result {
	start := p.now()
	perf := logging.StartOperation(p.logger, "push")

	items := BuildItems(paths, p.cfg.Roots)
	if len(items) == 0 {
		p.logger.Debug(ctx, "nothing to push", "changes", len(paths))
		return nil
	}

	pkg, err := Build(items, start)
	if err != nil {
		perf.EndWithError(ctx, err)
		p.notifyAll(err, paths)
		return nil
	}

	tasks := make([]fanout.Task, len(p.cfg.Targets))
	for i, target := range p.cfg.Targets {
		target := target
		tasks[i] = func(ctx context.Context) error {
			return p.uploader.Upload(ctx, target, pkg)
		}
	}
	results := fanout.Settle(ctx, tasks...)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		p.notify(r.Err, remote.Host(p.cfg.Targets[r.Index]), paths)
	}

	p.metricsMu.Lock()
	p.metrics.TotalPushes += int64(len(results))
	p.metrics.FailedPushes += int64(failed)
	p.metrics.LastDuration = time.Since(start)
	p.metricsMu.Unlock()

	perf.End(ctx, "items", len(items), "targets", len(results), "failed", failed)
	return results
}

func (p *Pipeline) notifyAll(err error, paths []string) {
	for _, target := range p.cfg.Targets {
		p.notify(err, remote.Host(target), paths)
	}
}

func (p *Pipeline) notify(err error, host string, paths []string) {
	for _, fn := range p.callbacks {
		fn(err, host, paths)
	}
}
