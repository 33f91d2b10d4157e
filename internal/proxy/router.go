package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is the outermost.
type Chain []Middleware

// Apply wraps handler with every middleware of the chain.
func (c Chain) Apply(handler http.Handler) http.Handler {
	for i := len(c) - 1; i >= 0; i-- {
		handler = c[i](handler)
	}
	return handler
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// LoggingMiddleware logs every request at debug level.
func LoggingMiddleware(logger logging.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.Debug(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start))
		})
	}
}

// Router owns the HTTP server of one proxy.
type Router struct {
	addr       string
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener

	serverMutex sync.RWMutex
	isShutdown  bool
	serveErr    chan error
}

// NewRouter creates a router that serves handler on addr.
func NewRouter(addr string, handler http.Handler) *Router {
	return &Router{
		addr:     addr,
		handler:  handler,
		serveErr: make(chan error, 1),
	}
}

// Start binds the address and serves in the background. It returns once
// the listener is open, so callers can start routers one after another.
func (r *Router) Start(ctx context.Context) error {
	r.serverMutex.Lock()
	defer r.serverMutex.Unlock()

	if r.isShutdown {
		return errors.NewConfigError("ERR_ROUTER_SHUTDOWN", "router has been shut down")
	}
	if r.httpServer != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", r.addr)
	if err != nil {
		return errors.WrapIO(err, "ERR_LISTEN", fmt.Sprintf("cannot listen on %s", r.addr))
	}

	r.listener = ln
	r.httpServer = &http.Server{
		Handler:           r.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	server := r.httpServer
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			r.serveErr <- err
		}
		close(r.serveErr)
	}()
	return nil
}

// Err delivers a serve error, if any, and is closed once the server stops.
func (r *Router) Err() <-chan error {
	return r.serveErr
}

// Shutdown gracefully stops the server. It is safe to call more than once.
func (r *Router) Shutdown(ctx context.Context) error {
	r.serverMutex.Lock()
	defer r.serverMutex.Unlock()

	if r.isShutdown {
		return nil
	}
	r.isShutdown = true

	if r.httpServer == nil {
		return nil
	}
	if err := r.httpServer.Shutdown(ctx); err != nil {
		return errors.WrapIO(err, "ERR_SHUTDOWN", "server shutdown failed")
	}
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (r *Router) Addr() string {
	r.serverMutex.RLock()
	defer r.serverMutex.RUnlock()

	if r.listener != nil {
		return r.listener.Addr().String()
	}
	return r.addr
}
