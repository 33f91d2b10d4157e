// Package proxy runs the reverse proxy in front of one content server.
//
// Pages served through the proxy get cache-busted client library includes
// and a small client that listens for refresh instructions. Requests and
// responses pass through tracer hooks so server side errors can be reported
// against local files.
package proxy

import (
	"bytes"
	_ "embed"
	"io"
	"mime"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"time"

	"github.com/conneroisu/aemfed/internal/errors"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
)

//go:embed client.js
var clientScript []byte

// Hooks observe proxied traffic.
type Hooks interface {
	DecorateRequest(req *http.Request)
	HandleResponse(resp *http.Response)
}

// Config describes one proxy.
type Config struct {
	Name string
	// Target is the server URL, optionally with credentials.
	Target string
	// Addr is the listen address, for example ":3000".
	Addr string
}

// Proxy forwards browser traffic to one server.
type Proxy struct {
	name   string
	target *url.URL
	hooks  Hooks
	ws     http.Handler
	logger logging.Logger
	now    func() time.Time

	handler http.Handler
	router  *Router
}

// New creates a proxy. hooks and ws may be nil.
func New(cfg Config, hooks Hooks, ws http.Handler, logger logging.Logger) (*Proxy, error) {
	target, err := url.Parse(cfg.Target)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, errors.NewConfigError("ERR_INVALID_TARGET", "invalid target URL "+remote.Redact(cfg.Target))
	}
	if cfg.Name == "" {
		cfg.Name = target.Host
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	p := &Proxy{
		name:   cfg.Name,
		target: target,
		hooks:  hooks,
		ws:     ws,
		logger: logger.WithComponent("proxy").With("server", cfg.Name),
		now:    time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(ClientScriptPath, serveClient)
	if ws != nil {
		mux.Handle(WebSocketPath, ws)
	}
	mux.Handle("/", Chain{LoggingMiddleware(p.logger)}.Apply(p.reverseProxy()))

	p.handler = mux
	p.router = NewRouter(cfg.Addr, mux)
	return p, nil
}

// Name returns the server name.
func (p *Proxy) Name() string {
	return p.name
}

// Handler returns the proxy handler without binding a port.
func (p *Proxy) Handler() http.Handler {
	return p.handler
}

// Router returns the router serving the proxy.
func (p *Proxy) Router() *Router {
	return p.router
}

func (p *Proxy) reverseProxy() *httputil.ReverseProxy {
	base := *p.target
	base.User = nil
	user := p.target.User

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(&base)
			pr.SetXForwarded()
			// Pages must come back uncompressed to be rewritten.
			pr.Out.Header.Del("Accept-Encoding")
			if user != nil && pr.Out.Header.Get("Authorization") == "" {
				password, _ := user.Password()
				pr.Out.SetBasicAuth(user.Username(), password)
			}
			if p.hooks != nil {
				p.hooks.DecorateRequest(pr.Out)
			}
		},
		ModifyResponse: p.modifyResponse,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			p.logger.Warn(r.Context(), err, "proxy request failed", "path", r.URL.Path)
			http.Error(w, "aemfed: "+p.name+" is not reachable", http.StatusBadGateway)
		},
	}
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	if p.hooks != nil {
		p.hooks.HandleResponse(resp)
	}
	p.rewriteLocation(resp)

	if !isHTML(resp) || resp.Header.Get("Content-Encoding") != "" {
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return errors.WrapNetwork(err, "ERR_PROXY_READ", "reading page from "+p.name)
	}

	body = RewriteHTML(body, p.now())
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return nil
}

// rewriteLocation keeps redirects to the server on the proxy.
func (p *Proxy) rewriteLocation(resp *http.Response) {
	location := resp.Header.Get("Location")
	if location == "" {
		return
	}
	u, err := url.Parse(location)
	if err != nil || u.Host != p.target.Host {
		return
	}
	u.Scheme, u.Host, u.User = "", "", nil
	resp.Header.Set("Location", u.String())
}

func isHTML(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/html"
}

func serveClient(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(clientScript)
}
