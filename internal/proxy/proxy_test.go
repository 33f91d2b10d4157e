package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewriteHTML(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	page := `<html><head>
<link rel="stylesheet" href="/etc.clientlibs/site/main.min.0123456789abcdef0123456789abcdef.css" type="text/css">
<link rel="stylesheet" href="/etc.clientlibs/site/plain.css" type="text/css">
<link rel="icon" href="/favicon.css">
</head><body>
<script type="text/javascript" src="/etc.clientlibs/site/main.min.js"></script>
<p>inline </body> mention</p>
</BODY></html>`

	out := string(RewriteHTML([]byte(page), now))

	assert.Contains(t, out, `<link rel="stylesheet" href="/etc.clientlibs/site/main.css?aemfed=1700000000000" type="text/css">`)
	assert.Contains(t, out, `<link rel="stylesheet" href="/etc.clientlibs/site/plain.css?aemfed=1700000000000" type="text/css">`)
	assert.Contains(t, out, `<link rel="icon" href="/favicon.css">`)
	assert.Contains(t, out, `<script type="text/javascript" src="/etc.clientlibs/site/main.min.js?aemfed=1700000000000"></script>`)
	assert.Equal(t, 1, strings.Count(out, ClientScriptPath))
	assert.True(t, strings.HasSuffix(out, `<script async src="/__aemfed/client.js"></script></BODY></html>`))
}

func TestRewriteHTMLWithoutBody(t *testing.T) {
	out := RewriteHTML([]byte("<div>fragment</div>"), time.Now())
	assert.Equal(t, "<div>fragment</div>", string(out))
}

type recordingHooks struct {
	mu        sync.Mutex
	requests  []string
	responses []string
}

func (h *recordingHooks) DecorateRequest(req *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requests = append(h.requests, req.URL.RequestURI())
	req.Header.Set("X-Decorated", "yes")
}

func (h *recordingHooks) HandleResponse(resp *http.Response) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responses = append(h.responses, resp.Header.Get("X-Trace"))
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ := r.BasicAuth()
		w.Header().Set("X-Trace", r.Header.Get("X-Decorated")+":"+user+":"+pass)

		switch r.URL.Path {
		case "/content/page.html":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, `<html><body><link rel="stylesheet" href="/a.css"></body></html>`)
		case "/redirect":
			http.Redirect(w, r, "http://"+r.Host+"/content/page.html?x=1", http.StatusFound)
		default:
			w.Header().Set("Content-Type", "text/css")
			io.WriteString(w, "body{}")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProxyForwardsAndRewrites(t *testing.T) {
	backend := newBackend(t)
	hooks := &recordingHooks{}

	target := strings.Replace(backend.URL, "http://", "http://admin:secret@", 1)
	p, err := New(Config{Target: target}, hooks, nil, nil)
	require.NoError(t, err)
	p.now = func() time.Time { return time.UnixMilli(42) }

	front := httptest.NewServer(p.Handler())
	defer front.Close()

	resp, err := http.Get(front.URL + "/content/page.html")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t,
		`<html><body><link rel="stylesheet" href="/a.css?aemfed=42"><script async src="/__aemfed/client.js"></script></body></html>`,
		string(body))
	assert.Equal(t, int64(len(body)), resp.ContentLength)
	assert.Equal(t, "yes:admin:secret", resp.Header.Get("X-Trace"))

	resp, err = http.Get(front.URL + "/etc.clientlibs/a.css")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "body{}", string(body))

	hooks.mu.Lock()
	defer hooks.mu.Unlock()
	assert.Equal(t, []string{"/content/page.html", "/etc.clientlibs/a.css"}, hooks.requests)
	assert.Len(t, hooks.responses, 2)
}

func TestProxyRewritesRedirects(t *testing.T) {
	backend := newBackend(t)
	p, err := New(Config{Target: backend.URL}, nil, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/redirect", nil))

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/content/page.html?x=1", rec.Header().Get("Location"))
}

func TestProxyServesClient(t *testing.T) {
	p, err := New(Config{Target: "http://localhost:4502"}, nil, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, ClientScriptPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "javascript")
	assert.Contains(t, rec.Body.String(), WebSocketPath)
}

func TestProxyUnreachableServer(t *testing.T) {
	backend := httptest.NewServer(http.NotFoundHandler())
	backend.Close()

	p, err := New(Config{Name: "author", Target: backend.URL}, nil, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/content/page.html", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "author")
}

func TestNewRejectsInvalidTarget(t *testing.T) {
	_, err := New(Config{Target: "localhost"}, nil, nil, nil)
	assert.Error(t, err)
}

func TestRouterLifecycle(t *testing.T) {
	r := NewRouter("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "ok")
	}))

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx))

	resp, err := http.Get("http://" + r.Addr())
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))

	require.NoError(t, r.Shutdown(ctx))
	require.NoError(t, r.Shutdown(ctx))
	assert.Error(t, r.Start(ctx))

	_, open := <-r.Err()
	assert.False(t, open)
}

func TestRouterPortInUse(t *testing.T) {
	first := NewRouter("127.0.0.1:0", http.NotFoundHandler())
	require.NoError(t, first.Start(context.Background()))
	defer first.Shutdown(context.Background())

	second := NewRouter(first.Addr(), http.NotFoundHandler())
	assert.Error(t, second.Start(context.Background()))
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain{mw("outer"), mw("inner")}.Apply(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}
