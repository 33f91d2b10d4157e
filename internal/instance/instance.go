// Package instance ties together everything that serves one target server:
// its client library index, line mapper, tracer, proxy and browser hub.
package instance

import (
	"fmt"
	"net/http"

	"github.com/charmbracelet/lipgloss"

	"github.com/conneroisu/aemfed/internal/clientlib"
	"github.com/conneroisu/aemfed/internal/jsmap"
	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/proxy"
	"github.com/conneroisu/aemfed/internal/reload"
	"github.com/conneroisu/aemfed/internal/remote"
	"github.com/conneroisu/aemfed/internal/styletree"
	"github.com/conneroisu/aemfed/internal/tracer"
	"github.com/conneroisu/aemfed/internal/websocket"
)

// Instance is one target server and the proxy in front of it.
type Instance struct {
	// Name is the host[:port] of the server, which is also the key push
	// results are reported under.
	Name   string
	Server string
	Port   int

	Index       *clientlib.Index
	Mapper      *jsmap.Mapper
	Tracer      *tracer.Tracer
	Browser     *websocket.Manager
	Proxy       *proxy.Proxy
	Coordinator *reload.Coordinator

	// Status is the tracer check result, nil until Init has run.
	Status *tracer.Status
	// Online is false when the client library index could not be loaded.
	Online bool
}

type instanceDeps struct {
	roots    []string
	port     int
	dumpLibs string
	tracer   tracer.Config
	forest   *styletree.Forest
	client   *http.Client
	renderer *lipgloss.Renderer
	logger   logging.Logger
}

func newInstance(server string, deps instanceDeps) (*Instance, error) {
	name := remote.Host(server)

	index := clientlib.NewIndex(clientlib.Config{
		Name:         name,
		Server:       server,
		DumpLibsPath: deps.dumpLibs,
	}, deps.client, deps.logger)
	mapper := jsmap.NewMapper(server, index, deps.client, deps.logger)

	tcfg := deps.tracer
	tcfg.Name = name
	tcfg.Server = server
	tcfg.Roots = deps.roots
	tcfg.Renderer = deps.renderer
	tr := tracer.New(tcfg, mapper, deps.client, deps.logger)

	browser := websocket.NewManager(websocket.LocalOrigins{Port: deps.port}, deps.logger.With("server", name))

	p, err := proxy.New(proxy.Config{
		Name:   name,
		Target: server,
		Addr:   fmt.Sprintf(":%d", deps.port),
	}, tr, http.HandlerFunc(browser.HandleWebSocket), deps.logger)
	if err != nil {
		return nil, err
	}

	coordinator := reload.NewCoordinator(reload.Options{
		Name:    name,
		Roots:   deps.roots,
		Styles:  deps.forest,
		Libs:    index,
		Caches:  mapper,
		Browser: browser,
		Logger:  deps.logger,
	})

	return &Instance{
		Name:        name,
		Server:      server,
		Port:        deps.port,
		Index:       index,
		Mapper:      mapper,
		Tracer:      tr,
		Browser:     browser,
		Proxy:       p,
		Coordinator: coordinator,
	}, nil
}

// URL returns the address browsers use to reach the proxy.
func (i *Instance) URL() string {
	return fmt.Sprintf("http://localhost:%d", i.Port)
}
