package tracer

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/conneroisu/aemfed/internal/logging"
	"github.com/conneroisu/aemfed/internal/remote"
)

const (
	bundleSymbolicName = "org.apache.sling.tracer"
	configPID          = "org.apache.sling.tracer.internal.LogTracer"
	minBundleVersion   = ">= 1.0.0"
)

// ConfigPath is the console page holding the tracer configuration.
const ConfigPath = "/system/console/configMgr/" + configPID

// BundleInfo describes the installed tracer bundle.
type BundleInfo struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	SymbolicName string `json:"symbolicName"`
	Version      string `json:"version"`
	State        string `json:"state"`
}

// Supported reports whether the bundle can record traces over HTTP. Only
// 1.0.0 and later ship the recording servlet.
func (b *BundleInfo) Supported() bool {
	v, err := semver.NewVersion(b.Version)
	if err != nil {
		// OSGi qualifiers do not always parse. Only 0.0.2 is known to lack the servlet.
		return b.Version != "0.0.2"
	}
	c, err := semver.NewConstraint(minBundleVersion)
	if err != nil {
		return false
	}
	return c.Check(v)
}

// Settings is the tracer configuration of a server.
type Settings struct {
	Enabled                      bool
	ServletEnabled               bool
	RecordingCacheSizeInMB       int
	RecordingCacheDurationInSecs int
	RecordingCompressionEnabled  bool
	GzipResponse                 bool
}

// Active reports whether traces are recorded and served.
func (s *Settings) Active() bool {
	return s.Enabled && s.ServletEnabled
}

// FetchBundle returns the installed tracer bundle, or nil when it is not
// installed.
func FetchBundle(ctx context.Context, client *http.Client, server string) (*BundleInfo, error) {
	var doc struct {
		Data []BundleInfo `json:"data"`
	}
	url := server + "/system/console/bundles/" + bundleSymbolicName + ".json"
	if err := remote.GetJSON(ctx, client, url, &doc); err != nil {
		return nil, err
	}
	if len(doc.Data) == 0 || doc.Data[0].SymbolicName != bundleSymbolicName {
		return nil, nil
	}
	return &doc.Data[0], nil
}

type osgiProperty struct {
	Value interface{} `json:"value"`
}

// FetchSettings returns the tracer configuration, or nil when the server
// has none. Default values come back as strings and are converted.
func FetchSettings(ctx context.Context, client *http.Client, server string, now time.Time) (*Settings, error) {
	var doc struct {
		Properties map[string]osgiProperty `json:"properties"`
	}
	buster := strconv.FormatInt(now.UnixMilli()%1000, 10)
	url := server + ConfigPath + "?post=true&ts=" + buster
	if err := remote.GetJSON(ctx, client, url, &doc); err != nil {
		return nil, err
	}
	if len(doc.Properties) == 0 {
		return nil, nil
	}

	p := doc.Properties
	return &Settings{
		Enabled:                      toBool(p["enabled"].Value),
		ServletEnabled:               toBool(p["servletEnabled"].Value),
		RecordingCacheSizeInMB:       toInt(p["recordingCacheSizeInMB"].Value),
		RecordingCacheDurationInSecs: toInt(p["recordingCacheDurationInSecs"].Value),
		RecordingCompressionEnabled:  toBool(p["recordingCompressionEnabled"].Value),
		GzipResponse:                 toBool(p["gzipResponse"].Value),
	}, nil
}

// Status is the result of CheckServer.
type Status struct {
	Bundle   *BundleInfo
	Settings *Settings
}

// Ready reports whether the server will serve traces.
func (s *Status) Ready() bool {
	return s.Bundle != nil && s.Bundle.Supported() && s.Settings != nil && s.Settings.Active()
}

// CheckServer verifies that the tracer bundle is recent enough and enabled,
// logging what the user has to change otherwise.
func CheckServer(ctx context.Context, client *http.Client, server string, logger logging.Logger) (*Status, error) {
	if client == nil {
		client = remote.NewClient()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.WithComponent("tracer").With("server", remote.Host(server))

	status := &Status{}
	bundle, err := FetchBundle(ctx, client, server)
	if err != nil {
		return status, err
	}
	status.Bundle = bundle

	if bundle == nil || !bundle.Supported() {
		reason := "not installed"
		if bundle != nil {
			reason = fmt.Sprintf("too old (version %s)", bundle.Version)
		}
		logger.Warn(ctx, nil, "Apache Sling Log Tracer bundle is "+reason+
			". At least version 1.0.0 is needed to show compile errors from the server")
		return status, nil
	}

	settings, err := FetchSettings(ctx, client, server, time.Now())
	if err != nil {
		return status, err
	}
	status.Settings = settings

	switch {
	case settings == nil:
		logger.Warn(ctx, nil, "Apache Sling Log Tracer config was not found")
	case !settings.Active():
		logger.Warn(ctx, nil, "Apache Sling Log Tracer is not enabled, so Less and JavaScript errors cannot be shown. "+
			"Turn on both 'Enabled' and 'Recording Servlet Enabled'",
			"url", remote.Redact(server+ConfigPath))
	}
	return status, nil
}

func toBool(v interface{}) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	default:
		return false
	}
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}
