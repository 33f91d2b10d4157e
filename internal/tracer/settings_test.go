package tracer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBundleSupported(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{"0.0.2", false},
		{"0.9.0", false},
		{"1.0.0", true},
		{"2.1.0", true},
		{"1.0.2.SNAPSHOT", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, (&BundleInfo{Version: tt.version}).Supported())
		})
	}
}

type consoleStub struct {
	bundle   string
	settings string
}

func (c consoleStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/system/console/bundles/" + bundleSymbolicName + ".json":
		fmt.Fprint(w, c.bundle)
	case ConfigPath:
		if r.URL.Query().Get("post") != "true" || r.URL.Query().Get("ts") == "" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, c.settings)
	default:
		http.NotFound(w, r)
	}
}

const installedBundle = `{"data":[{"id":301,"name":"Apache Sling Log Tracer",
	"symbolicName":"org.apache.sling.tracer","version":"1.0.6","state":"Active"}]}`

func TestFetchSettingsCoercesDefaults(t *testing.T) {
	srv := httptest.NewServer(consoleStub{settings: `{"properties":{
		"enabled":{"value":"true"},
		"servletEnabled":{"value":true},
		"recordingCacheSizeInMB":{"value":"50"},
		"recordingCacheDurationInSecs":{"value":900},
		"gzipResponse":{"value":"false"}}}`})
	defer srv.Close()

	settings, err := FetchSettings(context.Background(), srv.Client(), srv.URL, time.UnixMilli(1234))
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.True(t, settings.Enabled)
	assert.True(t, settings.ServletEnabled)
	assert.True(t, settings.Active())
	assert.Equal(t, 50, settings.RecordingCacheSizeInMB)
	assert.Equal(t, 900, settings.RecordingCacheDurationInSecs)
	assert.False(t, settings.GzipResponse)
	assert.False(t, settings.RecordingCompressionEnabled)
}

func TestCheckServer(t *testing.T) {
	tests := map[string]struct {
		stub  consoleStub
		ready bool
	}{
		"ready": {
			stub:  consoleStub{bundle: installedBundle, settings: `{"properties":{"enabled":{"value":true},"servletEnabled":{"value":true}}}`},
			ready: true,
		},
		"servlet disabled": {
			stub: consoleStub{bundle: installedBundle, settings: `{"properties":{"enabled":{"value":true},"servletEnabled":{"value":false}}}`},
		},
		"no config": {
			stub: consoleStub{bundle: installedBundle, settings: `{}`},
		},
		"not installed": {
			stub: consoleStub{bundle: `{"data":[]}`},
		},
		"too old": {
			stub: consoleStub{bundle: `{"data":[{"symbolicName":"org.apache.sling.tracer","version":"0.0.2"}]}`},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(tt.stub)
			defer srv.Close()

			status, err := CheckServer(context.Background(), srv.Client(), srv.URL, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.ready, status.Ready())
		})
	}
}

func TestCheckServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	status, err := CheckServer(context.Background(), nil, srv.URL, nil)
	assert.Error(t, err)
	assert.False(t, status.Ready())
}
