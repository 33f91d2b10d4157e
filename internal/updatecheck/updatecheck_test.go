package updatecheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func releaseServer(t *testing.T, body string) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestIsNewer(t *testing.T) {
	testCases := []struct {
		current, latest string
		newer           bool
		err             bool
	}{
		{"1.2.0", "1.3.0", true, false},
		{"1.2.0", "1.10.0", true, false},
		{"v1.2.0", "1.2.0", false, false},
		{"2.0.0", "1.9.9", false, false},
		{"1.0.0-beta.1", "1.0.0", true, false},
		{"dev", "1.0.0", false, true},
		{"1.0.0", "latest", false, true},
	}

	for _, tc := range testCases {
		t.Run(tc.current+"->"+tc.latest, func(t *testing.T) {
			newer, err := IsNewer(tc.current, tc.latest)
			assert.Equal(t, tc.newer, newer)
			assert.Equal(t, tc.err, err != nil)
		})
	}
}

func TestCheckFetchesAndCaches(t *testing.T) {
	srv, hits := releaseServer(t, `{"latest":"1.4.0","next":"2.0.0-rc.1"}`)
	dir := t.TempDir()
	c := New(Config{URL: srv.URL, CacheDir: dir, Interval: time.Hour}, srv.Client())
	now := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { return now }

	update, err := c.Check(context.Background(), "1.3.2")
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, "1.4.0", update.Latest)
	assert.False(t, update.FromCache)
	assert.Contains(t, update.Message(), "1.4.0")

	data, err := os.ReadFile(c.CachePath())
	require.NoError(t, err)
	assert.JSONEq(t, `{"latest":"1.4.0","lastUpdate":1700000000000}`, string(data))

	now = now.Add(30 * time.Minute)
	update, err = c.Check(context.Background(), "1.3.2")
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.True(t, update.FromCache)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	now = now.Add(time.Hour)
	_, err = c.Check(context.Background(), "1.3.2")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestCheckUpToDate(t *testing.T) {
	srv, _ := releaseServer(t, `{"latest":"1.4.0"}`)
	c := New(Config{URL: srv.URL, CacheDir: t.TempDir()}, srv.Client())

	update, err := c.Check(context.Background(), "1.4.0")
	require.NoError(t, err)
	assert.Nil(t, update)

	update, err = c.Check(context.Background(), "dev")
	require.NoError(t, err)
	assert.Nil(t, update)
}

func TestCheckMissingDistTag(t *testing.T) {
	srv, _ := releaseServer(t, `{"next":"2.0.0"}`)
	c := New(Config{URL: srv.URL, CacheDir: t.TempDir()}, srv.Client())

	_, err := c.Check(context.Background(), "1.0.0")
	assert.Error(t, err)
}

func TestCheckIgnoresCorruptCache(t *testing.T) {
	srv, hits := releaseServer(t, `{"latest":"1.1.0"}`)
	dir := t.TempDir()
	c := New(Config{URL: srv.URL, CacheDir: dir}, srv.Client())
	require.NoError(t, os.WriteFile(c.CachePath(), []byte("{"), 0o644))

	update, err := c.Check(context.Background(), "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, update)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestNewDefaults(t *testing.T) {
	c := New(Config{}, nil)
	assert.Equal(t, DefaultURL, c.cfg.URL)
	assert.Equal(t, DefaultInterval, c.cfg.Interval)
	assert.Contains(t, c.CachePath(), "aemfed-latest.json")
}
