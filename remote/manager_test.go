// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/k2rule/container"
	"grimm.is/k2rule/internal/clock"
	"grimm.is/k2rule/rule"
)

func buildV1(t *testing.T, domain string, target rule.Target) []byte {
	t.Helper()
	r := rule.New()
	require.NoError(t, r.AddDomain(domain, target))
	data, err := container.WriteV1(r, clock.Frozen{})
	require.NoError(t, err)
	return data
}

// etagServer serves a rule container and supports If-None-Match.
func etagServer(t *testing.T, initial []byte) (*httptest.Server, *int32, *string) {
	t.Helper()
	var hits int32
	etag := "v1"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&hits, 1)
		if req.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusOK)
		w.Write(initial)
	}))
	return srv, &hits, &etag
}

func TestManagerInitUnconditionalDownload(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	srv, _, _ := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig(srv.URL, dir)
	m := New(cfg)

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"))

	_, err := os.Stat(filepath.Join(dir, "rules.k2r"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "rules.k2r.meta"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "rules.k2r.etag"))
	require.NoError(t, err)
}

func TestManagerUpdateTwiceIsIdempotentOn304(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	srv, hits, _ := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))

	before, err := os.ReadFile(filepath.Join(dir, "rules.k2r"))
	require.NoError(t, err)
	beforeMeta, err := os.ReadFile(filepath.Join(dir, "rules.k2r.meta"))
	require.NoError(t, err)

	updated, err := m.Update(context.Background())
	require.NoError(t, err)
	assert.False(t, updated, "second update against an unchanged etag must report no update")

	after, err := os.ReadFile(filepath.Join(dir, "rules.k2r"))
	require.NoError(t, err)
	afterMeta, err := os.ReadFile(filepath.Join(dir, "rules.k2r.meta"))
	require.NoError(t, err)

	assert.Equal(t, before, after, "rule file content must be unchanged on 304")
	assert.Equal(t, beforeMeta, afterMeta, "metadata sidecar must be unchanged on 304")
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestManagerUpdateAppliesNewETagOnChange(t *testing.T) {
	data := buildV1(t, "google.com", rule.Proxy)
	srv, _, etag := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, rule.Proxy, m.MatchDomain("google.com"))
	genBefore := m.Generation()

	*etag = "v2"
	newData := buildV1(t, "google.com", rule.Direct)
	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("If-None-Match") == "v2" {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", "v2")
		w.WriteHeader(http.StatusOK)
		w.Write(newData)
	})

	updated, err := m.Update(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"))
	assert.Greater(t, m.Generation(), genBefore)
}

func TestManagerUpdateNon200IsErrorAndLeavesStateIntact(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	srv, _, _ := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))

	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	updated, err := m.Update(context.Background())
	require.Error(t, err)
	assert.False(t, updated)
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"), "old rules remain active after a failed update")
}

func TestManagerUpdateMagicValidationFailureKeepsOldRules(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	srv, _, _ := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))

	srv.Config.Handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("not a rule container"))
	})

	updated, err := m.Update(context.Background())
	require.Error(t, err)
	assert.False(t, updated)
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"))
}

func TestManagerInitFallsBackWhenNoCacheAndDownloadFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig(srv.URL, dir)
	cfg.Fallback = rule.Reject
	m := New(cfg)

	err := m.Init(context.Background())
	require.Error(t, err)
	assert.Equal(t, rule.Reject, m.MatchDomain("anything.example"))
}

func TestManagerInitLoadsExistingCacheWithoutDownloading(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.k2r"), data, 0o644))

	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		hit = true
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))
	assert.False(t, hit, "Init must not hit the network when a valid cached file exists")
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"))
}

func TestManagerUpdateIfNeededRespectsInterval(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	srv, hits, _ := etagServer(t, data)
	defer srv.Close()

	dir := t.TempDir()
	cfg := DefaultConfig(srv.URL, dir)
	m := New(cfg)
	require.NoError(t, m.Init(context.Background()))
	require.Equal(t, int32(1), atomic.LoadInt32(hits))

	updated, err := m.UpdateIfNeeded(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits), "UpdateIfNeeded must not fetch before the interval elapses")
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestManagerGzipResponseIsDecompressed(t *testing.T) {
	data := buildV1(t, "google.com", rule.Direct)
	gz := gzipBytes(t, data)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("ETag", "gz1")
		w.WriteHeader(http.StatusOK)
		w.Write(gz)
	}))
	defer srv.Close()

	dir := t.TempDir()
	m := New(DefaultConfig(srv.URL, dir))
	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, rule.Direct, m.MatchDomain("google.com"))
}
