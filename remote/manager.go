// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package remote implements the remote cache manager. It binds a URL
// and a local cache directory, downloads new rule containers with
// conditional-request (entity-tag) support, validates and decompresses
// them, atomically swaps the backing file, and drives a contained
// cache.CachedReader's reload.
package remote

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"grimm.is/k2rule/cache"
	"grimm.is/k2rule/container"
	"grimm.is/k2rule/internal/clock"
	kerrors "grimm.is/k2rule/internal/errors"
	"grimm.is/k2rule/internal/logging"
	"grimm.is/k2rule/reader"
	"grimm.is/k2rule/rule"
)

// gzipMagic is the two-byte signature that marks a gzip-compressed
// response body.
var gzipMagic = [2]byte{0x1f, 0x8b}

const (
	// DefaultTimeout is the HTTP deadline for rule provider downloads.
	DefaultTimeout = 60 * time.Second
	// DefaultUpdateInterval is how often UpdateIfNeeded actually fetches.
	DefaultUpdateInterval = 24 * time.Hour
	// defaultMaxBytes bounds a single download, keeping a misbehaving
	// origin from exhausting memory on decode.
	defaultMaxBytes = 256 << 20
)

// Config controls Manager construction.
type Config struct {
	// URL is the remote origin serving the rule container (optionally
	// gzip-compressed).
	URL string
	// CacheDir is the local directory holding the container, its
	// entity-tag file, its metadata sidecar, and transient .tmp file.
	CacheDir string
	// Name is the logical cache name; files are named "<Name>.k2r" etc.
	// Defaults to "rules".
	Name string
	// Timeout bounds each HTTP GET. Defaults to DefaultTimeout.
	Timeout time.Duration
	// UpdateInterval gates UpdateIfNeeded. Defaults to DefaultUpdateInterval.
	UpdateInterval time.Duration
	// MaxBytes bounds a single downloaded (decompressed) payload.
	// Defaults to 256 MiB.
	MaxBytes int64
	// Fallback and CacheCapacity configure the contained CachedReader.
	Fallback      rule.Target
	CacheCapacity int

	Logger     *logging.Logger
	Metrics    *Metrics
	Clock      clock.Clock
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with the default timeout, update
// interval, and cache capacity, matching cache.DefaultConfig's Proxy
// fallback.
func DefaultConfig(url, cacheDir string) Config {
	return Config{
		URL:            url,
		CacheDir:       cacheDir,
		Name:           "rules",
		Timeout:        DefaultTimeout,
		UpdateInterval: DefaultUpdateInterval,
		MaxBytes:       defaultMaxBytes,
		Fallback:       rule.Proxy,
		CacheCapacity:  cache.DefaultCacheCapacity,
	}
}

// Manager is the remote cache manager. Concurrent update()-family
// calls on the same Manager MUST be serialized by the caller -- it
// imposes no internal mutex here, in contrast to the cached reader it
// drives, which is always safe under concurrent queries.
type Manager struct {
	cfg     Config
	client  *http.Client
	clock   clock.Clock
	logger  *logging.Logger
	metrics *Metrics

	reader atomic.Pointer[cache.CachedReader]
}

// New constructs a Manager. It performs no I/O; call Init to load or
// fetch the initial snapshot.
func New(cfg Config) *Manager {
	if cfg.Name == "" {
		cfg.Name = "rules"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = DefaultUpdateInterval
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if !cfg.Fallback.Valid() {
		cfg.Fallback = rule.Proxy
	}
	m := &Manager{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		clock:   cfg.Clock,
		logger:  logging.OrDefault(cfg.Logger),
		metrics: cfg.Metrics,
	}
	if m.client == nil {
		m.client = &http.Client{Timeout: cfg.Timeout}
	}
	if m.clock == nil {
		m.clock = clock.Real
	}
	return m
}

func (m *Manager) rulePath() string { return filepath.Join(m.cfg.CacheDir, m.cfg.Name+".k2r") }
func (m *Manager) etagPath() string { return m.rulePath() + ".etag" }
func (m *Manager) metaPath() string { return m.rulePath() + ".meta" }
func (m *Manager) tmpPath() string  { return m.rulePath() + ".tmp" }

func (m *Manager) cachedReaderConfig() cache.Config {
	return cache.Config{
		CacheCapacity: m.cfg.CacheCapacity,
		Fallback:      m.cfg.Fallback,
		Logger:        m.logger,
	}
}

// Init ensures the cache directory exists, then either installs the
// on-disk container (if present and it opens cleanly) or performs an
// unconditional download.
func (m *Manager) Init(ctx context.Context) error {
	if err := os.MkdirAll(m.cfg.CacheDir, 0o755); err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "create cache dir %q", m.cfg.CacheDir)
	}

	if data, err := os.ReadFile(m.rulePath()); err == nil {
		if r, err2 := cache.FromBytes(data, m.cachedReaderConfig()); err2 == nil {
			m.reader.Store(r)
			m.logger.Info("loaded cached rule container", "path", m.rulePath())
			return nil
		}
		m.logger.Warn("cached rule container failed to open, re-downloading", "path", m.rulePath())
	}

	_, err := m.Update(ctx)
	return err
}

// Update issues a conditional GET including any stored entity-tag as
// If-None-Match. It returns (true, nil) if a new container was
// downloaded, validated, and installed; (false, nil) on a 304
// response ("no update", not an error); and (false, err) on any
// failure, in which case prior state is left entirely intact.
func (m *Manager) Update(ctx context.Context) (bool, error) {
	requestID := uuid.NewString()
	meta := loadMetadata(m.metaPath())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.URL, nil)
	if err != nil {
		return false, kerrors.Wrap(err, kerrors.KindValidation, "build rule update request")
	}
	if meta.ETag != nil && *meta.ETag != "" {
		req.Header.Set("If-None-Match", *meta.ETag)
	}

	m.logger.Info("checking for rule update", "request_id", requestID, "url", m.cfg.URL)

	resp, err := m.client.Do(req)
	if err != nil {
		m.recordError("network")
		return false, kerrors.Wrap(err, kerrors.KindNetwork, "rule update request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if m.metrics != nil {
			m.metrics.UpdatesNotMod.Inc()
		}
		m.logger.Debug("rule container not modified", "request_id", requestID)
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		m.recordError("status")
		return false, kerrors.Errorf(kerrors.KindNetwork, "rule update request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxBytes))
	if err != nil {
		m.recordError("io")
		return false, kerrors.Wrap(err, kerrors.KindUnavailable, "read rule update body")
	}

	payload, err := decompress(body, m.cfg.MaxBytes)
	if err != nil {
		m.recordError("decompress")
		return false, kerrors.Wrap(err, kerrors.KindDecompression, "decompress rule update body")
	}

	if !hasValidContainerMagic(payload) {
		m.recordError("magic")
		return false, kerrors.New(kerrors.KindMalformedContainer, "rule update payload has unrecognized magic")
	}

	if _, err := reader.FromBytes(payload); err != nil {
		m.recordError("install")
		return false, err
	}

	if err := m.writeAtomic(payload); err != nil {
		m.recordError("io")
		return false, err
	}

	if err := m.installSnapshot(payload); err != nil {
		m.recordError("install")
		return false, err
	}

	m.writeSidecars(resp.Header.Get("ETag"))

	if m.metrics != nil {
		m.metrics.UpdatesApplied.Inc()
		m.metrics.LastUpdateUnixTS.Set(float64(m.clock.Now().Unix()))
	}
	m.logger.Info("applied rule update", "request_id", requestID, "generation", m.Generation())
	return true, nil
}

// UpdateIfNeeded calls Update only if the configured interval has
// elapsed since the last successful update (or there is no recorded
// last-update time).
func (m *Manager) UpdateIfNeeded(ctx context.Context) (bool, error) {
	meta := loadMetadata(m.metaPath())
	if meta.LastUpdated != nil {
		elapsed := m.clock.Now().Sub(time.Unix(*meta.LastUpdated, 0))
		if elapsed < m.cfg.UpdateInterval {
			return false, nil
		}
	}
	return m.Update(ctx)
}

func (m *Manager) writeAtomic(payload []byte) error {
	tmp := m.tmpPath()
	f, err := os.Create(tmp)
	if err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "create temp file %q", tmp)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "write temp file %q", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "fsync temp file %q", tmp)
	}
	if err := f.Close(); err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "close temp file %q", tmp)
	}
	// rename happens on the same filesystem as the temp file: both
	// live directly in CacheDir.
	if err := os.Rename(tmp, m.rulePath()); err != nil {
		return kerrors.Wrapf(err, kerrors.KindUnavailable, "rename %q into place", tmp)
	}
	return nil
}

func (m *Manager) installSnapshot(payload []byte) error {
	if r := m.reader.Load(); r != nil {
		_, err := r.ReloadFromBytes(payload)
		return err
	}
	r, err := cache.FromBytes(payload, m.cachedReaderConfig())
	if err != nil {
		return err
	}
	m.reader.Store(r)
	return nil
}

func (m *Manager) writeSidecars(etag string) {
	now := m.clock.Now().Unix()
	meta := Metadata{LastUpdated: &now}
	if etag != "" {
		meta.ETag = &etag
		if err := os.WriteFile(m.etagPath(), []byte(etag), 0o644); err != nil {
			m.logger.Warn("failed to write etag sidecar", "error", err)
		}
	}
	if err := saveMetadata(m.metaPath(), meta); err != nil {
		m.logger.Warn("failed to write metadata sidecar", "error", err)
	}
}

func (m *Manager) recordError(kind string) {
	if m.metrics != nil {
		m.metrics.UpdateErrors.WithLabelValues(kind).Inc()
	}
}

func decompress(body []byte, maxBytes int64) ([]byte, error) {
	if len(body) < 2 || body[0] != gzipMagic[0] || body[1] != gzipMagic[1] {
		return body, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return io.ReadAll(io.LimitReader(gz, maxBytes))
}

func hasValidContainerMagic(data []byte) bool {
	if len(data) < 8 {
		return false
	}
	return bytes.Equal(data[0:8], container.V1Magic[:]) || bytes.Equal(data[0:8], container.V2Magic[:])
}

// Generation reports the contained CachedReader's generation, or 0 if
// no snapshot has been installed yet.
func (m *Manager) Generation() int64 {
	if r := m.reader.Load(); r != nil {
		return r.Generation()
	}
	return 0
}

// MatchDomain delegates to the contained CachedReader. If Init has
// never successfully installed a snapshot (no cached file and the
// initial download failed), it returns the configured fallback for
// every input.
func (m *Manager) MatchDomain(query string) rule.Target {
	if r := m.reader.Load(); r != nil {
		return r.MatchDomain(query)
	}
	return m.cfg.Fallback
}

// MatchIP delegates to the contained CachedReader, or returns the
// fallback if no snapshot is installed.
func (m *Manager) MatchIP(addr netip.Addr) rule.Target {
	if r := m.reader.Load(); r != nil {
		return r.MatchIP(addr)
	}
	return m.cfg.Fallback
}

// MatchInput delegates to the contained CachedReader, or returns the
// fallback if no snapshot is installed.
func (m *Manager) MatchInput(query string) rule.Target {
	if r := m.reader.Load(); r != nil {
		return r.MatchInput(query)
	}
	return m.cfg.Fallback
}

// MatchGeoIP delegates to the contained CachedReader, or returns the
// fallback if no snapshot is installed.
func (m *Manager) MatchGeoIP(code string) rule.Target {
	if r := m.reader.Load(); r != nil {
		return r.MatchGeoIP(code)
	}
	return m.cfg.Fallback
}

// CacheStats returns the contained CachedReader's cache statistics, or
// a zero value if no snapshot is installed.
func (m *Manager) CacheStats() cache.Stats {
	if r := m.reader.Load(); r != nil {
		return r.CacheStats()
	}
	return cache.Stats{}
}
