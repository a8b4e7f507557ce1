// Package health probes every configured storage credential and keeps the
// latest result per credential.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/repostore/internal/logging"
	"github.com/dmitrijs2005/repostore/internal/server/blobstore"
	"github.com/dmitrijs2005/repostore/internal/server/metrics"
	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusOK          Status = "OK"
	StatusUnreachable Status = "UNREACHABLE"
)

// SentinelPath is the object whose existence check serves as the probe.
const SentinelPath = ".repostore-health"

// Probe checks one store. It may block; the monitor bounds it by Timeout.
type Probe func(ctx context.Context, store blobstore.BlobStore) error

// ExistsProbe asks the store whether the sentinel object exists. Any answer
// counts as reachable.
func ExistsProbe(ctx context.Context, store blobstore.BlobStore) error {
	_, err := store.Exists(ctx, SentinelPath)
	return err
}

type Monitor struct {
	stores   *blobstore.Registry
	probe    Probe
	timeout  time.Duration
	interval time.Duration
	metrics  metrics.Recorder
	log      logging.Logger

	mu   sync.RWMutex
	last map[string]Status
}

func NewMonitor(stores *blobstore.Registry, timeout, interval time.Duration, rec metrics.Recorder, log logging.Logger) *Monitor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &Monitor{
		stores:   stores,
		probe:    ExistsProbe,
		timeout:  timeout,
		interval: interval,
		metrics:  rec,
		log:      log.With("component", "health"),
		last:     make(map[string]Status),
	}
}

// CheckHealth probes one credential. It never fails: unknown keys, errors,
// panics and probes slower than the timeout all report StatusUnreachable.
func (m *Monitor) CheckHealth(ctx context.Context, credentialsKey string) Status {
	key := credentialsKey
	store, err := m.stores.Get(&key)
	if err != nil {
		return StatusUnreachable
	}

	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- m.probe(pctx, store)
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Debug(ctx, "health probe failed", "credentials_key", credentialsKey, "error", err)
			return StatusUnreachable
		}
		return StatusOK
	case <-pctx.Done():
		m.log.Debug(ctx, "health probe timed out", "credentials_key", credentialsKey)
		return StatusUnreachable
	}
}

// CheckAll probes every registered credential concurrently and records the
// results.
func (m *Monitor) CheckAll(ctx context.Context) map[string]Status {
	keys := m.stores.Keys()
	results := make([]Status, len(keys))

	var g errgroup.Group
	for i, key := range keys {
		g.Go(func() error {
			results[i] = m.CheckHealth(ctx, key)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]Status, len(keys))
	m.mu.Lock()
	for i, key := range keys {
		prev, seen := m.last[key]
		if !seen || prev != results[i] {
			m.log.Info(ctx, "storage health changed", "credentials_key", key, "status", results[i])
		}
		m.last[key] = results[i]
		out[key] = results[i]
	}
	m.mu.Unlock()

	for key, s := range out {
		m.metrics.HealthStatus(ctx, key, s == StatusOK)
	}
	return out
}

// Run probes all credentials every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		m.CheckAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Snapshot returns the statuses of the last cycle.
func (m *Monitor) Snapshot() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.last))
	for k, v := range m.last {
		out[k] = v
	}
	return out
}
