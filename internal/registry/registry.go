// Package registry is the handle-keyed cache of open workbooks: each
// successfully opened workbook gets a UUID handle with an idle TTL, and
// every command-API and scripting-sandbox operation addresses a workbook
// through that handle rather than a raw path (spec.md §5, "Shared-resource
// policy" -- single-owner-per-workbook via a mutex-guarded handle).
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
)

// Handle pairs an in-memory workbook and its dependency graph with the
// bookkeeping needed for idle-TTL eviction and single-owner access.
type Handle struct {
	ID         string
	Workbook   *model.Workbook
	Graph      *graph.Graph
	SourcePath string
	LoadedAt   time.Time
	ExpiresAt  time.Time
	mu         sync.RWMutex
}

// WorkbookGate coordinates capacity for open workbook handles; satisfied by
// internal/runtime.Controller.
type WorkbookGate interface {
	AcquireWorkbook(ctx context.Context) error
	ReleaseWorkbook()
}

// Loader turns a source path into a freshly parsed workbook and its
// dependency graph. Callers supply this (wiring internal/opc,
// internal/offcrypto, and internal/graph together) so this package stays
// decoupled from the package/crypto readers.
type Loader func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error)

// Manager is the TTL-bearing handle cache. One Manager is shared by the
// command API and the scripting sandbox host within a process.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         WorkbookGate
	stopCh       chan struct{}
	cleanupWG    sync.WaitGroup
}

// NewManager constructs a lifecycle manager with a TTL-bearing handle
// cache. ttl and cleanupEvery <= 0 fall back to config defaults; gate may
// be nil (tests, or a caller that enforces capacity elsewhere); clock
// defaults to time.Now.
func NewManager(ttl, cleanupEvery time.Duration, gate WorkbookGate, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultWorkbookIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultWorkbookCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
	}
}

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops every remaining handle.
func (m *Manager) Close(ctx context.Context) error {
	close(m.stopCh)
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.handles {
		delete(m.handles, id)
		if m.gate != nil {
			m.gate.ReleaseWorkbook()
		}
	}
	return nil
}

// ErrHandleNotFound indicates an unknown or expired handle ID.
var ErrHandleNotFound = errors.New("registry: handle not found")

// Open loads path via load, registers a TTL-bearing handle for the result,
// and returns its ID. Workbook capacity is enforced via the gate (when
// configured) before load runs.
func (m *Manager) Open(ctx context.Context, path string, load Loader) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", err
	}

	wb, g, err := load(ctx, path)
	if err != nil {
		m.release()
		return "", err
	}

	id, err := m.adopt(wb, g, path)
	if err != nil {
		m.release()
		return "", err
	}
	return id, nil
}

// Adopt registers an already-constructed workbook/graph pair as a managed
// handle, without going through a Loader. Intended for tests and for
// callers that build a workbook in memory (e.g. "new blank workbook").
func (m *Manager) Adopt(ctx context.Context, wb *model.Workbook, g *graph.Graph) (string, error) {
	if wb == nil {
		return "", fmt.Errorf("registry: nil workbook")
	}
	if err := m.acquire(ctx); err != nil {
		return "", err
	}
	id, err := m.adopt(wb, g, "")
	if err != nil {
		m.release()
		return "", err
	}
	return id, nil
}

func (m *Manager) adopt(wb *model.Workbook, g *graph.Graph, sourcePath string) (string, error) {
	id := uuid.NewString()
	now := m.clock()
	h := &Handle{
		ID:         id,
		Workbook:   wb,
		Graph:      g,
		SourcePath: sourcePath,
		LoadedAt:   now,
		ExpiresAt:  now.Add(m.ttl),
	}
	m.mu.Lock()
	m.handles[id] = h
	m.mu.Unlock()
	return id, nil
}

// Get returns the handle when present and refreshes its idle TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	now := m.clock()
	h.mu.Lock()
	h.ExpiresAt = now.Add(m.ttl)
	h.mu.Unlock()
	return h, true
}

// WithRead obtains a shared read lock for the handle and executes fn.
func (m *Manager) WithRead(id string, fn func(*model.Workbook, *graph.Graph) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.Workbook, h.Graph)
}

// WithWrite obtains an exclusive write lock for the handle and executes fn,
// enforcing single-owner access for the duration of fn.
func (m *Manager) WithWrite(id string, fn func(*model.Workbook, *graph.Graph) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h.Workbook, h.Graph)
}

// CloseHandle removes a handle by ID, releasing capacity via the gate.
func (m *Manager) CloseHandle(id string) error {
	m.mu.Lock()
	h, ok := m.handles[id]
	if ok {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrHandleNotFound
	}
	// Block until any in-flight WithRead/WithWrite call on this handle
	// finishes before releasing workbook capacity; there is no file
	// descriptor to close, only in-memory state to stop sharing.
	h.mu.Lock()
	h.mu.Unlock()
	m.release()
	return nil
}

// EvictExpired drops every handle whose idle TTL has elapsed.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expiredIDs []string

	m.mu.RLock()
	for id, h := range m.handles {
		h.mu.RLock()
		isExpired := now.After(h.ExpiresAt)
		h.mu.RUnlock()
		if isExpired {
			expiredIDs = append(expiredIDs, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expiredIDs {
		m.mu.Lock()
		delete(m.handles, id)
		m.mu.Unlock()
		m.release()
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireWorkbook(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseWorkbook()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return now.After(h.ExpiresAt)
}
