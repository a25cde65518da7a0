package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
)

// fakeGate implements WorkbookGate for tests with counters.
type fakeGate struct {
	acquireErr error
	acquires   atomic.Int64
	releases   atomic.Int64
}

func (g *fakeGate) AcquireWorkbook(ctx context.Context) error {
	g.acquires.Add(1)
	return g.acquireErr
}
func (g *fakeGate) ReleaseWorkbook() { g.releases.Add(1) }

func newTestWorkbook() *model.Workbook {
	wb := model.NewWorkbook()
	wb.AddSheet("Sheet1")
	return wb
}

func TestAdoptGetClose(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(2*time.Second, time.Second, gate, time.Now)

	id, err := m.Adopt(context.Background(), newTestWorkbook(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, 1, m.Count())

	h, ok := m.Get(id)
	require.True(t, ok)
	require.Equal(t, id, h.ID)

	require.NoError(t, m.CloseHandle(id))
	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestTTLExpiryAndEviction(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	gate := &fakeGate{}
	m := NewManager(50*time.Millisecond, 5*time.Millisecond, gate, clock)

	_, err := m.Adopt(context.Background(), newTestWorkbook(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Count())

	now.Store(time.Now().Add(200 * time.Millisecond).UnixNano())
	m.EvictExpired()

	require.Equal(t, 0, m.Count())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestGetRefreshesTTL(t *testing.T) {
	var now atomic.Int64
	now.Store(time.Now().UnixNano())
	clock := func() time.Time { return time.Unix(0, now.Load()) }

	m := NewManager(50*time.Millisecond, 5*time.Millisecond, nil, clock)
	id, err := m.Adopt(context.Background(), newTestWorkbook(), nil)
	require.NoError(t, err)

	// Advance almost to expiry, then touch the handle; its TTL resets.
	now.Store(now.Load() + int64(40*time.Millisecond))
	_, ok := m.Get(id)
	require.True(t, ok)

	now.Store(now.Load() + int64(40*time.Millisecond))
	m.EvictExpired()
	require.Equal(t, 1, m.Count(), "Get should have refreshed the TTL past this point")
}

func TestReadWriteLocking(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	id, err := m.Adopt(context.Background(), newTestWorkbook(), nil)
	require.NoError(t, err)

	var r1Acq, r2Acq, wAcq sync.WaitGroup
	r1Acq.Add(1)
	r2Acq.Add(1)
	wAcq.Add(1)

	releaseR1 := make(chan struct{})
	releaseR2 := make(chan struct{})
	writeDone := make(chan struct{})

	go func() {
		err := m.WithRead(id, func(*model.Workbook, *graph.Graph) error {
			r1Acq.Done()
			<-releaseR1
			return nil
		})
		require.NoError(t, err)
	}()

	go func() {
		err := m.WithRead(id, func(*model.Workbook, *graph.Graph) error {
			r2Acq.Done()
			<-releaseR2
			return nil
		})
		require.NoError(t, err)
	}()

	go func() {
		r1Acq.Wait()
		r2Acq.Wait()
		err := m.WithWrite(id, func(*model.Workbook, *graph.Graph) error {
			wAcq.Done()
			return nil
		})
		require.NoError(t, err)
		close(writeDone)
	}()

	ch := make(chan struct{})
	go func() { wAcq.Wait(); close(ch) }()
	select {
	case <-ch:
		t.Fatal("writer should not acquire while readers hold RLock")
	case <-time.After(30 * time.Millisecond):
		// expected: writer is still blocked
	}

	close(releaseR1)
	close(releaseR2)
	<-writeDone
}

func TestOpenGateBusyReleasesNothing(t *testing.T) {
	gate := &fakeGate{acquireErr: context.DeadlineExceeded}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	_, err := m.Open(context.Background(), "sheet.xlsx", func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error) {
		t.Fatal("loader should not run when the gate denies capacity")
		return nil, nil, nil
	})
	require.Error(t, err)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(0), gate.releases.Load())
}

func TestOpenLoaderErrorReleasesGate(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	_, err := m.Open(context.Background(), "corrupt.xlsx", func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error) {
		return nil, nil, fmt.Errorf("malformed package")
	})
	require.Error(t, err)
	require.Equal(t, int64(1), gate.acquires.Load())
	require.Equal(t, int64(1), gate.releases.Load())
}

func TestOpenSuccessRegistersHandle(t *testing.T) {
	gate := &fakeGate{}
	m := NewManager(time.Second, time.Second, gate, time.Now)

	id, err := m.Open(context.Background(), "book.xlsx", func(ctx context.Context, path string) (*model.Workbook, *graph.Graph, error) {
		return newTestWorkbook(), nil, nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, 1, m.Count())
}

func TestCloseHandleUnknownID(t *testing.T) {
	m := NewManager(time.Second, time.Second, nil, time.Now)
	require.ErrorIs(t, m.CloseHandle("nope"), ErrHandleNotFound)
}
