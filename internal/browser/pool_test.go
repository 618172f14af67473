package browser

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	mu        sync.Mutex
	navCalls  int
	closed    int
	page      *Page
	navErr    error
	lastURL   string
	lastIdent identity
}

func (f *fakeEngine) navigate(_ context.Context, url string, _ time.Duration, id identity, _ RedirectFunc) (*Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.navCalls++
	f.lastURL = url
	f.lastIdent = id
	if f.navErr != nil {
		return nil, f.navErr
	}
	return f.page, nil
}

func (f *fakeEngine) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func newTestPool(t *testing.T, size int, eng engine, engErr error) (*Pool, *int32) {
	t.Helper()
	pool, err := NewPool(Config{Mode: ModeHTTP, Size: size}, zap.NewNop())
	require.NoError(t, err)
	var builds int32
	pool.newEngine = func(Config, *zap.Logger) (engine, error) {
		atomic.AddInt32(&builds, 1)
		if engErr != nil {
			return nil, engErr
		}
		return eng, nil
	}
	return pool, &builds
}

func TestPoolAcquireNavigateRelease(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{HTML: "<html></html>", FinalURL: "https://example.com/", StatusCode: 200}}
	pool, builds := newTestPool(t, 2, eng, nil)
	defer pool.Close()

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	page, err := sess.Navigate(context.Background(), "https://example.com", 10*time.Second, nil)
	require.NoError(t, err)
	require.Equal(t, 200, page.StatusCode)
	require.Equal(t, "https://example.com", eng.lastURL)
	require.NotEmpty(t, sess.UserAgent())
	require.Equal(t, sess.UserAgent(), eng.lastIdent.UserAgent)

	sess.Release()
	require.Equal(t, int32(1), atomic.LoadInt32(builds))
}

func TestPoolLazyInitOnce(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{StatusCode: 200}}
	pool, builds := newTestPool(t, 3, eng, nil)
	defer pool.Close()

	for i := 0; i < 3; i++ {
		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		sess.Release()
	}
	require.Equal(t, int32(1), atomic.LoadInt32(builds))
}

func TestPoolAcquireBlocksUntilRelease(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{StatusCode: 200}}
	pool, _ := newTestPool(t, 1, eng, nil)
	defer pool.Close()

	first, err := pool.Acquire(context.Background())
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		sess, err := pool.Acquire(context.Background())
		require.NoError(t, err)
		sess.Release()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should block while the only slot is held")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second acquire never unblocked after release")
	}
}

func TestPoolAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{StatusCode: 200}}
	pool, _ := newTestPool(t, 1, eng, nil)
	defer pool.Close()

	held, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPoolDoubleReleaseIsNoop(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{StatusCode: 200}}
	pool, _ := newTestPool(t, 1, eng, nil)
	defer pool.Close()

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	sess.Release()
	sess.Release()

	// The pool still holds exactly one slot; a second acquire must succeed
	// and a third must block.
	again, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer again.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(ctx)
	require.Error(t, err)
}

func TestPoolInitFailurePropagates(t *testing.T) {
	t.Parallel()

	boom := errors.New("chrome not found")
	pool, _ := newTestPool(t, 1, nil, boom)
	defer pool.Close()

	_, err := pool.Acquire(context.Background())
	require.ErrorIs(t, err, boom)

	// Failure sticks; later acquires do not retry initialization forever.
	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
}

func TestPoolCloseIdempotent(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{page: &Page{StatusCode: 200}}
	pool, _ := newTestPool(t, 1, eng, nil)

	sess, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	sess.Release()

	pool.Close()
	pool.Close()
	require.Equal(t, 1, eng.closed)

	_, err = pool.Acquire(context.Background())
	require.Error(t, err)
}

func TestNewIdentityWithinViewportBounds(t *testing.T) {
	t.Parallel()

	pool, _ := newTestPool(t, 1, &fakeEngine{page: &Page{StatusCode: 200}}, nil)
	defer pool.Close()

	for i := 0; i < 50; i++ {
		id := newIdentity(pool.rng)
		require.NotEmpty(t, id.UserAgent)
		require.GreaterOrEqual(t, id.Width, 1280)
		require.LessOrEqual(t, id.Width, 1600)
		require.GreaterOrEqual(t, id.Height, 720)
		require.LessOrEqual(t, id.Height, 1000)
	}
}
