package httpio

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AcquireRespectsLimit(t *testing.T) {
	m := NewManager(EndpointOptions{Host: "example.com", MaxConnections: 2})

	ctx := context.Background()
	c1, err := m.Acquire(ctx)
	require.NoError(t, err)
	c2, err := m.Acquire(ctx)
	require.NoError(t, err)

	// Third acquisition must block until a release.
	acquired := make(chan Connection, 1)
	go func() {
		c, err := m.Acquire(ctx)
		if err == nil {
			acquired <- c
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire should have blocked at the limit")
	case <-time.After(50 * time.Millisecond):
	}

	m.Release(c1, false)

	select {
	case c3 := <-acquired:
		m.Release(c3, false)
	case <-time.After(time.Second):
		t.Fatal("acquire did not wake after release")
	}

	m.Release(c2, false)
}

func TestManager_AcquireHonorsContext(t *testing.T) {
	m := NewManager(EndpointOptions{Host: "example.com", MaxConnections: 1})

	c1, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer m.Release(c1, false)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = m.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManager_ShutdownFiresWhenIdle(t *testing.T) {
	m := NewManager(EndpointOptions{Host: "example.com", MaxConnections: 1})

	done := make(chan struct{})
	m.Shutdown(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback did not fire on idle manager")
	}
}

func TestManager_ShutdownWaitsForOutstanding(t *testing.T) {
	m := NewManager(EndpointOptions{Host: "example.com", MaxConnections: 1})

	conn, err := m.Acquire(context.Background())
	require.NoError(t, err)

	var mu sync.Mutex
	fired := false
	m.Shutdown(func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})

	mu.Lock()
	assert.False(t, fired, "shutdown must wait for outstanding connections")
	mu.Unlock()

	m.Release(conn, false)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired
	}, time.Second, 10*time.Millisecond)
}

func TestManager_ConcurrentAcquireRelease(t *testing.T) {
	m := NewManager(EndpointOptions{Host: "example.com", MaxConnections: 4})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := m.Acquire(context.Background())
			if err != nil {
				return
			}
			time.Sleep(time.Millisecond)
			m.Release(conn, false)
		}()
	}
	wg.Wait()
}
