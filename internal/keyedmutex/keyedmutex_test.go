package keyedmutex

import (
	"errors"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDoSerializesSameKey(t *testing.T) {
	m := New()

	const workers = 64
	counter := 100
	ids := make([]int, 0, workers)
	var idsMu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do("minKey:song", func() error {
				id := counter
				runtime.Gosched()
				counter = id + 1

				idsMu.Lock()
				ids = append(ids, id)
				idsMu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	sort.Ints(ids)
	require.Len(t, ids, workers)
	for i, id := range ids {
		require.Equal(t, 100+i, id)
	}
	require.Equal(t, 100+workers, counter)
	require.Zero(t, m.Len())
}

func TestDifferentKeysDoNotBlock(t *testing.T) {
	m := New()

	unlockA := m.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		_ = m.Do("b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("lock on b blocked behind a")
	}
}

func TestSameKeyWaitsForRelease(t *testing.T) {
	m := New()

	unlock := m.Lock("file")
	acquired := make(chan struct{})
	go func() {
		_ = m.Do("file", func() error {
			close(acquired)
			return nil
		})
	}()

	select {
	case <-acquired:
		t.Fatal("second holder entered while key was locked")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, m.Len())

	unlock()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second holder never acquired the key")
	}
}

func TestDoReturnsErrorAndReleases(t *testing.T) {
	m := New()
	boom := errors.New("boom")

	err := m.Do("k", func() error { return boom })
	require.ErrorIs(t, err, boom)
	require.Zero(t, m.Len())

	// key is usable again
	require.NoError(t, m.Do("k", func() error { return nil }))
}

func TestUnlockIsIdempotent(t *testing.T) {
	m := New()
	unlock := m.Lock("k")
	unlock()
	unlock()
	require.Zero(t, m.Len())
}
