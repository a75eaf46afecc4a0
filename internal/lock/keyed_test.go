package lock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := k.Acquire("file-1")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}

func TestKeyedIndependentKeys(t *testing.T) {
	k := NewKeyed()

	releaseA := k.Acquire("file-a")
	done := make(chan struct{})
	go func() {
		release := k.Acquire("file-b")
		release()
		close(done)
	}()

	// file-b must not wait on file-a's holder.
	<-done
	releaseA()
}

func TestKeyedReleaseIsIdempotent(t *testing.T) {
	k := NewKeyed()
	release := k.Acquire("user-1")
	release()
	require.NotPanics(t, func() { release() })

	release2 := k.Acquire("user-1")
	release2()
}

func TestKeyedCleansUpEntries(t *testing.T) {
	k := NewKeyed()
	release := k.Acquire("x")
	release()
	k.mu.Lock()
	defer k.mu.Unlock()
	assert.Empty(t, k.entries)
}
