package cancel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewFlagIsNotDone(t *testing.T) {
	f := New()
	assert.False(t, f.Done())

	select {
	case <-f.Wait():
		t.Fatal("Wait channel closed before Cancel")
	default:
	}
}

func TestCancelTransitionsOnce(t *testing.T) {
	f := New()

	assert.True(t, f.Cancel(), "first Cancel should perform the transition")
	assert.True(t, f.Done())

	assert.False(t, f.Cancel(), "second Cancel should be a no-op")
	assert.True(t, f.Done(), "flag must never revert")
}

func TestWaitClosedOnCancel(t *testing.T) {
	f := New()

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.Cancel()
	}()

	select {
	case <-f.Wait():
	case <-time.After(time.Second):
		t.Fatal("Wait channel was not closed after Cancel")
	}
	assert.True(t, f.Done())
}

// TestConcurrentCancel is meaningful under -race.
func TestConcurrentCancel(t *testing.T) {
	f := New()

	var wg sync.WaitGroup
	var mu sync.Mutex
	transitions := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if f.Cancel() {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
		go func() {
			defer wg.Done()
			_ = f.Done()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	assert.True(t, f.Done())
}
